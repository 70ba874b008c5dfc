// Package api exposes netcensus's operation surface — the same small set of
// calls a desktop front end would invoke — as a thin facade over the
// supervisor, day-store, and lifetime-state components.
package api

import (
	"context"
	"time"

	"github.com/netcensus/netcensus/internal/daystore"
	"github.com/netcensus/netcensus/internal/lifetimestate"
	"github.com/netcensus/netcensus/internal/models"
	"github.com/netcensus/netcensus/internal/supervisor"
)

// API wires the supervisor and the day-store into the fixed operation set
// used by both the CLI and (in a full build) the desktop front end.
type API struct {
	sup      *supervisor.Supervisor
	days     *daystore.Store
	lifetime *lifetimestate.Store
}

// New creates an API over already-constructed components.
func New(sup *supervisor.Supervisor, days *daystore.Store, lifetime *lifetimestate.Store) *API {
	return &API{sup: sup, days: days, lifetime: lifetime}
}

// ListAdapters returns every currently usable network adapter.
func (a *API) ListAdapters() []models.Adapter {
	return a.sup.ListAdapters()
}

// StartComprehensive opens a capture worker on every usable adapter that
// isn't already capturing, returning which adapters started and which
// could not be opened (permission denied or a transient driver error).
func (a *API) StartComprehensive(ctx context.Context, now time.Time) (started, failed []string) {
	return a.sup.StartComprehensive(ctx, now)
}

// StopComprehensive stops every adapter currently capturing, flushing each
// one's pending session before it stops.
func (a *API) StopComprehensive(now time.Time) []string {
	return a.sup.StopComprehensive(now)
}

// GetAggregateStats returns the merged view across every adapter present on
// the host: combined lifetime counters and the top-1000 hosts / top-100
// services by bytes.
func (a *API) GetAggregateStats() supervisor.AggregateStats {
	return a.sup.GetAggregateStats()
}

// GetHistory returns one daily summary per date in [startDate, endDate].
func (a *API) GetHistory(startDate, endDate string) ([]models.DailyNetworkSummary, error) {
	return a.days.GetHistory(startDate, endDate)
}

// GetLifetimeTotals returns each adapter's cumulative counters since it was
// first observed.
func (a *API) GetLifetimeTotals() map[string]models.AdapterPersistentState {
	return a.sup.LifetimeTotals()
}

// CheckUncleanShutdown reports whether the previous run appears to have
// terminated without a clean shutdown sequence, as judged from the
// lifetime-state file loaded at startup.
func (a *API) CheckUncleanShutdown(now time.Time) bool {
	return a.lifetime.WasUnexpectedShutdown(now)
}
