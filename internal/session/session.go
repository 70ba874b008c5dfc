// Package session implements the periodic flush that turns an adapter's
// in-memory counters into a persisted Session delta and keeps the
// lifetime-state store in sync.
package session

import (
	"fmt"
	"time"

	"github.com/netcensus/netcensus/internal/aggregate"
	"github.com/netcensus/netcensus/internal/daystore"
	"github.com/netcensus/netcensus/internal/lifetimestate"
	"github.com/netcensus/netcensus/internal/models"
)

// baseline is the cumulative counters as of the last flush, used to compute
// this flush's incremental delta.
type baseline struct {
	bytesIn, bytesOut     uint64
	packetsIn, packetsOut uint64
	flushTime             int64
}

// Writer drives the periodic flush for one adapter.
type Writer struct {
	adapterName string
	agg         *aggregate.Aggregator
	days        *daystore.Store
	lifetime    *lifetimestate.Store

	last baseline
}

// NewWriter creates a Writer for adapterName, seeding its baseline from
// whatever cumulative counters were restored from lifetime state (so the
// first flush after a restart reports only genuinely new traffic).
func NewWriter(adapterName string, agg *aggregate.Aggregator, days *daystore.Store, lifetime *lifetimestate.Store, now time.Time) *Writer {
	w := &Writer{adapterName: adapterName, agg: agg, days: days, lifetime: lifetime}
	snap := agg.Snapshot()
	w.last = baseline{
		bytesIn: snap.TotalBytesIn, bytesOut: snap.TotalBytesOut,
		packetsIn: snap.TotalPacketsIn, packetsOut: snap.TotalPacketsOut,
		flushTime: now.Unix(),
	}
	return w
}

// Flush compares current cumulative totals to the last-flush baseline. If
// both directions' deltas are zero, it skips (no Session is written). It
// always pushes the latest cumulative totals into lifetime state,
// regardless of whether a Session was written.
func (w *Writer) Flush(now time.Time) error {
	snap := w.agg.Snapshot()

	deltaIn := snap.TotalBytesIn - w.last.bytesIn
	deltaOut := snap.TotalBytesOut - w.last.bytesOut
	deltaPacketsIn := snap.TotalPacketsIn - w.last.packetsIn
	deltaPacketsOut := snap.TotalPacketsOut - w.last.packetsOut

	if deltaIn != 0 || deltaOut != 0 {
		sess := models.Session{
			AdapterName:     w.adapterName,
			StartTime:       w.last.flushTime,
			EndTime:         now.Unix(),
			Duration:        now.Unix() - w.last.flushTime,
			TotalBytesIn:    deltaIn,
			TotalBytesOut:   deltaOut,
			TotalPacketsIn:  deltaPacketsIn,
			TotalPacketsOut: deltaPacketsOut,
			TrafficData:     snap.History,
			TopHosts:        aggregate.TopHosts(snap.Hosts, 10),
			TopServices:     aggregate.TopServices(snap.Services, 10),
		}
		if err := w.days.AppendSession(sess, now); err != nil {
			return fmt.Errorf("session: append for %s: %w", w.adapterName, err)
		}
	}

	w.last = baseline{
		bytesIn: snap.TotalBytesIn, bytesOut: snap.TotalBytesOut,
		packetsIn: snap.TotalPacketsIn, packetsOut: snap.TotalPacketsOut,
		flushTime: now.Unix(),
	}

	return w.lifetime.UpdateAdapter(w.adapterName, func(a *models.AdapterPersistentState) {
		a.CumulativeBytesIn = snap.TotalBytesIn
		a.CumulativeBytesOut = snap.TotalBytesOut
		a.CumulativePacketsIn = snap.TotalPacketsIn
		a.CumulativePacketsOut = snap.TotalPacketsOut
		a.LifetimeBytesIn = snap.TotalBytesIn
		a.LifetimeBytesOut = snap.TotalBytesOut
		a.WasMonitoringOnExit = true
		a.LastSessionEndTime = now.Unix()
		if snap.SessionStartTime != 0 {
			a.SessionStartTime = snap.SessionStartTime
		}
	}, now)
}

// FinalFlush runs one last Flush (if cumulative totals are positive) on
// stop_monitoring or shutdown, then marks the adapter as no longer
// monitoring in lifetime state. Like any Flush, it writes no Session when
// neither direction changed since the previous flush.
func (w *Writer) FinalFlush(now time.Time) error {
	snap := w.agg.Snapshot()

	if snap.TotalBytesIn > 0 || snap.TotalBytesOut > 0 {
		if err := w.Flush(now); err != nil {
			return err
		}
	}

	return w.lifetime.UpdateAdapter(w.adapterName, func(a *models.AdapterPersistentState) {
		a.WasMonitoringOnExit = false
		a.LastSessionEndTime = now.Unix()
	}, now)
}
