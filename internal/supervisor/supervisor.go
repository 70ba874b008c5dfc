package supervisor

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/netcensus/netcensus/internal/aggregate"
	"github.com/netcensus/netcensus/internal/capture"
	"github.com/netcensus/netcensus/internal/classify"
	"github.com/netcensus/netcensus/internal/daystore"
	"github.com/netcensus/netcensus/internal/decode"
	"github.com/netcensus/netcensus/internal/dedup"
	"github.com/netcensus/netcensus/internal/health"
	"github.com/netcensus/netcensus/internal/lifetimestate"
	"github.com/netcensus/netcensus/internal/models"
	"github.com/netcensus/netcensus/internal/session"
)

// State is one adapter's position in the discovery/capture lifecycle
// described by §4.6's state machine.
type State int

const (
	StateUnknown State = iota
	StateActive
	StateCapturing
	StateStopped
	StateRemoved
)

// decodeErrorSampleRate logs roughly 1 in 100 decode errors, per §4.2.
const decodeErrorSampleRate = 100

type worker struct {
	name  string
	state State

	agg    *aggregate.Aggregator
	writer *session.Writer
	handle *capture.Handle

	cancel  context.CancelFunc
	done    chan struct{}
	present bool // seen in the most recent discovery pass

	decodeErrorsTotal   int64
	decodeErrorsSampled int64
	permissionDenied    bool
}

// Supervisor owns discovery and the per-adapter Capture Worker lifecycle.
// It is the only writer to the worker table; readers (statistics, the
// health checker) take a snapshot.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*worker

	dedup    *dedup.Deduper
	days     *daystore.Store
	lifetime *lifetimestate.Store
	healthCk *health.Checker
	logger   *slog.Logger

	captureOpts    capture.Options
	openBackoff    time.Duration
	lastOpenAttempt map[string]time.Time
}

// New creates a Supervisor. dedup, days, and lifetime are shared,
// process-wide leaf dependencies (per §9's "persistence is a leaf
// dependency" resolution).
func New(dd *dedup.Deduper, days *daystore.Store, lifetime *lifetimestate.Store, healthCk *health.Checker, captureOpts capture.Options, openBackoff time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		workers:         make(map[string]*worker),
		dedup:           dd,
		days:            days,
		lifetime:        lifetime,
		healthCk:        healthCk,
		logger:          logger,
		captureOpts:     captureOpts,
		openBackoff:     openBackoff,
		lastOpenAttempt: make(map[string]time.Time),
	}
}

// DiscoveryTick enumerates usable adapters and reconciles the worker table:
// new adapters move Unknown -> Active and attempt to open a capture;
// adapters no longer present move toward Stopped -> Removed.
func (s *Supervisor) DiscoveryTick(ctx context.Context, now time.Time) error {
	adapters, err := Discover()
	if err != nil {
		return err
	}

	s.mu.Lock()
	seen := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		seen[a.Name] = true
		w, ok := s.workers[a.Name]
		if !ok {
			w = &worker{name: a.Name, state: StateUnknown}
			s.workers[a.Name] = w
			s.logger.Info("adapter discovered", slog.String("adapter", a.Name))
		}
		w.present = true
	}

	for name, w := range s.workers {
		if !seen[name] {
			w.present = false
		}
	}
	toOpen := make([]string, 0)
	toStop := make([]string, 0)
	for name, w := range s.workers {
		switch w.state {
		case StateUnknown, StateActive:
			if w.present {
				toOpen = append(toOpen, name)
			}
		case StateCapturing:
			if !w.present {
				toStop = append(toStop, name)
			}
		case StateStopped:
			if !w.present {
				w.state = StateRemoved
				if w.agg != nil {
					w.agg.SetMonitoring(false, false, now)
				}
			}
		}
	}
	s.mu.Unlock()

	for _, name := range toOpen {
		s.tryOpen(ctx, name, now)
	}
	for _, name := range toStop {
		s.stopWorker(name, now)
	}

	return nil
}

func (s *Supervisor) tryOpen(ctx context.Context, name string, now time.Time) {
	s.mu.Lock()
	last, attempted := s.lastOpenAttempt[name]
	if attempted && now.Sub(last) < s.openBackoff {
		s.mu.Unlock()
		return
	}
	s.lastOpenAttempt[name] = now
	s.mu.Unlock()

	handle, err := capture.Open(name, s.captureOpts)
	if err != nil {
		s.mu.Lock()
		w := s.workers[name]
		if w != nil {
			w.state = StateActive
			w.permissionDenied = capture.IsPermissionError(err)
		}
		s.mu.Unlock()
		if capture.IsPermissionError(err) {
			s.logger.Warn("capture permission denied, will retry", slog.String("adapter", name))
		} else {
			s.logger.Warn("failed to open adapter, will retry", slog.String("adapter", name), slog.Any("error", err))
		}
		return
	}

	s.mu.Lock()
	w := s.workers[name]
	w.state = StateCapturing
	w.permissionDenied = false
	if w.agg == nil {
		w.agg = aggregate.New(name, name, s.signalActivity)
	}
	if bytesIn, bytesOut, packetsIn, packetsOut, ok := s.restoredLifetime(name); ok {
		w.agg.RestoreLifetime(bytesIn, bytesOut, packetsIn, packetsOut)
	}
	w.agg.SetMonitoring(true, true, now)
	if w.writer == nil {
		w.writer = session.NewWriter(name, w.agg, s.days, s.lifetime, now)
	}
	w.handle = handle
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("monitoring started", slog.String("adapter", name))
	go s.runWorker(ctx, name)
}

func (s *Supervisor) restoredLifetime(name string) (bytesIn, bytesOut, packetsIn, packetsOut uint64, ok bool) {
	state := s.lifetime.AdapterState(name)
	if state == nil {
		return 0, 0, 0, 0, false
	}
	return state.CumulativeBytesIn, state.CumulativeBytesOut, state.CumulativePacketsIn, state.CumulativePacketsOut, true
}

// signalActivity is the aggregator's activity callback (throttled to once
// per second by the aggregator itself). It pushes an immediate health update
// for the adapter so "last packet" bookkeeping reflects live traffic instead
// of waiting for the next discovery tick's RefreshHealth pass.
func (s *Supervisor) signalActivity(adapterName string) {
	if s.healthCk == nil {
		return
	}

	s.mu.Lock()
	w := s.workers[adapterName]
	if w == nil {
		s.mu.Unlock()
		return
	}
	active := w.state == StateCapturing
	permissionDenied := w.permissionDenied
	decodeTotal := w.decodeErrorsTotal
	decodeSampled := w.decodeErrorsSampled
	s.mu.Unlock()

	s.healthCk.UpdateAdapterStatus(adapterName, active, time.Now(), permissionDenied, decodeTotal, decodeSampled)
}

// runWorker drives one adapter's Capture Worker: read, decode, dedup,
// classify, aggregate, in a tight loop until cancelled or a hard read
// error occurs. A hard error aborts only this worker and leaves the adapter
// Stopped; later discovery ticks do not reopen a Stopped adapter that is
// still present.
func (s *Supervisor) runWorker(ctx context.Context, name string) {
	s.mu.Lock()
	w := s.workers[name]
	handle := w.handle
	agg := w.agg
	done := w.done
	s.mu.Unlock()

	defer close(done)
	defer handle.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := handle.Next()
		if err != nil {
			if err == capture.ErrTimeout {
				continue
			}
			s.logger.Warn("capture read failed, stopping worker", slog.String("adapter", name), slog.Any("error", err))
			s.mu.Lock()
			if w := s.workers[name]; w != nil {
				w.state = StateStopped
			}
			s.mu.Unlock()
			return
		}

		parsed, err := decode.Decode(frame)
		if err != nil {
			if err != decode.ErrSkip {
				s.mu.Lock()
				w.decodeErrorsTotal++
				sampled := rand.Intn(decodeErrorSampleRate) == 0
				if sampled {
					w.decodeErrorsSampled++
				}
				s.mu.Unlock()
				if sampled {
					s.logger.Debug("decode error", slog.String("adapter", name), slog.Any("error", err))
				}
			}
			continue
		}

		parsed.IsOutgoing = classify.IsOutgoing(parsed.SrcIP)

		sig := dedup.Signature(parsed.SrcIP, parsed.DstIP, string(parsed.Protocol), parsed.SrcPort, parsed.DstPort, parsed.TsUsecs)
		if s.dedup.SeenOrRegister(sig, time.Now()) {
			continue
		}

		agg.Apply(parsed, time.Now())
	}
}

func (s *Supervisor) stopWorker(name string, now time.Time) {
	s.mu.Lock()
	w := s.workers[name]
	if w == nil || w.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	writer := w.writer
	agg := w.agg
	s.mu.Unlock()

	cancel()
	if done != nil {
		<-done
	}
	if agg != nil {
		agg.SetMonitoring(false, false, now)
	}
	if writer != nil {
		if err := writer.FinalFlush(now); err != nil {
			s.logger.Error("final flush failed", slog.String("adapter", name), slog.Any("error", err))
		}
	}

	s.mu.Lock()
	if w := s.workers[name]; w != nil {
		w.state = StateStopped
		w.cancel = nil
	}
	s.mu.Unlock()
}

// FlushTick runs the periodic per-adapter session flush for every
// currently capturing adapter.
func (s *Supervisor) FlushTick(now time.Time) {
	s.mu.Lock()
	writers := make(map[string]*session.Writer)
	for name, w := range s.workers {
		if w.state == StateCapturing && w.writer != nil {
			writers[name] = w.writer
		}
	}
	s.mu.Unlock()

	for name, writer := range writers {
		if err := writer.Flush(now); err != nil {
			s.logger.Error("session flush failed", slog.String("adapter", name), slog.Any("error", err))
			if s.healthCk != nil {
				s.healthCk.UpdatePersistenceStatus(name, time.Time{}, err)
			}
		} else if s.healthCk != nil {
			s.healthCk.UpdatePersistenceStatus(name, now, nil)
		}
	}
}

// RefreshHealth pushes each adapter's current capture status into the
// health checker, per §7's user-visible behavior.
func (s *Supervisor) RefreshHealth(now time.Time) {
	if s.healthCk == nil {
		return
	}
	s.mu.Lock()
	type snap struct {
		active           bool
		lastPacketAt     time.Time
		permissionDenied bool
		decodeTotal      int64
		decodeSampled    int64
	}
	snaps := make(map[string]snap)
	for name, w := range s.workers {
		var lastSeen time.Time
		if w.agg != nil {
			m := w.agg.Snapshot()
			if m.LastSeenTime != 0 {
				lastSeen = time.Unix(m.LastSeenTime, 0)
			}
		}
		snaps[name] = snap{
			active:           w.state == StateCapturing,
			lastPacketAt:     lastSeen,
			permissionDenied: w.permissionDenied,
			decodeTotal:      w.decodeErrorsTotal,
			decodeSampled:    w.decodeErrorsSampled,
		}
	}
	s.mu.Unlock()

	for name, sn := range snaps {
		s.healthCk.UpdateAdapterStatus(name, sn.active, sn.lastPacketAt, sn.permissionDenied, sn.decodeTotal, sn.decodeSampled)
	}
}

// ListAdapters returns the current adapter table for the list_adapters
// operation.
func (s *Supervisor) ListAdapters() []models.Adapter {
	adapters, err := Discover()
	if err != nil {
		s.logger.Warn("discovery failed during list_adapters", slog.Any("error", err))
		return nil
	}
	return adapters
}

// StartComprehensive starts one worker per currently usable adapter and
// reports which adapters started versus failed to open.
func (s *Supervisor) StartComprehensive(ctx context.Context, now time.Time) (started, failed []string) {
	if err := s.DiscoveryTick(ctx, now); err != nil {
		s.logger.Error("discovery failed during start_comprehensive", slog.Any("error", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, w := range s.workers {
		if !w.present {
			continue
		}
		if w.state == StateCapturing {
			started = append(started, name)
		} else {
			failed = append(failed, name)
		}
	}
	return started, failed
}

// StopComprehensive stops every currently capturing adapter, triggering a
// final flush for each.
func (s *Supervisor) StopComprehensive(now time.Time) []string {
	s.mu.Lock()
	var names []string
	for name, w := range s.workers {
		if w.state == StateCapturing {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	for _, name := range names {
		s.stopWorker(name, now)
	}
	return names
}

// AggregateStats is the merged view returned by get_aggregate_stats.
type AggregateStats struct {
	TotalBytesIn    uint64
	TotalBytesOut   uint64
	TotalPacketsIn  uint64
	TotalPacketsOut uint64
	TopHosts        []models.NetworkHost
	TopServices     []models.ServiceInfo
}

// GetAggregateStats merges every active adapter's current metrics into one
// view, with the top-1000 hosts and top-100 services by bytes.
func (s *Supervisor) GetAggregateStats() AggregateStats {
	s.mu.Lock()
	snaps := make([]models.AdapterMetrics, 0, len(s.workers))
	for _, w := range s.workers {
		if w.agg != nil && w.present {
			snaps = append(snaps, w.agg.Snapshot())
		}
	}
	s.mu.Unlock()

	allHosts := make(map[string]*models.NetworkHost)
	allServices := make(map[string]*models.ServiceInfo)
	var stats AggregateStats

	for _, snap := range snaps {
		stats.TotalBytesIn += snap.TotalBytesIn
		stats.TotalBytesOut += snap.TotalBytesOut
		stats.TotalPacketsIn += snap.TotalPacketsIn
		stats.TotalPacketsOut += snap.TotalPacketsOut
		for ip, h := range snap.Hosts {
			if existing, ok := allHosts[ip]; ok {
				existing.IncomingBytes += h.IncomingBytes
				existing.OutgoingBytes += h.OutgoingBytes
				existing.IncomingPackets += h.IncomingPackets
				existing.OutgoingPackets += h.OutgoingPackets
			} else {
				cp := *h
				allHosts[ip] = &cp
			}
		}
		for key, svc := range snap.Services {
			if existing, ok := allServices[key]; ok {
				existing.Bytes += svc.Bytes
				existing.Packets += svc.Packets
			} else {
				cp := *svc
				allServices[key] = &cp
			}
		}
	}

	stats.TopHosts = aggregate.TopHosts(allHosts, 1000)
	stats.TopServices = aggregate.TopServices(allServices, 100)

	return stats
}

// LifetimeTotals returns the per-adapter cumulative counters for the
// get_lifetime_totals operation.
func (s *Supervisor) LifetimeTotals() map[string]models.AdapterPersistentState {
	return s.lifetime.LifetimeTotals()
}
