// Package aggregate applies classified packets to one adapter's in-memory
// counters: lifetime totals, a bounded remote-host table, a bounded service
// table, and a rolling traffic-rate history.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/netcensus/netcensus/internal/classify"
	"github.com/netcensus/netcensus/internal/models"
)

const (
	hostCap    = 1000
	serviceCap = 100
	historyCap = 3600

	activitySignalInterval = time.Second
)

// Aggregator is the sole writer of one adapter's AdapterMetrics. Readers
// (statistics snapshotters) take a copy under the read lock.
type Aggregator struct {
	mu      sync.RWMutex
	metrics *models.AdapterMetrics

	onActivity     func(adapterName string)
	lastActivityAt time.Time
}

// New creates an Aggregator for a freshly discovered adapter. onActivity, if
// non-nil, is invoked at most once per second to notify the Health
// component that packets are flowing.
func New(name, displayName string, onActivity func(string)) *Aggregator {
	return &Aggregator{
		metrics: &models.AdapterMetrics{
			Name:        name,
			DisplayName: displayName,
			Hosts:       make(map[string]*models.NetworkHost),
			Services:    make(map[string]*models.ServiceInfo),
		},
		onActivity: onActivity,
	}
}

// RestoreLifetime seeds the adapter's lifetime counters from persisted
// state on startup, before any packet has been applied.
func (a *Aggregator) RestoreLifetime(bytesIn, bytesOut, packetsIn, packetsOut uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.TotalBytesIn = bytesIn
	a.metrics.TotalBytesOut = bytesOut
	a.metrics.TotalPacketsIn = packetsIn
	a.metrics.TotalPacketsOut = packetsOut
}

// SetMonitoring flips the active/monitoring flags and, when starting,
// stamps SessionStartTime.
func (a *Aggregator) SetMonitoring(active, monitoring bool, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.IsActive = active
	a.metrics.IsMonitoring = monitoring
	if monitoring && a.metrics.SessionStartTime == 0 {
		a.metrics.SessionStartTime = now.Unix()
	}
	if !monitoring {
		a.metrics.SessionStartTime = 0
	}
}

// Apply folds one parsed packet into the adapter's counters, in the order
// specified by §4.5: global counters, host table, service table, rate
// history, then an activity signal.
func (a *Aggregator) Apply(p *models.ParsedPacket, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverIfNewDay(now)

	if p.IsOutgoing {
		a.metrics.TotalBytesOut += p.SizeBytes
		a.metrics.TotalPacketsOut++
	} else {
		a.metrics.TotalBytesIn += p.SizeBytes
		a.metrics.TotalPacketsIn++
	}
	a.metrics.LastSeenTime = p.TsSecs

	a.upsertHost(p)
	a.upsertService(p)
	a.appendSample(p.TsSecs)

	if a.onActivity != nil && now.Sub(a.lastActivityAt) >= activitySignalInterval {
		a.lastActivityAt = now
		a.onActivity(a.metrics.Name)
	}
}

// rolloverIfNewDay clears the host/service tables and records the new day
// when the host-local calendar day has advanced, but leaves the adapter's
// lifetime totals and rate history untouched. Must be called with a.mu held.
func (a *Aggregator) rolloverIfNewDay(now time.Time) {
	day := now.Local().Format("2006-01-02")
	if a.metrics.RecordedDay == "" {
		a.metrics.RecordedDay = day
		return
	}
	if a.metrics.RecordedDay == day {
		return
	}
	a.metrics.Hosts = make(map[string]*models.NetworkHost)
	a.metrics.Services = make(map[string]*models.ServiceInfo)
	a.metrics.RecordedDay = day
}

func (a *Aggregator) upsertHost(p *models.ParsedPacket) {
	remoteIP, _, _ := classify.Remote(p)
	if classify.IsInfrastructure(remoteIP) {
		return
	}

	host, ok := a.metrics.Hosts[remoteIP]
	if !ok {
		if len(a.metrics.Hosts) >= hostCap {
			a.evictOldestHost()
		}
		host = &models.NetworkHost{IP: remoteIP, FirstSeen: p.TsSecs}
		a.metrics.Hosts[remoteIP] = host
	}

	if p.IsOutgoing {
		host.OutgoingBytes += p.SizeBytes
		host.OutgoingPackets++
	} else {
		host.IncomingBytes += p.SizeBytes
		host.IncomingPackets++
	}
	host.LastSeen = p.TsSecs
}

func (a *Aggregator) evictOldestHost() {
	var oldestKey string
	var oldestSeen int64
	first := true
	for k, v := range a.metrics.Hosts {
		if first || v.LastSeen < oldestSeen {
			oldestKey, oldestSeen, first = k, v.LastSeen, false
		}
	}
	if !first {
		delete(a.metrics.Hosts, oldestKey)
	}
}

func (a *Aggregator) upsertService(p *models.ParsedPacket) {
	_, remotePort, hasPort := classify.Remote(p)
	if !hasPort {
		return
	}

	key := classify.ServiceKey(p.Protocol, remotePort)
	svc, ok := a.metrics.Services[key]
	if !ok {
		if len(a.metrics.Services) >= serviceCap {
			a.evictSmallestService()
		}
		svc = &models.ServiceInfo{
			Protocol:    p.Protocol,
			Port:        remotePort,
			ServiceName: classify.ServiceName(p.Protocol, remotePort),
		}
		a.metrics.Services[key] = svc
	}
	svc.Bytes += p.SizeBytes
	svc.Packets++
}

// evictSmallestService evicts by least bytes seen, since ServiceInfo has no
// last-seen timestamp; this keeps the table biased toward active services.
func (a *Aggregator) evictSmallestService() {
	var smallestKey string
	var smallestBytes uint64
	first := true
	for k, v := range a.metrics.Services {
		if first || v.Bytes < smallestBytes {
			smallestKey, smallestBytes, first = k, v.Bytes, false
		}
	}
	if !first {
		delete(a.metrics.Services, smallestKey)
	}
}

func (a *Aggregator) appendSample(ts int64) {
	sample := models.TrafficSample{
		Timestamp:  ts,
		BytesIn:    a.metrics.TotalBytesIn,
		BytesOut:   a.metrics.TotalBytesOut,
		PacketsIn:  a.metrics.TotalPacketsIn,
		PacketsOut: a.metrics.TotalPacketsOut,
	}
	a.metrics.History = append(a.metrics.History, sample)
	if len(a.metrics.History) > historyCap {
		a.metrics.History = a.metrics.History[len(a.metrics.History)-historyCap:]
	}
}

// Snapshot returns a deep-enough copy of the adapter's current metrics for
// safe use by a reader after the lock is released.
func (a *Aggregator) Snapshot() models.AdapterMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := *a.metrics
	snap.Hosts = make(map[string]*models.NetworkHost, len(a.metrics.Hosts))
	for k, v := range a.metrics.Hosts {
		h := *v
		snap.Hosts[k] = &h
	}
	snap.Services = make(map[string]*models.ServiceInfo, len(a.metrics.Services))
	for k, v := range a.metrics.Services {
		s := *v
		snap.Services[k] = &s
	}
	snap.History = append([]models.TrafficSample(nil), a.metrics.History...)

	return snap
}

// TopHosts returns up to n hosts sorted descending by total bytes.
func TopHosts(hosts map[string]*models.NetworkHost, n int) []models.NetworkHost {
	all := make([]models.NetworkHost, 0, len(hosts))
	for _, h := range hosts {
		all = append(all, *h)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].IncomingBytes+all[i].OutgoingBytes > all[j].IncomingBytes+all[j].OutgoingBytes
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// TopServices returns up to n services sorted descending by bytes.
func TopServices(services map[string]*models.ServiceInfo, n int) []models.ServiceInfo {
	all := make([]models.ServiceInfo, 0, len(services))
	for _, s := range services {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Bytes > all[j].Bytes
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
