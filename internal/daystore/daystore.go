// Package daystore splits sessions crossing a host-local midnight, maintains
// one JSON summary file per calendar day, and consolidates a day's sessions
// into 30-minute buckets once their count grows past a threshold.
package daystore

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/netcensus/netcensus/internal/backupstore"
	"github.com/netcensus/netcensus/internal/models"
)

const maxSessionDuration = 86400 // seconds; one calendar day

// Store owns one JSON summary file per calendar day under dir.
type Store struct {
	mu                     sync.Mutex
	dir                    string
	backupDir              string
	consolidationThreshold int
	loc                    *time.Location
}

// New creates a Store. consolidationThreshold is the session count above
// which a day's sessions are consolidated into 30-minute buckets (default
// 100, per config).
func New(dir, backupDir string, consolidationThreshold int, loc *time.Location) *Store {
	if consolidationThreshold <= 0 {
		consolidationThreshold = 100
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{dir: dir, backupDir: backupDir, consolidationThreshold: consolidationThreshold, loc: loc}
}

func (s *Store) summaryPath(date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("network-%s.json", date))
}

// Load reads the summary for date, falling through
// primary -> backup -> fresh empty summary, per §4.9's read-fallback policy
// applied identically to day summaries.
func (s *Store) Load(date string) (*models.DailyNetworkSummary, error) {
	path := s.summaryPath(date)

	if summary, err := readSummary(path); err == nil {
		return summary, nil
	}

	if err := backupstore.Restore(path, s.backupDir); err == nil {
		if summary, err := readSummary(path); err == nil {
			return summary, nil
		}
	}

	return &models.DailyNetworkSummary{Date: date, Sessions: []models.Session{}}, nil
}

func readSummary(path string) (*models.DailyNetworkSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var summary models.DailyNetworkSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("daystore: parse %s: %w", path, err)
	}
	return &summary, nil
}

// AppendSession splits sess across any midnights it crosses, appends each
// sub-session to its day's summary, recomputes totals, consolidates if the
// day has grown past the threshold, and writes every touched day
// atomically. A zero-duration session is not written, per the boundary
// behavior in §8.
func (s *Store) AppendSession(sess models.Session, now time.Time) error {
	if sess.Duration <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subSessions := SplitSession(sess, s.loc)

	byDate := make(map[string][]models.Session)
	for _, sub := range subSessions {
		date := time.Unix(sub.StartTime, 0).In(s.loc).Format("2006-01-02")
		byDate[date] = append(byDate[date], sub)
	}

	for date, subs := range byDate {
		summary, err := s.Load(date)
		if err != nil {
			return err
		}
		summary.Sessions = append(summary.Sessions, subs...)

		if len(summary.Sessions) > s.consolidationThreshold {
			summary.Sessions = Consolidate(summary.Sessions)
		}

		recomputeTotals(summary)

		if err := s.writeLocked(summary, now); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) writeLocked(summary *models.DailyNetworkSummary, now time.Time) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("daystore: marshal summary for %s: %w", summary.Date, err)
	}

	path := s.summaryPath(summary.Date)
	if err := backupstore.WriteAtomic(path, data, s.backupDir, now); err != nil {
		return fmt.Errorf("daystore: write %s: %w", path, err)
	}
	return nil
}

// GetHistory returns one summary per date in [startDate, endDate]
// inclusive, sorted ascending, filling any missing day with an empty
// summary. Dates are "YYYY-MM-DD"; an unparseable date is a bad-request
// condition surfaced to the caller, per §7.
func (s *Store) GetHistory(startDate, endDate string) ([]models.DailyNetworkSummary, error) {
	start, err := time.ParseInLocation("2006-01-02", startDate, s.loc)
	if err != nil {
		return nil, fmt.Errorf("daystore: invalid start_date %q: %w", startDate, err)
	}
	end, err := time.ParseInLocation("2006-01-02", endDate, s.loc)
	if err != nil {
		return nil, fmt.Errorf("daystore: invalid end_date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("daystore: end_date %q precedes start_date %q", endDate, startDate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.DailyNetworkSummary
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		summary, err := s.Load(date)
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// SplitSession divides sess into one sub-session per host-local calendar
// day it spans, allocating counters proportionally by the fraction of the
// total duration each sub-session covers. A sub-session's duration is
// capped at 86,400s and re-proportioned if the input is malformed.
func SplitSession(sess models.Session, loc *time.Location) []models.Session {
	start := time.Unix(sess.StartTime, 0).In(loc)
	end := time.Unix(sess.EndTime, 0).In(loc)
	if sess.EndTime == 0 || !end.After(start) {
		end = start.Add(time.Duration(sess.Duration) * time.Second)
	}

	totalDuration := end.Sub(start).Seconds()
	if totalDuration <= 0 {
		return nil
	}

	type span struct {
		start, end time.Time
	}
	var spans []span
	cur := start
	for cur.Before(end) {
		midnight := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		segEnd := end
		if midnight.Before(end) {
			segEnd = midnight
		}
		spans = append(spans, span{cur, segEnd})
		cur = segEnd
	}

	var durations []float64
	sumDurations := 0.0
	for _, sp := range spans {
		d := sp.end.Sub(sp.start).Seconds()
		if d > maxSessionDuration {
			d = maxSessionDuration
		}
		durations = append(durations, d)
		sumDurations += d
	}

	subs := make([]models.Session, 0, len(spans))
	for i, sp := range spans {
		fraction := durations[i] / sumDurations
		sub := models.Session{
			AdapterName:     sess.AdapterName,
			StartTime:       sp.start.Unix(),
			EndTime:         sp.end.Unix(),
			Duration:        int64(math.Round(durations[i])),
			TotalBytesIn:    allocate(sess.TotalBytesIn, fraction),
			TotalBytesOut:   allocate(sess.TotalBytesOut, fraction),
			TotalPacketsIn:  allocate(sess.TotalPacketsIn, fraction),
			TotalPacketsOut: allocate(sess.TotalPacketsOut, fraction),
			TrafficData:     sess.TrafficData,
			TopHosts:        sess.TopHosts,
			TopServices:     sess.TopServices,
		}
		subs = append(subs, sub)
	}

	return subs
}

func allocate(total uint64, fraction float64) uint64 {
	return uint64(math.Round(float64(total) * fraction))
}

// recomputeTotals sums sessions into the summary's aggregate fields and
// recomputes unique_hosts/unique_services as the set-union of top-host IPs
// and top-service keys across all sessions for the day.
func recomputeTotals(summary *models.DailyNetworkSummary) {
	var bytesIn, bytesOut, packetsIn, packetsOut uint64
	var totalDuration int64
	hosts := make(map[string]struct{})
	services := make(map[string]struct{})

	for _, sess := range summary.Sessions {
		bytesIn += sess.TotalBytesIn
		bytesOut += sess.TotalBytesOut
		packetsIn += sess.TotalPacketsIn
		packetsOut += sess.TotalPacketsOut
		totalDuration += sess.Duration
		for _, h := range sess.TopHosts {
			hosts[h.IP] = struct{}{}
		}
		for _, svc := range sess.TopServices {
			services[fmt.Sprintf("%s:%d", svc.Protocol, svc.Port)] = struct{}{}
		}
	}

	summary.TotalBytesIn = bytesIn
	summary.TotalBytesOut = bytesOut
	summary.TotalPacketsIn = packetsIn
	summary.TotalPacketsOut = packetsOut
	summary.TotalDuration = totalDuration
	summary.UniqueHosts = len(hosts)
	summary.UniqueServices = len(services)
}

// Consolidate groups sessions by 30-minute start-time bucket and merges
// each group into one Session. Merged duration is the span between the
// earliest start and latest end in the group — never the sum of per-session
// durations, which would overcount and can exceed 24h (§9's resolved
// open question).
func Consolidate(sessions []models.Session) []models.Session {
	const bucketSeconds = 1800

	buckets := make(map[int64][]models.Session)
	var order []int64
	for _, sess := range sessions {
		bucket := sess.StartTime / bucketSeconds
		if _, ok := buckets[bucket]; !ok {
			order = append(order, bucket)
		}
		buckets[bucket] = append(buckets[bucket], sess)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	merged := make([]models.Session, 0, len(order))
	for _, bucket := range order {
		group := buckets[bucket]
		merged = append(merged, mergeGroup(group))
	}

	return merged
}

func mergeGroup(group []models.Session) models.Session {
	minStart := group[0].StartTime
	maxEnd := group[0].EndTime

	var bytesIn, bytesOut, packetsIn, packetsOut uint64
	hostTotals := make(map[string]*models.NetworkHost)
	serviceTotals := make(map[string]*models.ServiceInfo)

	for _, sess := range group {
		if sess.StartTime < minStart {
			minStart = sess.StartTime
		}
		if sess.EndTime > maxEnd {
			maxEnd = sess.EndTime
		}
		bytesIn += sess.TotalBytesIn
		bytesOut += sess.TotalBytesOut
		packetsIn += sess.TotalPacketsIn
		packetsOut += sess.TotalPacketsOut

		for _, h := range sess.TopHosts {
			existing, ok := hostTotals[h.IP]
			if !ok {
				copy := h
				hostTotals[h.IP] = &copy
				continue
			}
			existing.IncomingBytes += h.IncomingBytes
			existing.OutgoingBytes += h.OutgoingBytes
			existing.IncomingPackets += h.IncomingPackets
			existing.OutgoingPackets += h.OutgoingPackets
			if h.LastSeen > existing.LastSeen {
				existing.LastSeen = h.LastSeen
			}
		}
		for _, svc := range sess.TopServices {
			key := fmt.Sprintf("%s:%d", svc.Protocol, svc.Port)
			existing, ok := serviceTotals[key]
			if !ok {
				copy := svc
				serviceTotals[key] = &copy
				continue
			}
			existing.Bytes += svc.Bytes
			existing.Packets += svc.Packets
		}
	}

	return models.Session{
		AdapterName:     group[0].AdapterName,
		StartTime:       minStart,
		EndTime:         maxEnd,
		Duration:        maxEnd - minStart,
		TotalBytesIn:    bytesIn,
		TotalBytesOut:   bytesOut,
		TotalPacketsIn:  packetsIn,
		TotalPacketsOut: packetsOut,
		TopHosts:        topNHosts(hostTotals, 10),
		TopServices:     topNServices(serviceTotals, 10),
	}
}

func topNHosts(hosts map[string]*models.NetworkHost, n int) []models.NetworkHost {
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

func topNServices(services map[string]*models.ServiceInfo, n int) []models.ServiceInfo {
	all := make([]models.ServiceInfo, 0, len(services))
	for _, s := range services {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Bytes > all[j].Bytes })
	if len(all) > n {
		all = all[:n]
	}
	return all
}
