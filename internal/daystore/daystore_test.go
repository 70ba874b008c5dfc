package daystore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/netcensus/netcensus/internal/models"
)

func TestAppendSessionWithinOneDay(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "backups"), 100, time.UTC)

	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	sess := models.Session{
		AdapterName: "eth0",
		StartTime:   start.Unix(),
		EndTime:     start.Add(time.Hour).Unix(),
		Duration:    3600,
		TotalBytesIn:  1000,
		TotalBytesOut: 2000,
	}

	if err := s.AppendSession(sess, start.Add(time.Hour)); err != nil {
		t.Fatalf("AppendSession: %v", err)
	}

	summary, err := s.Load("2026-01-15")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(summary.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(summary.Sessions))
	}
	if summary.TotalBytesIn != 1000 || summary.TotalBytesOut != 2000 {
		t.Errorf("totals = %d/%d, want 1000/2000", summary.TotalBytesIn, summary.TotalBytesOut)
	}
}

func TestAppendSessionSplitsAcrossMidnight(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "backups"), 100, time.UTC)

	start := time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour) // crosses into 2026-01-16
	sess := models.Session{
		AdapterName:   "eth0",
		StartTime:     start.Unix(),
		EndTime:       end.Unix(),
		Duration:      7200,
		TotalBytesIn:  1000,
		TotalBytesOut: 0,
	}

	if err := s.AppendSession(sess, end); err != nil {
		t.Fatalf("AppendSession: %v", err)
	}

	day1, err := s.Load("2026-01-15")
	if err != nil {
		t.Fatalf("Load day1: %v", err)
	}
	day2, err := s.Load("2026-01-16")
	if err != nil {
		t.Fatalf("Load day2: %v", err)
	}
	if len(day1.Sessions) != 1 || len(day2.Sessions) != 1 {
		t.Fatalf("expected one sub-session per day, got %d and %d", len(day1.Sessions), len(day2.Sessions))
	}
	if day1.TotalBytesIn+day2.TotalBytesIn != 1000 {
		t.Errorf("split bytes sum = %d, want 1000", day1.TotalBytesIn+day2.TotalBytesIn)
	}
}

func TestGetHistoryFillsMissingDays(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "backups"), 100, time.UTC)

	history, err := s.GetHistory("2026-01-01", "2026-01-03")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	for _, day := range history {
		if len(day.Sessions) != 0 {
			t.Errorf("day %s has sessions, want empty", day.Date)
		}
	}
}

func TestGetHistoryRejectsInvertedRange(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "backups"), 100, time.UTC)

	if _, err := s.GetHistory("2026-01-05", "2026-01-01"); err == nil {
		t.Error("expected an error for end_date before start_date")
	}
}

func TestConsolidateMergesByThirtyMinuteBucket(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC).Unix()
	sessions := []models.Session{
		{AdapterName: "eth0", StartTime: base, EndTime: base + 60, Duration: 60, TotalBytesIn: 10},
		{AdapterName: "eth0", StartTime: base + 600, EndTime: base + 660, Duration: 60, TotalBytesIn: 20},
		{AdapterName: "eth0", StartTime: base + 1900, EndTime: base + 1960, Duration: 60, TotalBytesIn: 30},
	}

	merged := Consolidate(sessions)
	if len(merged) != 2 {
		t.Fatalf("len(merged) = %d, want 2 (two 30-minute buckets)", len(merged))
	}

	first := merged[0]
	if first.TotalBytesIn != 30 {
		t.Errorf("first bucket bytes = %d, want 30", first.TotalBytesIn)
	}
	if first.Duration != (base+660)-base {
		t.Errorf("first bucket duration = %d, want %d (span, not sum)", first.Duration, (base+660)-base)
	}
}

func TestSplitSessionProportionallyAllocatesBytes(t *testing.T) {
	start := time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	sess := models.Session{
		AdapterName:   "eth0",
		StartTime:     start.Unix(),
		EndTime:       start.Add(2 * time.Hour).Unix(),
		Duration:      7200,
		TotalBytesIn:  3000,
	}

	subs := SplitSession(sess, time.UTC)
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}

	total := subs[0].TotalBytesIn + subs[1].TotalBytesIn
	if total != 3000 {
		t.Errorf("sum of split bytes = %d, want 3000", total)
	}
	// First segment is 1 hour of the 2-hour session, so roughly half.
	if subs[0].TotalBytesIn < 1400 || subs[0].TotalBytesIn > 1600 {
		t.Errorf("subs[0].TotalBytesIn = %d, want close to 1500", subs[0].TotalBytesIn)
	}
}
