package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/netcensus/netcensus/internal/aggregate"
	"github.com/netcensus/netcensus/internal/daystore"
	"github.com/netcensus/netcensus/internal/lifetimestate"
	"github.com/netcensus/netcensus/internal/models"
)

func newTestWriter(t *testing.T, now time.Time) (*Writer, *aggregate.Aggregator, *daystore.Store, *lifetimestate.Store) {
	t.Helper()
	dir := t.TempDir()
	days := daystore.New(dir, filepath.Join(dir, "backups"), 100, time.UTC)
	lifetime, err := lifetimestate.Load(dir, filepath.Join(dir, "backups"), "1.0.0", "run-1", now)
	if err != nil {
		t.Fatalf("lifetimestate.Load: %v", err)
	}
	agg := aggregate.New("eth0", "eth0", nil)
	w := NewWriter("eth0", agg, days, lifetime, now)
	return w, agg, days, lifetime
}

func TestFlushSkipsWhenNoNewTraffic(t *testing.T) {
	now := time.Unix(1000, 0)
	w, _, days, _ := newTestWriter(t, now)

	if err := w.Flush(now.Add(time.Minute)); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	date := now.In(time.UTC).Format("2006-01-02")
	summary, err := days.Load(date)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(summary.Sessions) != 0 {
		t.Errorf("expected no session written for a zero-delta flush, got %d", len(summary.Sessions))
	}
}

func TestFlushWritesDeltaSinceLastFlush(t *testing.T) {
	now := time.Unix(1000, 0)
	w, agg, days, lifetime := newTestWriter(t, now)

	p := &models.ParsedPacket{
		SrcIP: "10.0.0.1", DstIP: "8.8.8.8",
		SrcPort: 51000, DstPort: 443, HasSrcPort: true, HasDstPort: true,
		Protocol: models.ProtocolTCP, SizeBytes: 500,
		TsSecs: 1030, IsOutgoing: true,
	}
	agg.Apply(p, now.Add(30*time.Second))

	flushTime := now.Add(time.Minute)
	if err := w.Flush(flushTime); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	state := lifetime.AdapterState("eth0")
	if state == nil {
		t.Fatal("expected lifetime state for eth0 after flush")
	}
	if state.CumulativeBytesOut != 500 {
		t.Errorf("CumulativeBytesOut = %d, want 500", state.CumulativeBytesOut)
	}
	if !state.WasMonitoringOnExit {
		t.Error("expected WasMonitoringOnExit=true after an active flush")
	}

	date := flushTime.In(time.UTC).Format("2006-01-02")
	summary, err := days.Load(date)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(summary.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(summary.Sessions))
	}
}

func TestFinalFlushClearsMonitoringFlag(t *testing.T) {
	now := time.Unix(1000, 0)
	w, agg, _, lifetime := newTestWriter(t, now)

	p := &models.ParsedPacket{
		SrcIP: "10.0.0.1", DstIP: "8.8.8.8",
		SrcPort: 51000, DstPort: 443, HasSrcPort: true, HasDstPort: true,
		Protocol: models.ProtocolTCP, SizeBytes: 200,
		TsSecs: 1010, IsOutgoing: true,
	}
	agg.Apply(p, now.Add(10*time.Second))

	if err := w.FinalFlush(now.Add(time.Minute)); err != nil {
		t.Fatalf("FinalFlush: %v", err)
	}

	state := lifetime.AdapterState("eth0")
	if state == nil {
		t.Fatal("expected lifetime state after final flush")
	}
	if state.WasMonitoringOnExit {
		t.Error("expected WasMonitoringOnExit=false after FinalFlush")
	}
}
