package lifetimestate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/netcensus/netcensus/internal/models"
)

func TestLoadFreshCreatesEmptyState(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1000, 0)

	s, err := Load(dir, filepath.Join(dir, "backups"), "1.0.0", "run-1", now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.WasUnexpectedShutdown(now) {
		t.Error("fresh state reported as an unclean shutdown")
	}
}

func TestUpdateAdapterPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	now := time.Unix(1000, 0)

	s, err := Load(dir, backupDir, "1.0.0", "run-1", now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := s.UpdateAdapter("eth0", func(a *models.AdapterPersistentState) {
		a.CumulativeBytesIn = 500
		a.WasMonitoringOnExit = true
	}, now); err != nil {
		t.Fatalf("UpdateAdapter: %v", err)
	}

	reloaded, err := Load(dir, backupDir, "1.0.0", "run-2", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	state := reloaded.AdapterState("eth0")
	if state == nil {
		t.Fatal("expected persisted adapter state for eth0")
	}
	if state.CumulativeBytesIn != 500 {
		t.Errorf("CumulativeBytesIn = %d, want 500", state.CumulativeBytesIn)
	}
}

func TestWasUnexpectedShutdownTrueWhenMonitoringFlagStale(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	now := time.Unix(1000, 0)

	s, err := Load(dir, backupDir, "1.0.0", "run-1", now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.UpdateAdapter("eth0", func(a *models.AdapterPersistentState) {
		a.WasMonitoringOnExit = true
	}, now); err != nil {
		t.Fatalf("UpdateAdapter: %v", err)
	}

	restartTime := now.Add(20 * time.Minute)
	reloaded, err := Load(dir, backupDir, "1.0.0", "run-2", restartTime)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.WasUnexpectedShutdown(restartTime) {
		t.Error("expected an unclean shutdown to be detected")
	}
}

func TestRecordShutdownClearsMonitoringFlags(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	now := time.Unix(1000, 0)

	s, err := Load(dir, backupDir, "1.0.0", "run-1", now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.UpdateAdapter("eth0", func(a *models.AdapterPersistentState) {
		a.WasMonitoringOnExit = true
	}, now); err != nil {
		t.Fatalf("UpdateAdapter: %v", err)
	}
	if err := s.RecordShutdown(now.Add(time.Second)); err != nil {
		t.Fatalf("RecordShutdown: %v", err)
	}

	restartTime := now.Add(20 * time.Minute)
	reloaded, err := Load(dir, backupDir, "1.0.0", "run-2", restartTime)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.WasUnexpectedShutdown(restartTime) {
		t.Error("a recorded clean shutdown should not be reported as unexpected")
	}
}
