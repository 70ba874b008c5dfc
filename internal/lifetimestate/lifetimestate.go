// Package lifetimestate persists the cumulative per-adapter counters that
// survive process restarts, and detects whether the previous run shut down
// uncleanly.
package lifetimestate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/netcensus/netcensus/internal/backupstore"
	"github.com/netcensus/netcensus/internal/models"
)

// uncleanShutdownWindow is how recently last_shutdown_time must have
// occurred for a restart to still count as clean, per §4.9.
const uncleanShutdownWindow = 600 * time.Second

// stateFileName and backupFileName are the fixed names of the lifetime
// state document and its sibling last-committed backup, per §6.
const (
	stateFileName  = "persistent_state.json"
	backupFileName = "persistent_state_backup.json"
)

// Store owns persistent_state.json and its backup sibling under dir.
type Store struct {
	mu        sync.Mutex
	dir       string
	backupDir string
	state     *models.AppPersistentState
}

// Load reads the lifetime-state file, falling through
// primary -> backup -> fresh default on any read/parse failure, per §4.9.
func Load(dir, backupDir, appVersion, runID string, now time.Time) (*Store, error) {
	s := &Store{dir: dir, backupDir: backupDir}

	primary := filepath.Join(dir, stateFileName)
	if state, err := readState(primary); err == nil {
		state.RunID = runID
		s.state = state
		return s, nil
	}

	backupSibling := filepath.Join(dir, backupFileName)
	if state, err := readState(backupSibling); err == nil {
		state.RunID = runID
		s.state = state
		return s, nil
	}

	s.state = models.NewAppPersistentState(appVersion, runID, now)
	return s, nil
}

func readState(path string) (*models.AppPersistentState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state models.AppPersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("lifetimestate: parse %s: %w", path, err)
	}
	if state.Adapters == nil {
		state.Adapters = make(map[string]*models.AdapterPersistentState)
	}
	return &state, nil
}

// WasUnexpectedShutdown answers §4.9's question using the state as loaded
// at startup, before any adapter has updated it this run.
func (s *Store) WasUnexpectedShutdown(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.state.Adapters) == 0 {
		return false
	}
	if s.state.LastShutdownTime > 0 {
		sinceShutdown := now.Sub(time.Unix(s.state.LastShutdownTime, 0))
		if sinceShutdown >= 0 && sinceShutdown < uncleanShutdownWindow {
			return false
		}
	}
	for _, a := range s.state.Adapters {
		if a.WasMonitoringOnExit {
			return true
		}
	}
	return false
}

// AdapterState returns the persisted counters for name, or nil if this
// adapter was never recorded.
func (s *Store) AdapterState(name string) *models.AdapterPersistentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Adapters[name]
}

// UpdateAdapter upserts one adapter's persisted counters and writes the
// whole state file atomically, with a backup of the prior version.
func (s *Store) UpdateAdapter(name string, update func(*models.AdapterPersistentState), now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.state.Adapters[name]
	if !ok {
		a = &models.AdapterPersistentState{
			AdapterName:       name,
			FirstRecordedTime: now.Unix(),
		}
		s.state.Adapters[name] = a
	}
	update(a)
	a.LastUpdateTime = now.Unix()
	s.state.UpdatedAt = now.Unix()

	return s.writeLocked(now)
}

// RecordShutdown stamps last_shutdown_time and clears every adapter's
// was_monitoring_on_exit flag, then persists. Called once during a clean
// shutdown sequence, after the final flush of every adapter completes.
func (s *Store) RecordShutdown(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastShutdownTime = now.Unix()
	s.state.UpdatedAt = now.Unix()
	for _, a := range s.state.Adapters {
		a.WasMonitoringOnExit = false
	}

	return s.writeLocked(now)
}

// writeLocked serializes and atomically writes the state file, then
// refreshes the backup sibling. Must be called with s.mu held.
func (s *Store) writeLocked(now time.Time) error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("lifetimestate: marshal state: %w", err)
	}

	primary := filepath.Join(s.dir, stateFileName)
	if err := backupstore.WriteAtomic(primary, data, s.backupDir, now); err != nil {
		return fmt.Errorf("lifetimestate: write %s: %w", primary, err)
	}

	backupSibling := filepath.Join(s.dir, backupFileName)
	if err := os.WriteFile(backupSibling, data, 0644); err != nil {
		return fmt.Errorf("lifetimestate: refresh backup sibling: %w", err)
	}

	return nil
}

// LifetimeTotals returns a snapshot of every adapter's cumulative counters,
// for the get_lifetime_totals operation.
func (s *Store) LifetimeTotals() map[string]models.AdapterPersistentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.AdapterPersistentState, len(s.state.Adapters))
	for k, v := range s.state.Adapters {
		out[k] = *v
	}
	return out
}
