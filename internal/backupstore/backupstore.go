// Package backupstore provides the atomic write, timestamped backup, and
// verified restore primitives shared by the day-split summary store (C8)
// and the lifetime-state store (C9).
package backupstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const backupMarker = ".backup_"

// WriteAtomic serializes no data itself — it takes already-marshaled bytes
// and writes them to path via a temp-file-then-rename sequence, reading the
// temp file back to verify it before the rename commits. If a prior version
// of path exists, a timestamped backup of it is made first.
func WriteAtomic(path string, data []byte, backupDir string, now time.Time) error {
	if _, err := os.Stat(path); err == nil {
		if err := Backup(path, backupDir, now); err != nil {
			return fmt.Errorf("backupstore: backup before write of %s: %w", path, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("backupstore: write temp file %s: %w", tmp, err)
	}

	readBack, err := os.ReadFile(tmp)
	if err != nil {
		return fmt.Errorf("backupstore: verify temp file %s: %w", tmp, err)
	}
	if len(readBack) != len(data) {
		return fmt.Errorf("backupstore: temp file %s truncated on readback", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("backupstore: rename %s to %s: %w", tmp, path, err)
	}

	return nil
}

// Backup copies the current contents of path into backupDir, named
// "<base>.backup_YYYYMMDD_HHMMSS", via a temp-copy-then-verify-then-rename
// sequence, then trims the per-stem backup count to the 5 newest.
func Backup(path, backupDir string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up
		}
		return fmt.Errorf("backupstore: read %s for backup: %w", path, err)
	}

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("backupstore: create backup dir %s: %w", backupDir, err)
	}

	base := filepath.Base(path)
	stamp := now.Format("20060102_150405")
	finalName := fmt.Sprintf("%s%s%s", base, backupMarker, stamp)
	tmpPath := filepath.Join(backupDir, finalName+".tmp")
	finalPath := filepath.Join(backupDir, finalName)

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("backupstore: write backup temp file: %w", err)
	}
	if readBack, err := os.ReadFile(tmpPath); err != nil || len(readBack) != len(data) {
		os.Remove(tmpPath)
		return fmt.Errorf("backupstore: verify backup temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("backupstore: finalize backup %s: %w", finalPath, err)
	}

	return pruneNewest(backupDir, base, 5)
}

// pruneNewest keeps only the keepCount newest backups (by filename
// timestamp, which sorts lexically in step with chronological order for the
// "YYYYMMDD_HHMMSS" stamp) whose name starts with "<stem>.backup_".
func pruneNewest(backupDir, stem string, keepCount int) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return fmt.Errorf("backupstore: list backup dir %s: %w", backupDir, err)
	}

	prefix := stem + backupMarker
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names[min(keepCount, len(names)):] {
		os.Remove(filepath.Join(backupDir, name))
	}

	return nil
}

// Restore finds the newest backup for path's base name, verifies it is
// readable, and atomically renames it into place at path.
func Restore(path, backupDir string) error {
	base := filepath.Base(path)
	prefix := base + backupMarker

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return fmt.Errorf("backupstore: list backup dir %s: %w", backupDir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("backupstore: no backups found for %s", base)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	newest := filepath.Join(backupDir, names[0])

	data, err := os.ReadFile(newest)
	if err != nil {
		return fmt.Errorf("backupstore: read backup %s: %w", newest, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("backupstore: write restore temp file: %w", err)
	}
	if readBack, err := os.ReadFile(tmp); err != nil || len(readBack) != len(data) {
		os.Remove(tmp)
		return fmt.Errorf("backupstore: verify restore temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("backupstore: finalize restore of %s: %w", path, err)
	}

	return nil
}

// CleanupOlderThan deletes every backup file under backupDir whose
// timestamp suffix is older than retention, regardless of stem. Intended to
// run on startup and on a daily timer (§C10), not only after each write.
func CleanupOlderThan(backupDir string, retention time.Duration, now time.Time) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("backupstore: list backup dir %s: %w", backupDir, err)
	}

	cutoff := now.Add(-retention)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx := strings.Index(e.Name(), backupMarker)
		if idx < 0 {
			continue
		}
		stamp := e.Name()[idx+len(backupMarker):]
		stamp = strings.TrimSuffix(stamp, ".tmp")
		ts, err := time.ParseInLocation("20060102_150405", stamp, now.Location())
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			os.Remove(filepath.Join(backupDir, e.Name()))
		}
	}

	return nil
}
