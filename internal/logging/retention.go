package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	// CurrentLogName is the pointer to the newest daemon run log.
	CurrentLogName = "daemon.log"
	runLogPattern  = "daemon-*.log"
	runIDLayout    = "20060102T150405.000Z"
)

// RunLogPath names the log file for a daemon run started at started.
func RunLogPath(dir string, started time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("daemon-%s.log", started.UTC().Format(runIDLayout)))
}

// PointCurrentLog makes dir/daemon.log refer to target, as a symlink when the
// filesystem allows it and a hard link otherwise.
func PointCurrentLog(dir, target string) error {
	if dir == "" || target == "" {
		return nil
	}
	current := filepath.Join(dir, CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

// PruneRunLogs removes daemon run logs in dir last written before
// retentionDays ago and returns how many were removed. The active run log and
// whatever daemon.log points at are kept regardless of age. A retentionDays
// value of 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, active string, now time.Time) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	var keep []os.FileInfo
	for _, path := range []string{active, filepath.Join(dir, CurrentLogName)} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			keep = append(keep, info)
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, runLogPattern))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if keptFile(info, keep) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String(FieldPath, path),
				Error(err),
				String(FieldErrorHint, "check permissions on .dreamstate/logs"),
				String(FieldImpact, "old daemon log remains on disk"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Debug("daemon log pruned",
				String(FieldPath, path),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
	return removed
}

func keptFile(info os.FileInfo, keep []os.FileInfo) bool {
	for _, k := range keep {
		if os.SameFile(info, k) {
			return true
		}
	}
	return false
}
