package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrBackupUnsupported is returned by Backup on non-sqlite datastores.
var ErrBackupUnsupported = errors.New("online backup is only supported for sqlite")

const backupPrefix = "tourbook_"

// Backup writes a consistent copy of the sqlite database into dir using
// VACUUM INTO and returns the file path.
func (db *DB) Backup(ctx context.Context, dir string) (string, error) {
	if db.dialect != DialectSQLite || db.path == "" || db.path == ":memory:" {
		return "", ErrBackupUnsupported
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.db", backupPrefix, time.Now().UTC().Format("20060102_150405.000"))
	target := filepath.Join(dir, name)
	if strings.Contains(target, "'") {
		return "", fmt.Errorf("backup path %q contains a quote", target)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", target)); err != nil {
		return "", fmt.Errorf("failed to vacuum into %s: %w", target, err)
	}
	db.logger.Info().Str("path", target).Msg("Database backup completed")
	return target, nil
}

// CleanupBackups removes backups in dir older than retentionDays and returns
// how many were deleted.
func CleanupBackups(dir string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), backupPrefix) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", file.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
