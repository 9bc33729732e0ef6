package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackupTo writes a consistent copy of the database to dest with VACUUM
// INTO. dest must not exist.
func (s *SQLiteStore) BackupTo(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup destination %s already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	s.logger.Info("database snapshot written", "path", dest)
	return nil
}
