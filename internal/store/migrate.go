package store

import (
	"context"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// gooseMu serializes access to goose's package-level configuration, which
// differs per dialect.
var gooseMu sync.Mutex //nolint:gochecknoglobals // goose configuration is process-global

func configureGoose(d Dialect) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false) // Suppress migration logs for clean JSON output
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect(d.gooseDialect())
}

// MigrateDB runs all pending migrations with a file lock to prevent concurrent
// migration races between processes sharing one SQLite file. For in-memory
// databases the lock is skipped.
func MigrateDB(ctx context.Context, s *Store, dbPath string) error {
	if s.dialect == DialectSQLite && !strings.Contains(dbPath, ":memory:") {
		lockF, err := lockFile(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		defer unlockFile(lockF)
	}
	return RunMigrations(s)
}

// RunMigrations applies pending goose migrations for the store's dialect.
func RunMigrations(s *Store) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(s.dialect); err != nil {
		return err
	}
	if err := goose.Up(s.db, s.dialect.migrationsDir()); err != nil {
		return err
	}
	return s.fillSearchText(context.Background())
}

// SchemaVersion returns the current and latest migration versions.
// current comes from goose_db_version; latest is the highest version
// in the embedded migration files. Returns (0, latest, nil) for a fresh DB.
func (s *Store) SchemaVersion() (current int64, latest int64, err error) {
	gooseMu.Lock()
	if err := configureGoose(s.dialect); err != nil {
		gooseMu.Unlock()
		return 0, 0, fmt.Errorf("set dialect: %w", err)
	}
	current, err = goose.GetDBVersion(s.db)
	gooseMu.Unlock()
	if err != nil {
		// Fresh DB with no goose_db_version table: treat as version 0
		current = 0
	}

	latest, err = latestMigrationVersion(s.dialect)
	if err != nil {
		return current, 0, fmt.Errorf("determine latest version: %w", err)
	}
	return current, latest, nil
}

// latestMigrationVersion reads the embedded migrations directory and returns
// the highest version number found.
func latestMigrationVersion(d Dialect) (int64, error) {
	entries, err := embedMigrations.ReadDir(d.migrationsDir())
	if err != nil {
		return 0, fmt.Errorf("read migrations dir: %w", err)
	}
	var max int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		// Parse version from filename prefix "00002_name.sql" -> 2
		idx := strings.IndexByte(name, '_')
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseInt(name[:idx], 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}
