package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig is the resolved database target.
type DatabaseConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"-"`
	Source string `json:"source"`
}

// ResolveDatabase picks the driver and target.
// Driver precedence: --db-driver, LORE_DB_DRIVER, config db_driver, then
// postgres if a database URL is known, else sqlite.
// Postgres DSN precedence: --database-url, LORE_DATABASE_URL, SUPABASE_DB_URL,
// config database_url.
func ResolveDatabase() (DatabaseConfig, error) {
	s, err := LoadSettings()
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("failed to load config: %w", err)
	}

	url, urlSource := getDatabaseURLOverride(), "cli(--database-url)"
	if url == "" {
		if v := os.Getenv("LORE_DATABASE_URL"); v != "" {
			url, urlSource = v, "env(LORE_DATABASE_URL)"
		} else if v := os.Getenv("SUPABASE_DB_URL"); v != "" {
			url, urlSource = v, "env(SUPABASE_DB_URL)"
		} else if s.DatabaseURL != "" {
			url, urlSource = s.DatabaseURL, "config(database_url)"
		}
	}

	driver := getDBDriverOverride()
	if driver == "" {
		driver = os.Getenv("LORE_DB_DRIVER")
	}
	if driver == "" {
		driver = s.DBDriver
	}
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		// An explicit sqlite path wins over a configured DSN.
		if url != "" && getDBPathOverride() == "" {
			driver = DriverPostgres
		} else {
			driver = DriverSQLite
		}
	}

	switch driver {
	case DriverSQLite, "sqlite3":
		path, source, err := ResolveDBPathDetailed()
		if err != nil {
			return DatabaseConfig{}, err
		}
		return DatabaseConfig{Driver: DriverSQLite, Path: path, Source: source}, nil
	case DriverPostgres, "postgresql", "supabase", "pgx":
		if url == "" {
			return DatabaseConfig{}, errors.New("postgres driver requires --database-url, LORE_DATABASE_URL or database_url")
		}
		return DatabaseConfig{Driver: DriverPostgres, URL: url, Source: urlSource}, nil
	default:
		return DatabaseConfig{}, fmt.Errorf("unsupported db driver %q (supported: sqlite, postgres)", driver)
	}
}

// GetDBPath resolves the SQLite database path.
// Order of precedence:
// 1) CLI override (e.g. --db-path)
// 2) Environment variable: LORE_DB_PATH
// 3) config.yaml: db_path
// 4) Default: ~/.config/lore/lore.db
// Returns the path to lore.db and ensures the parent directory exists.
func GetDBPath() (string, error) {
	path, _, err := ResolveDBPathDetailed()
	return path, err
}

// ResolveDBPathDetailed returns the resolved DB path along with the source of that decision.
func ResolveDBPathDetailed() (path string, source string, err error) {
	if override := getDBPathOverride(); override != "" {
		resolvedPath, ensureErr := EnsureDBDir(override)
		return resolvedPath, "cli(--db-path)", ensureErr
	}

	if envPath := os.Getenv("LORE_DB_PATH"); envPath != "" {
		resolvedPath, ensureErr := EnsureDBDir(envPath)
		return resolvedPath, "env(LORE_DB_PATH)", ensureErr
	}

	// Config file order must match LoadSettings.
	for _, p := range settingsPaths() {
		s, loadErr := loadSettingsFile(p)
		if loadErr == nil {
			if s.DBPath != "" {
				resolvedPath, ensureErr := EnsureDBDir(expandHome(s.DBPath))
				return resolvedPath, fmt.Sprintf("config(%s)", p), ensureErr
			}
			// File exists but no db_path set; keep looking.
			continue
		}
		if errors.Is(loadErr, os.ErrNotExist) {
			continue
		}
		return "", "", fmt.Errorf("failed to load config %s: %w", p, loadErr)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	resolved, err := EnsureDBDir(filepath.Join(configDir, "lore.db"))
	return resolved, "default(~/.config/lore/lore.db)", err
}

// EnsureDBDir creates the parent directory of dbPath.
func EnsureDBDir(dbPath string) (string, error) {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return dbPath, nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return dbPath, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
