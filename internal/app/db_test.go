package app

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetSettingsStateForTest() {
	settingsOnce = sync.Once{}
	settings = Settings{}
	settingsErr = nil
	SetDBPathOverride("")
	SetDBDriverOverride("")
	SetDatabaseURLOverride("")
	SetProviderOverride("")
}

// isolateEnv clears every variable the resolvers read so a developer's shell
// cannot leak into assertions.
func isolateEnv(t *testing.T) string {
	t.Helper()
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	for _, k := range []string{
		"LORE_DB_PATH", "LORE_DB_DRIVER", "LORE_DATABASE_URL", "SUPABASE_DB_URL",
		"LORE_AI_PROVIDER", "LORE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
		"LORE_OLLAMA_URL", "LORE_AI_MODEL", "LORE_CLI_AGENT", "LORE_REDIS_ADDR",
		"LORE_CACHE_BACKEND", "LORE_BLOB_ENDPOINT", "LORE_BLOB_BUCKET",
		"LORE_BLOB_ACCESS_KEY", "LORE_BLOB_SECRET_KEY", "LORE_BLOB_USE_SSL",
		"LORE_HTTP_ADDR", "LORE_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func TestGetDBPath_PrioritizesCLIOverride(t *testing.T) {
	home := isolateEnv(t)
	t.Setenv("LORE_DB_PATH", filepath.Join(home, "env", "lore.db"))

	overridePath := filepath.Join(home, "cli", "lore.db")
	SetDBPathOverride(overridePath)

	resolved, err := GetDBPath()
	require.NoError(t, err)
	require.Equal(t, overridePath, resolved)
}

func TestGetDBPath_UsesEnvWithoutOverride(t *testing.T) {
	home := isolateEnv(t)

	envPath := filepath.Join(home, "env", "lore.db")
	t.Setenv("LORE_DB_PATH", envPath)

	resolved, err := GetDBPath()
	require.NoError(t, err)
	require.Equal(t, envPath, resolved)
}

func TestResolveDBPathDetailed_ReportsSourceForEnv(t *testing.T) {
	home := isolateEnv(t)

	envPath := filepath.Join(home, "env", "lore.db")
	t.Setenv("LORE_DB_PATH", envPath)

	resolved, source, err := ResolveDBPathDetailed()
	require.NoError(t, err)
	require.Equal(t, envPath, resolved)
	require.Equal(t, "env(LORE_DB_PATH)", source)
}

func TestResolveDBPathDetailed_DefaultsUnderConfigDir(t *testing.T) {
	home := isolateEnv(t)

	resolved, source, err := ResolveDBPathDetailed()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "lore", "lore.db"), resolved)
	require.Equal(t, "default(~/.config/lore/lore.db)", source)
}

func TestEnsureDBDir_CreatesParentDirectories(t *testing.T) {
	base := t.TempDir()
	dbPath := filepath.Join(base, "nested", "deep", "lore.db")

	resolved, err := EnsureDBDir(dbPath)
	require.NoError(t, err)
	require.Equal(t, dbPath, resolved)
	require.DirExists(t, filepath.Dir(dbPath))
}

func TestResolveDatabase_DefaultsToSQLite(t *testing.T) {
	isolateEnv(t)

	cfg, err := ResolveDatabase()
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.Driver)
	require.NotEmpty(t, cfg.Path)
}

func TestResolveDatabase_SupabaseURLSelectsPostgres(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SUPABASE_DB_URL", "postgres://postgres:pw@db.example.supabase.co:5432/postgres")

	cfg, err := ResolveDatabase()
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Driver)
	require.Equal(t, "env(SUPABASE_DB_URL)", cfg.Source)
}

func TestResolveDatabase_DBPathOverrideBeatsConfiguredURL(t *testing.T) {
	home := isolateEnv(t)
	t.Setenv("LORE_DATABASE_URL", "postgres://localhost/lore")
	SetDBPathOverride(filepath.Join(home, "local.db"))

	cfg, err := ResolveDatabase()
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.Driver)
	require.Equal(t, filepath.Join(home, "local.db"), cfg.Path)
}

func TestResolveDatabase_PostgresWithoutURLFails(t *testing.T) {
	isolateEnv(t)
	SetDBDriverOverride("postgres")

	_, err := ResolveDatabase()
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires")
}

func TestResolveDatabase_UnknownDriver(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LORE_DB_DRIVER", "mysql")

	_, err := ResolveDatabase()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported db driver")
}
