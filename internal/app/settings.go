package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBDriver    string        `yaml:"db_driver"`
	DBPath      string        `yaml:"db_path"`
	DatabaseURL string        `yaml:"database_url"`
	HTTPAddr    string        `yaml:"http_addr"`
	LogLevel    string        `yaml:"log_level"`
	AI          AISettings    `yaml:"ai"`
	RAG         RAGSettings   `yaml:"rag"`
	Cache       CacheSettings `yaml:"cache"`
	Blob        BlobSettings  `yaml:"blob"`
}

// AISettings selects and tunes the AI provider.
type AISettings struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	EmbedModel      string        `yaml:"embed_model"`
	APIKey          string        `yaml:"api_key"`
	OllamaURL       string        `yaml:"ollama_url"`
	CLIAgent        string        `yaml:"cli_agent"`
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	Temperature     float64       `yaml:"temperature"`
}

// RAGSettings tunes retrieval and chunking.
type RAGSettings struct {
	TopK            int           `yaml:"top_k"`
	MinScore        float64       `yaml:"min_score"`
	MaxContextChars int           `yaml:"max_context_chars"`
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	AnswerTTL       time.Duration `yaml:"answer_ttl"`
	EmbeddingTTL    time.Duration `yaml:"embedding_ttl"`
	BackfillWorkers int           `yaml:"backfill_workers"`
}

// CacheSettings selects the cache backend.
type CacheSettings struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MaxEntries    int    `yaml:"max_entries"`
}

// BlobSettings configures the S3-compatible document archive.
type BlobSettings struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Enabled returns true when an endpoint is configured.
func (b BlobSettings) Enabled() bool {
	return strings.TrimSpace(b.Endpoint) != ""
}

const (
	defaultTopK            = 5
	defaultMinScore        = 0.05
	defaultMaxContextChars = 12000
	defaultChunkSize       = 1500
	defaultChunkOverlap    = 200
	defaultAnswerTTL       = 10 * time.Minute
	defaultEmbeddingTTL    = time.Hour
	defaultBackfillWorkers = 4

	defaultProvider        = "hash"
	defaultGeminiModel     = "gemini-2.5-flash"
	defaultGeminiEmbed     = "gemini-embedding-001"
	defaultOllamaURL       = "http://localhost:11434"
	defaultOllamaModel     = "llama3.2"
	defaultOllamaEmbed     = "nomic-embed-text"
	defaultRateLimit       = 2.0
	defaultBurst           = 4
	defaultAITimeout       = 60 * time.Second
	defaultMaxRetries      = 3
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	defaultTemperature     = 0.2

	defaultCacheBackend = "memory"
	defaultCacheEntries = 1024
	defaultBlobBucket   = "lore-documents"
	defaultHTTPAddr     = "127.0.0.1:8080"
)

// EffectiveRAGSettings returns validated retrieval settings with defaults.
// Invalid or missing config values fall back to safe defaults.
func EffectiveRAGSettings() RAGSettings {
	s, err := LoadSettings()
	if err != nil {
		s = Settings{}
	}
	return effectiveRAG(s.RAG)
}

func effectiveRAG(in RAGSettings) RAGSettings {
	cfg := RAGSettings{
		TopK:            defaultTopK,
		MinScore:        defaultMinScore,
		MaxContextChars: defaultMaxContextChars,
		ChunkSize:       defaultChunkSize,
		ChunkOverlap:    defaultChunkOverlap,
		AnswerTTL:       defaultAnswerTTL,
		EmbeddingTTL:    defaultEmbeddingTTL,
		BackfillWorkers: defaultBackfillWorkers,
	}
	if in.TopK > 0 {
		cfg.TopK = in.TopK
	}
	if in.MinScore > 0 {
		cfg.MinScore = in.MinScore
	}
	if in.MaxContextChars > 0 {
		cfg.MaxContextChars = in.MaxContextChars
	}
	if in.ChunkSize > 0 {
		cfg.ChunkSize = in.ChunkSize
	}
	if in.ChunkOverlap > 0 {
		cfg.ChunkOverlap = in.ChunkOverlap
	}
	if in.AnswerTTL > 0 {
		cfg.AnswerTTL = in.AnswerTTL
	}
	if in.EmbeddingTTL > 0 {
		cfg.EmbeddingTTL = in.EmbeddingTTL
	}
	if in.BackfillWorkers > 0 {
		cfg.BackfillWorkers = in.BackfillWorkers
	}

	if cfg.TopK > 50 {
		cfg.TopK = 50
	}
	if cfg.MinScore > 1 {
		cfg.MinScore = 1
	}
	if cfg.MaxContextChars < 1000 {
		cfg.MaxContextChars = 1000
	}
	if cfg.ChunkSize < 200 {
		cfg.ChunkSize = 200
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize/2 {
		cfg.ChunkOverlap = cfg.ChunkSize / 4
	}
	if cfg.BackfillWorkers > 32 {
		cfg.BackfillWorkers = 32
	}
	return cfg
}

// EffectiveAISettings returns provider settings after env overrides and defaults.
func EffectiveAISettings() AISettings {
	s, err := LoadSettings()
	if err != nil {
		s = Settings{}
	}
	return effectiveAI(s.AI)
}

func effectiveAI(in AISettings) AISettings {
	cfg := in
	if v := getProviderOverride(); v != "" {
		cfg.Provider = v
	} else if v := os.Getenv("LORE_AI_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}

	if v := firstEnv("LORE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LORE_OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("LORE_AI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LORE_CLI_AGENT"); v != "" {
		cfg.CLIAgent = v
	}

	switch cfg.Provider {
	case "gemini":
		if cfg.Model == "" {
			cfg.Model = defaultGeminiModel
		}
		if cfg.EmbedModel == "" {
			cfg.EmbedModel = defaultGeminiEmbed
		}
	case "ollama":
		if cfg.Model == "" {
			cfg.Model = defaultOllamaModel
		}
		if cfg.EmbedModel == "" {
			cfg.EmbedModel = defaultOllamaEmbed
		}
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = defaultOllamaURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAITimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}

	if cfg.Timeout > 10*time.Minute {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries > 10 {
		cfg.MaxRetries = 10
	}
	if cfg.Temperature > 2 {
		cfg.Temperature = 2
	}
	return cfg
}

// EffectiveCacheSettings returns cache settings after env overrides and defaults.
func EffectiveCacheSettings() CacheSettings {
	s, err := LoadSettings()
	if err != nil {
		s = Settings{}
	}
	return effectiveCache(s.Cache)
}

func effectiveCache(in CacheSettings) CacheSettings {
	cfg := in
	if v := os.Getenv("LORE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
		if cfg.Backend == "" {
			cfg.Backend = "redis"
		}
	}
	if v := os.Getenv("LORE_CACHE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = defaultCacheBackend
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultCacheEntries
	}
	return cfg
}

// EffectiveBlobSettings returns blob settings after env overrides and defaults.
func EffectiveBlobSettings() BlobSettings {
	s, err := LoadSettings()
	if err != nil {
		s = Settings{}
	}
	return effectiveBlob(s.Blob)
}

func effectiveBlob(in BlobSettings) BlobSettings {
	cfg := in
	if v := os.Getenv("LORE_BLOB_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("LORE_BLOB_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	if v := os.Getenv("LORE_BLOB_ACCESS_KEY"); v != "" {
		cfg.AccessKey = v
	}
	if v := os.Getenv("LORE_BLOB_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("LORE_BLOB_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseSSL = b
		}
	}
	if cfg.Bucket == "" {
		cfg.Bucket = defaultBlobBucket
	}
	return cfg
}

// EffectiveHTTPAddr returns the listen address for `lore serve`.
func EffectiveHTTPAddr() string {
	if v := os.Getenv("LORE_HTTP_ADDR"); v != "" {
		return v
	}
	s, err := LoadSettings()
	if err == nil && s.HTTPAddr != "" {
		return s.HTTPAddr
	}
	return defaultHTTPAddr
}

// EffectiveLogLevel returns the configured slog level name.
func EffectiveLogLevel() string {
	if v := os.Getenv("LORE_LOG_LEVEL"); v != "" {
		return v
	}
	s, err := LoadSettings()
	if err == nil && s.LogLevel != "" {
		return s.LogLevel
	}
	return "info"
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// overridesMu guards the process-wide CLI flag overrides (--db-path, --db-driver,
// --database-url, --provider).
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	overridesMu         sync.RWMutex
	dbPathOverride      string
	dbDriverOverride    string
	databaseURLOverride string
	providerOverride    string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	overridesMu.Lock()
	dbPathOverride = path
	overridesMu.Unlock()
}

// SetDBDriverOverride sets a process-wide driver override (--db-driver).
func SetDBDriverOverride(driver string) {
	overridesMu.Lock()
	dbDriverOverride = driver
	overridesMu.Unlock()
}

// SetDatabaseURLOverride sets a process-wide Postgres DSN override (--database-url).
func SetDatabaseURLOverride(url string) {
	overridesMu.Lock()
	databaseURLOverride = url
	overridesMu.Unlock()
}

// SetProviderOverride sets a process-wide AI provider override (--provider).
func SetProviderOverride(provider string) {
	overridesMu.Lock()
	providerOverride = provider
	overridesMu.Unlock()
}

func getDBPathOverride() string {
	overridesMu.RLock()
	defer overridesMu.RUnlock()
	return dbPathOverride
}

func getDBDriverOverride() string {
	overridesMu.RLock()
	defer overridesMu.RUnlock()
	return dbDriverOverride
}

func getDatabaseURLOverride() string {
	overridesMu.RLock()
	defer overridesMu.RUnlock()
	return databaseURLOverride
}

func getProviderOverride() string {
	overridesMu.RLock()
	defer overridesMu.RUnlock()
	return providerOverride
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/lore/config.yaml
// 2) /etc/lore/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		for _, p := range settingsPaths() {
			s, err := loadSettingsFile(p)
			if err == nil {
				settings = s
				return
			}
			if !errors.Is(err, os.ErrNotExist) {
				settingsErr = err
				return
			}
		}
	})

	return settings, settingsErr
}

func settingsPaths() []string {
	var paths []string
	if dir, err := ConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	return append(paths,
		filepath.Join(string(os.PathSeparator), "etc", "lore", "config.yaml"),
		"config.yaml",
	)
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path) //nolint:gosec // G304: config paths are fixed lookup locations
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
