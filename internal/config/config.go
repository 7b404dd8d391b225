package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "ASKDB_"

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Catalog     CatalogConfig     `json:"catalog"`
	LLM         LLMConfig         `json:"llm"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Cache       CacheConfig       `json:"cache"`
	Logging     LoggingConfig     `json:"logging"`
	Debug       DebugConfig       `json:"debug"`
}

// DatabaseConfig describes the relational read path the safety gate executes against
type DatabaseConfig struct {
	Driver          string `json:"driver"             env:"DB_DRIVER"             envDefault:"duckdb"` // duckdb, postgres
	Path            string `json:"path"               env:"DB_PATH"               envDefault:"~/.local/share/askdb/data.duckdb"`
	DSN             string `json:"dsn"                env:"DB_DSN"`
	MaxConnections  int    `json:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	QueryTimeout    string `json:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"`
	MaxRows         int    `json:"max_rows"           env:"DB_MAX_ROWS"           envDefault:"500"`
}

// CatalogConfig describes where table descriptors come from
type CatalogConfig struct {
	Source string `json:"source" env:"CATALOG_SOURCE" envDefault:"file"` // file, introspect
	File   string `json:"file"   env:"CATALOG_FILE"   envDefault:"~/.config/askdb/catalog.yaml"`
	Schema string `json:"schema" env:"CATALOG_SCHEMA" envDefault:"main"`
	Watch  bool   `json:"watch"  env:"CATALOG_WATCH"  envDefault:"false"`
}

// LLMConfig configures the classification and summary capability
type LLMConfig struct {
	Provider  string `json:"provider"   env:"LLM_PROVIDER"   envDefault:"fallback"` // anthropic, openai, ollama, genai, fallback
	Model     string `json:"model"      env:"LLM_MODEL"`
	APIKey    string `json:"api_key"    env:"LLM_API_KEY"`
	BaseURL   string `json:"base_url"   env:"LLM_BASE_URL"`
	Timeout   string `json:"timeout"    env:"LLM_TIMEOUT"    envDefault:"30s"`
	MaxTokens int    `json:"max_tokens" env:"LLM_MAX_TOKENS" envDefault:"1024"`
	Fallback  bool   `json:"fallback"   env:"LLM_FALLBACK"   envDefault:"true"`
}

// EmbeddingConfig configures the embedding generator
type EmbeddingConfig struct {
	Provider    string  `json:"provider"     env:"EMBEDDING_PROVIDER"     envDefault:"local"` // local, ollama, openai, genai, disabled
	Model       string  `json:"model"        env:"EMBEDDING_MODEL"`
	Dimensions  int     `json:"dimensions"   env:"EMBEDDING_DIMENSIONS"   envDefault:"384"`
	APIKey      string  `json:"api_key"      env:"EMBEDDING_API_KEY"`
	BaseURL     string  `json:"base_url"     env:"EMBEDDING_BASE_URL"`
	BatchSize   int     `json:"batch_size"   env:"EMBEDDING_BATCH_SIZE"   envDefault:"16"`
	Concurrency int     `json:"concurrency"  env:"EMBEDDING_CONCURRENCY"  envDefault:"4"`
	MaxAttempts int     `json:"max_attempts" env:"EMBEDDING_MAX_ATTEMPTS" envDefault:"4"`
	BaseBackoff string  `json:"base_backoff" env:"EMBEDDING_BASE_BACKOFF" envDefault:"250ms"`
	RateLimit   float64 `json:"rate_limit"   env:"EMBEDDING_RATE_LIMIT"   envDefault:"20"` // batches per second, 0 disables
	Timeout     string  `json:"timeout"      env:"EMBEDDING_TIMEOUT"      envDefault:"30s"`
	CacheSize   int     `json:"cache_size"   env:"EMBEDDING_CACHE_SIZE"   envDefault:"4096"`
}

// VectorStoreConfig selects the vector index backend
type VectorStoreConfig struct {
	Backend string `json:"backend" env:"VECTOR_BACKEND" envDefault:"duckdb"` // memory, duckdb, sqlite, pgvector
	Path    string `json:"path"    env:"VECTOR_PATH"    envDefault:"~/.local/share/askdb/vectors.duckdb"`
	DSN     string `json:"dsn"     env:"VECTOR_DSN"`
	Table   string `json:"table"   env:"VECTOR_TABLE"   envDefault:"vector_documents"`
}

// PipelineConfig carries orchestration policy
type PipelineConfig struct {
	FreshnessWindow string `json:"freshness_window" env:"FRESHNESS_WINDOW" envDefault:"15m"`
	ChunkSize       int    `json:"chunk_size"       env:"CHUNK_SIZE"       envDefault:"1200"`
	TopK            int    `json:"top_k"            env:"TOP_K"            envDefault:"8"`
	JoinPolicy      string `json:"join_policy"      env:"JOIN_POLICY"      envDefault:"shortest"` // shortest, reject_ambiguous
	SummaryEnabled  bool   `json:"summary_enabled"  env:"SUMMARY_ENABLED"  envDefault:"true"`
	Ledger          string `json:"ledger"           env:"FRESHNESS_LEDGER" envDefault:"duckdb"` // memory, duckdb
}

// CacheConfig represents caching configuration
type CacheConfig struct {
	Directory   string `json:"directory"         env:"CACHE_DIR"          envDefault:"~/.cache/askdb"`
	MaxSizeMB   int    `json:"max_size_mb"       env:"CACHE_MAX_SIZE_MB"  envDefault:"200"`
	TTLHours    int    `json:"ttl_hours"         env:"CACHE_TTL_HOURS"    envDefault:"168"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h"`
	Persistent  bool   `json:"persistent"        env:"CACHE_PERSISTENT"   envDefault:"true"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`   // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`   // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"` // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/askdb/logs/askdb.log"`
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" env:"VERBOSE" envDefault:"false"`
}

// DefaultConfig returns the configuration produced by envDefault tags alone
func DefaultConfig() *Config {
	config := &Config{}
	_ = env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	})

	return config
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	config := &Config{}

	// defaults and environment first, so the file only replaces what it names
	if err := env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	configPath := getConfigPath(flagOverrides)
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}

		// variables that are actually set still win over the file
		if err := env.ParseWithOptions(config, env.Options{
			Prefix:              envPrefix,
			DefaultValueTagName: "envFileDefault",
		}); err != nil {
			return nil, fmt.Errorf("failed to parse environment variables: %w", err)
		}
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ExpandAllPaths()

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// decoding over the loaded values keeps every key the file leaves out
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "db-driver":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Driver = str
			}
		case "catalog-file":
			if str, ok := value.(string); ok && str != "" {
				config.Catalog.File = str
			}
		case "vector-backend":
			if str, ok := value.(string); ok && str != "" {
				config.VectorStore.Backend = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
				if b {
					config.Logging.Level = "debug"
				}
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "config-file":
			// consumed by getConfigPath
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}

	return false
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	if !oneOf(config.Logging.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	if !oneOf(config.Logging.Format, "text", "json") {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	if !oneOf(config.Logging.Output, "stdout", "stderr", "file") {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	if !oneOf(config.Database.Driver, "duckdb", "postgres") {
		return fmt.Errorf("invalid database driver: %s (must be duckdb or postgres)", config.Database.Driver)
	}

	if config.Database.Driver == "postgres" && config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for the postgres driver")
	}

	if !oneOf(config.Catalog.Source, "file", "introspect") {
		return fmt.Errorf("invalid catalog source: %s (must be file or introspect)", config.Catalog.Source)
	}

	if !oneOf(config.LLM.Provider, "anthropic", "openai", "ollama", "genai", "fallback") {
		return fmt.Errorf("invalid llm provider: %s", config.LLM.Provider)
	}

	if !oneOf(config.Embedding.Provider, "local", "ollama", "openai", "genai", "disabled") {
		return fmt.Errorf("invalid embedding provider: %s", config.Embedding.Provider)
	}

	if !oneOf(config.VectorStore.Backend, "memory", "duckdb", "sqlite", "pgvector") {
		return fmt.Errorf(
			"invalid vector store backend: %s (must be memory, duckdb, sqlite, or pgvector)",
			config.VectorStore.Backend,
		)
	}

	if config.VectorStore.Backend == "pgvector" && config.VectorStore.DSN == "" {
		return fmt.Errorf("vector store dsn is required for the pgvector backend")
	}

	if !oneOf(config.Pipeline.JoinPolicy, "shortest", "reject_ambiguous") {
		return fmt.Errorf(
			"invalid join policy: %s (must be shortest or reject_ambiguous)",
			config.Pipeline.JoinPolicy,
		)
	}

	if !oneOf(config.Pipeline.Ledger, "memory", "duckdb") {
		return fmt.Errorf("invalid freshness ledger: %s (must be memory or duckdb)", config.Pipeline.Ledger)
	}

	durations := map[string]string{
		"database query timeout":    config.Database.QueryTimeout,
		"llm timeout":               config.LLM.Timeout,
		"embedding timeout":         config.Embedding.Timeout,
		"embedding base backoff":    config.Embedding.BaseBackoff,
		"pipeline freshness window": config.Pipeline.FreshnessWindow,
		"cache cleanup frequency":   config.Cache.CleanupFreq,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Database.MaxRows <= 0 {
		return fmt.Errorf("database max rows must be positive: %d", config.Database.MaxRows)
	}

	if config.Embedding.BatchSize <= 0 || config.Embedding.Concurrency <= 0 || config.Embedding.MaxAttempts <= 0 {
		return fmt.Errorf("embedding batch size, concurrency and max attempts must be positive")
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", config.Embedding.Dimensions)
	}

	if config.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline chunk size must be positive: %d", config.Pipeline.ChunkSize)
	}

	return nil
}

// Duration parses one of the validated duration strings, falling back to def
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}

	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath(nil)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath(overrides map[string]interface{}) string {
	if str, ok := overrides["config-file"].(string); ok && str != "" {
		return expandPath(str)
	}

	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Catalog.File = expandPath(c.Catalog.File)
	c.VectorStore.Path = expandPath(c.VectorStore.Path)
	c.Cache.Directory = expandPath(c.Cache.Directory)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/askdb"
	}

	return filepath.Join(homeDir, ".config", "askdb")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Cache.Directory}
	if c.Database.Driver == "duckdb" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}

	if c.VectorStore.Backend == "duckdb" || c.VectorStore.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.VectorStore.Path))
	}

	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
