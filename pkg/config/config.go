// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Store backends, Kafka, Index, Search, Ingestion, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RPC       RPCConfig       `yaml:"rpc"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Bolt      BoltConfig      `yaml:"bolt"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateBurst       int           `yaml:"rateBurst"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// RPCConfig controls the JSON-over-TCP query listener. An empty Addr disables it.
type RPCConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// StoreConfig selects the document store backend: memory, redis, postgres or bolt.
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
}

// BoltConfig points at the embedded bbolt database file.
type BoltConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// KafkaConfig holds Kafka broker and topic settings. Empty Brokers disables
// event publishing.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexBuilt      string `yaml:"indexBuilt"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// FieldConfig declares one schema field.
type FieldConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Sortable bool   `yaml:"sortable"`
}

// IndexConfig names the collection and its schema and sizes the build pool.
type IndexConfig struct {
	Name       string        `yaml:"name"`
	Schema     []FieldConfig `yaml:"schema"`
	Workers    int           `yaml:"workers"`
	Partitions int           `yaml:"partitions"`
}

// SearchConfig controls query limits.
type SearchConfig struct {
	DefaultLimit     int `yaml:"defaultLimit"`
	MaxResults       int `yaml:"maxResults"`
	MaxPatternLength int `yaml:"maxPatternLength"`
	MaxScanCost      int `yaml:"maxScanCost"`
}

// IngestionConfig describes where the dataset comes from and how it is loaded.
type IngestionConfig struct {
	DataSource   string        `yaml:"dataSource"`
	Timeout      time.Duration `yaml:"timeout"`
	Concurrency  int           `yaml:"concurrency"`
	Watch        bool          `yaml:"watch"`
	RetryMax     int           `yaml:"retryMax"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// AnalyticsConfig sizes the query-event collector. SnapshotInterval > 0
// persists aggregated stats to Postgres.
type AnalyticsConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// AuthConfig guards the admin endpoints (reindex, cache invalidation).
// AdminKeys are raw keys accepted as-is; with APIKeyTable set, keys are also
// looked up by SHA-256 hash in that Postgres table. No keys and no table
// leaves the admin endpoints open.
type AuthConfig struct {
	AdminKeys   []string `yaml:"adminKeys"`
	APIKeyTable string   `yaml:"apiKeyTable"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging for queries and builds.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "postgres", "bolt":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Index.Name == "" {
		return fmt.Errorf("index.name is required")
	}
	seen := make(map[string]struct{}, len(c.Index.Schema))
	for _, f := range c.Index.Schema {
		if f.Name == "" {
			return fmt.Errorf("index.schema: field name is required")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("index.schema: field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch strings.ToUpper(f.Kind) {
		case "TEXT", "TAG":
		default:
			return fmt.Errorf("index.schema: field %q has unknown kind %q", f.Name, f.Kind)
		}
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search: defaultLimit must be positive and not exceed maxResults")
	}
	return nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       200,
			RateBurst:       400,
			CORSOrigins:     []string{"*"},
		},
		RPC: RPCConfig{
			Addr:           ":9300",
			RequestTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:   "memory",
			KeyPrefix: "poem:",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "poemsearch",
			User:            "poemsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			CacheEnabled: false,
			CacheTTL:     60 * time.Second,
		},
		Bolt: BoltConfig{
			Path:    "data/poems.db",
			Timeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "poemsearch-group",
			Topics: KafkaTopics{
				IndexBuilt:      "index.built",
				AnalyticsEvents: "analytics-events",
			},
		},
		Index: IndexConfig{
			Name: "poems",
			Schema: []FieldConfig{
				{Name: "content", Kind: "TEXT"},
				{Name: "author", Kind: "TEXT"},
				{Name: "title", Kind: "TEXT", Sortable: true},
				{Name: "type", Kind: "TAG"},
				{Name: "age", Kind: "TAG"},
			},
			Workers:    4,
			Partitions: 16,
		},
		Search: SearchConfig{
			DefaultLimit:     10,
			MaxResults:       1000,
			MaxPatternLength: 256,
			MaxScanCost:      4_000_000,
		},
		Ingestion: IngestionConfig{
			DataSource:   "data/poems.json",
			Timeout:      2 * time.Minute,
			Concurrency:  16,
			RetryMax:     3,
			RetryBackoff: 500 * time.Millisecond,
		},
		Analytics: AnalyticsConfig{
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PS_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
	}
	if v := os.Getenv("PS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("PS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PS_REDIS_CACHE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.CacheEnabled = enabled
		}
	}
	if v := os.Getenv("PS_BOLT_PATH"); v != "" {
		cfg.Bolt.Path = v
	}
	if v := os.Getenv("PS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PS_DATA_SOURCE"); v != "" {
		cfg.Ingestion.DataSource = v
	}
	if v := os.Getenv("PS_ADMIN_KEYS"); v != "" {
		cfg.Auth.AdminKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("PS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
