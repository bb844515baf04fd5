package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/cypherlabdev/odds-aggregator-service/internal/opportunity"
)

// Config holds all configuration for odds-aggregator-service
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Store         StoreConfig         `mapstructure:"store"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Reader        ReaderConfig        `mapstructure:"reader"`
	Opportunities OpportunitiesConfig `mapstructure:"opportunities"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"` // raw quote batches
	GroupID      string        `mapstructure:"group_id"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StoreConfig selects the snapshot backend and its write path settings
type StoreConfig struct {
	Backend          string        `mapstructure:"backend"` // memory, redis
	MaxCommitRetries int           `mapstructure:"max_commit_retries"`
	ExpiryGrace      time.Duration `mapstructure:"expiry_grace"`
	ExpiryInterval   time.Duration `mapstructure:"expiry_interval"`
}

// RelayConfig holds cross-instance diff relay settings
type RelayConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Stream  string        `mapstructure:"stream"`
	MaxLen  int64         `mapstructure:"max_len"`
	Block   time.Duration `mapstructure:"block"`
}

// GatewayConfig holds push channel settings
type GatewayConfig struct {
	AuthMode        string        `mapstructure:"auth_mode"` // header, open
	GrantHeader     string        `mapstructure:"grant_header"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
}

// ReaderConfig holds paginated read limits
type ReaderConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	MaxResolve      int `mapstructure:"max_resolve"`
	ResolveChunk    int `mapstructure:"resolve_chunk"`
}

// OpportunitiesConfig holds opportunity detection thresholds
type OpportunitiesConfig struct {
	Backend   string  `mapstructure:"backend"`     // memory, redis
	MinArbPct float64 `mapstructure:"min_arb_pct"` // percent, 0.5 = 0.5%
	MinEVPct  float64 `mapstructure:"min_ev_pct"`  // percent
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "raw_quotes")
	v.SetDefault("kafka.group_id", "odds-aggregator")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 500*time.Millisecond)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "")

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.max_commit_retries", 5)
	v.SetDefault("store.expiry_grace", 30*time.Minute)
	v.SetDefault("store.expiry_interval", time.Minute)

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.stream", "diffs.committed")
	v.SetDefault("relay.max_len", 10000)
	v.SetDefault("relay.block", time.Second)

	v.SetDefault("gateway.auth_mode", "header")
	v.SetDefault("gateway.grant_header", "X-Authorized-Keys")
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.broadcast_buffer", 1024)
	v.SetDefault("gateway.write_wait", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 54*time.Second)
	v.SetDefault("gateway.max_message_size", 4096)

	v.SetDefault("reader.default_page_size", 100)
	v.SetDefault("reader.max_page_size", 500)
	v.SetDefault("reader.max_resolve", 1000)
	v.SetDefault("reader.resolve_chunk", 300)

	v.SetDefault("opportunities.backend", "redis")
	v.SetDefault("opportunities.min_arb_pct", 0.0)
	v.SetDefault("opportunities.min_ev_pct", 2.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("ODDS_AGGREGATOR")
	v.AutomaticEnv()
	// Replace . with _ for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal to struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	switch c.Opportunities.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("opportunities.backend must be memory or redis, got %q", c.Opportunities.Backend)
	}
	switch c.Gateway.AuthMode {
	case "header", "open":
	default:
		return fmt.Errorf("gateway.auth_mode must be header or open, got %q", c.Gateway.AuthMode)
	}
	if c.Relay.Enabled && c.Store.Backend != "redis" {
		return fmt.Errorf("relay.enabled requires store.backend redis")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == "redis" || c.Opportunities.Backend == "redis" || c.Relay.Enabled
}

// ToThresholds converts config to opportunity detection thresholds
func (c *OpportunitiesConfig) ToThresholds() opportunity.Thresholds {
	return opportunity.Thresholds{
		MinArbPct: decimal.NewFromFloat(c.MinArbPct),
		MinEVPct:  decimal.NewFromFloat(c.MinEVPct),
	}
}
