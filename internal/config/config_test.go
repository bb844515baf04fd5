package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

// TestLoadConfig_Defaults tests loading configuration with default values
func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")

	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, config.Server.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, config.Server.CORSOrigins)

	assert.True(t, config.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, config.Kafka.Brokers)
	assert.Equal(t, "raw_quotes", config.Kafka.Topic)
	assert.Equal(t, "odds-aggregator", config.Kafka.GroupID)
	assert.Equal(t, 3, config.Kafka.MaxRetries)

	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 0, config.Redis.DB)

	assert.Equal(t, "redis", config.Store.Backend)
	assert.Equal(t, 5, config.Store.MaxCommitRetries)
	assert.Equal(t, 30*time.Minute, config.Store.ExpiryGrace)
	assert.Equal(t, time.Minute, config.Store.ExpiryInterval)

	assert.False(t, config.Relay.Enabled)
	assert.Equal(t, "diffs.committed", config.Relay.Stream)

	assert.Equal(t, "header", config.Gateway.AuthMode)
	assert.Equal(t, 256, config.Gateway.SendBuffer)
	assert.Equal(t, 60*time.Second, config.Gateway.PongWait)
	assert.Equal(t, 54*time.Second, config.Gateway.PingPeriod)

	assert.Equal(t, 100, config.Reader.DefaultPageSize)
	assert.Equal(t, 500, config.Reader.MaxPageSize)
	assert.Equal(t, 1000, config.Reader.MaxResolve)
	assert.Equal(t, 300, config.Reader.ResolveChunk)

	assert.Equal(t, 2.0, config.Opportunities.MinEVPct)

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
}

// TestLoadConfig_WithFile tests loading configuration from file
func TestLoadConfig_WithFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
  read_timeout: 45s
  cors_origins:
    - https://app.example.com

kafka:
  brokers:
    - broker1:9092
    - broker2:9092
  topic: test_topic
  group_id: test_group

redis:
  addr: redis:6379
  password: test_password
  db: 1
  key_prefix: "odds:"

store:
  backend: memory
  expiry_grace: 45m

gateway:
  auth_mode: open
  send_buffer: 64

opportunities:
  backend: memory
  min_arb_pct: 0.5
  min_ev_pct: 3

logging:
  level: debug
  format: console
`)

	config, err := LoadConfig(path)

	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, 45*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, []string{"https://app.example.com"}, config.Server.CORSOrigins)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, config.Kafka.Brokers)
	assert.Equal(t, "test_topic", config.Kafka.Topic)
	assert.Equal(t, "test_group", config.Kafka.GroupID)

	assert.Equal(t, "redis:6379", config.Redis.Addr)
	assert.Equal(t, "test_password", config.Redis.Password)
	assert.Equal(t, 1, config.Redis.DB)
	assert.Equal(t, "odds:", config.Redis.KeyPrefix)

	assert.Equal(t, "memory", config.Store.Backend)
	assert.Equal(t, 45*time.Minute, config.Store.ExpiryGrace)

	assert.Equal(t, "open", config.Gateway.AuthMode)
	assert.Equal(t, 64, config.Gateway.SendBuffer)

	assert.Equal(t, 0.5, config.Opportunities.MinArbPct)
	assert.Equal(t, 3.0, config.Opportunities.MinEVPct)
	assert.False(t, config.UsesRedis())

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "console", config.Logging.Format)
}

// TestLoadConfig_InvalidFile tests loading with non-existent file
func TestLoadConfig_InvalidFile(t *testing.T) {
	config, err := LoadConfig("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, config)
}

// TestLoadConfig_MalformedFile tests loading with malformed YAML
func TestLoadConfig_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: invalid_port
  read_timeout: not_a_duration
`)

	config, err := LoadConfig(path)

	assert.Error(t, err)
	assert.Nil(t, config)
}

// TestLoadConfig_PartialFile tests loading with partial configuration
func TestLoadConfig_PartialFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090

kafka:
  brokers:
    - broker1:9092

# Other configs will use defaults
`)

	config, err := LoadConfig(path)

	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, []string{"broker1:9092"}, config.Kafka.Brokers)

	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, "raw_quotes", config.Kafka.Topic)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 1000, config.Reader.MaxResolve)
}

// TestLoadConfig_EnvironmentVariables tests environment variable overrides
func TestLoadConfig_EnvironmentVariables(t *testing.T) {
	t.Setenv("ODDS_AGGREGATOR_SERVER_PORT", "7777")
	t.Setenv("ODDS_AGGREGATOR_REDIS_ADDR", "env-redis:6379")
	t.Setenv("ODDS_AGGREGATOR_KAFKA_TOPIC", "env_topic")
	t.Setenv("ODDS_AGGREGATOR_STORE_BACKEND", "memory")

	config, err := LoadConfig("")

	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, 7777, config.Server.Port)
	assert.Equal(t, "env-redis:6379", config.Redis.Addr)
	assert.Equal(t, "env_topic", config.Kafka.Topic)
	assert.Equal(t, "memory", config.Store.Backend)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown store backend",
			content: "store:\n  backend: postgres\n",
		},
		{
			name:    "unknown opportunity backend",
			content: "opportunities:\n  backend: disk\n",
		},
		{
			name:    "unknown auth mode",
			content: "gateway:\n  auth_mode: jwt\n",
		},
		{
			name:    "relay without redis store",
			content: "store:\n  backend: memory\nrelay:\n  enabled: true\n",
		},
		{
			name:    "port out of range",
			content: "server:\n  port: 70000\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfigFile(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, config)
		})
	}
}

// TestToThresholds tests conversion to detection thresholds
func TestToThresholds(t *testing.T) {
	cfg := OpportunitiesConfig{MinArbPct: 0.5, MinEVPct: 2.25}

	thresholds := cfg.ToThresholds()

	assert.True(t, decimal.NewFromFloat(0.5).Equal(thresholds.MinArbPct))
	assert.True(t, decimal.NewFromFloat(2.25).Equal(thresholds.MinEVPct))
}

func TestToThresholds_ZeroValues(t *testing.T) {
	thresholds := (&OpportunitiesConfig{}).ToThresholds()

	assert.True(t, thresholds.MinArbPct.IsZero())
	assert.True(t, thresholds.MinEVPct.IsZero())
}

func TestUsesRedis(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{"all memory", Config{Store: StoreConfig{Backend: "memory"}, Opportunities: OpportunitiesConfig{Backend: "memory"}}, false},
		{"redis store", Config{Store: StoreConfig{Backend: "redis"}, Opportunities: OpportunitiesConfig{Backend: "memory"}}, true},
		{"redis opportunities", Config{Store: StoreConfig{Backend: "memory"}, Opportunities: OpportunitiesConfig{Backend: "redis"}}, true},
		{"relay", Config{Store: StoreConfig{Backend: "memory"}, Opportunities: OpportunitiesConfig{Backend: "memory"}, Relay: RelayConfig{Enabled: true}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.UsesRedis())
		})
	}
}
