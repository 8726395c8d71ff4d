package domain

import "time"

// Config holds the complete Cadence configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines backend selection
	Tier Tier `mapstructure:"tier"`

	// Scoring model constants
	Model ModelConfig `mapstructure:"model"`

	// Service-level decision expressions
	Policy PolicyConfig `mapstructure:"policy"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus"`
	Worker     WorkerConfig     `mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds

	// DefaultTenant is used when a request carries no X-Tenant-ID header.
	// Empty means the header is required.
	DefaultTenant string `mapstructure:"defaultTenant"`
}

// ModelConfig holds the calibration constants of the keystroke model.
type ModelConfig struct {
	// Per-channel weights combining distances into one scalar:
	// char code, seek time, press time, key code.
	CharCodeWeight  float64 `mapstructure:"charCodeWeight"`
	SeekTimeWeight  float64 `mapstructure:"seekTimeWeight"`
	PressTimeWeight float64 `mapstructure:"pressTimeWeight"`
	KeyCodeWeight   float64 `mapstructure:"keyCodeWeight"`

	// ThresholdMultiplier scales the worst observed genuine distance.
	ThresholdMultiplier float64 `mapstructure:"thresholdMultiplier"`

	// Threshold clamp bounds.
	MinThreshold float64 `mapstructure:"minThreshold"`
	MaxThreshold float64 `mapstructure:"maxThreshold"`

	// MinSamples is the history size below which verification always accepts.
	MinSamples int `mapstructure:"minSamples"`

	// WindowSize is the number of recent samples a profile is built from.
	WindowSize int `mapstructure:"windowSize"`
}

// PolicyConfig holds the CEL expressions mapping a confidence to decisions.
// Variables: confidence (double), outcome (string), history (int).
type PolicyConfig struct {
	// Verify decides whether an authentication attempt is verified.
	Verify string `mapstructure:"verify"`

	// Accept decides whether a submitted sample is consistent enough to enroll.
	Accept string `mapstructure:"accept"`

	// Adapt decides whether a verified attempt is enrolled into the history.
	Adapt string `mapstructure:"adapt"`
}

// WorkerConfig holds asynchronous submission settings.
type WorkerConfig struct {
	// Tenants are subscribed at startup. Tenants seen on async requests
	// are subscribed on first use.
	Tenants []string `mapstructure:"tenants"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultModelConfig returns the default calibration constants.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		CharCodeWeight:      1000,
		SeekTimeWeight:      1,
		PressTimeWeight:     1,
		KeyCodeWeight:       10,
		ThresholdMultiplier: 1.6,
		MinThreshold:        50,
		MaxThreshold:        1000,
		MinSamples:          3,
		WindowSize:          5,
	}
}

// DefaultPolicyConfig returns the default decision expressions.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Verify: "confidence > 0.5",
		Accept: "confidence >= 0.5",
		Adapt:  "confidence > 0.8",
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          5000,
			ReadTimeout:   30,
			WriteTimeout:  30,
			DefaultTenant: "default",
		},
		Tier:   TierCommunity,
		Model:  DefaultModelConfig(),
		Policy: DefaultPolicyConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./cadence.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ProfileTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "cadence",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "cadence",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ProfileTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Server.DefaultTenant = ""
	cfg.Tracing.Enabled = true
	return cfg
}
