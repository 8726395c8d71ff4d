// Package config loads Cadence configuration from defaults, an optional YAML
// file and CADENCE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/opensource-finance/cadence/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. CADENCE_SERVER_PORT.
const EnvPrefix = "CADENCE"

// Load builds the configuration. path may be empty, in which case
// ./cadence.yaml and /etc/cadence/cadence.yaml are tried and skipped if absent.
// CADENCE_TIER=pro switches the defaults to the Pro tier backends.
func Load(path string) (*domain.Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration file whenever it changes and passes the
// decoded result to fn. It returns an error if no file is in use.
func Watch(path string, fn func(*domain.Config)) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			slog.Error("failed to reload configuration", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, tierDefaults(v))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cadence")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cadence")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// the file may select a tier the environment did not
	setDefaults(v, tierDefaults(v))
	return v, nil
}

func tierDefaults(v *viper.Viper) *domain.Config {
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		return domain.ProConfig()
	}
	return domain.DefaultConfig()
}

func decode(v *viper.Viper) (*domain.Config, error) {
	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not supported", cfg.Repository.Driver))
	}

	m := cfg.Model
	if m.MinThreshold < 0 || m.MaxThreshold < m.MinThreshold {
		errs = append(errs, fmt.Errorf("model threshold bounds [%v, %v] are invalid", m.MinThreshold, m.MaxThreshold))
	}
	if m.WindowSize < 1 || m.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("model.windowSize must be positive and model.minSamples non-negative"))
	}
	if m.MinSamples > m.WindowSize {
		errs = append(errs, fmt.Errorf("model.minSamples %d exceeds model.windowSize %d, every request would cold start", m.MinSamples, m.WindowSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.readTimeout", c.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", c.Server.WriteTimeout)
	v.SetDefault("server.defaultTenant", c.Server.DefaultTenant)

	v.SetDefault("model.charCodeWeight", c.Model.CharCodeWeight)
	v.SetDefault("model.seekTimeWeight", c.Model.SeekTimeWeight)
	v.SetDefault("model.pressTimeWeight", c.Model.PressTimeWeight)
	v.SetDefault("model.keyCodeWeight", c.Model.KeyCodeWeight)
	v.SetDefault("model.thresholdMultiplier", c.Model.ThresholdMultiplier)
	v.SetDefault("model.minThreshold", c.Model.MinThreshold)
	v.SetDefault("model.maxThreshold", c.Model.MaxThreshold)
	v.SetDefault("model.minSamples", c.Model.MinSamples)
	v.SetDefault("model.windowSize", c.Model.WindowSize)

	v.SetDefault("policy.verify", c.Policy.Verify)
	v.SetDefault("policy.accept", c.Policy.Accept)
	v.SetDefault("policy.adapt", c.Policy.Adapt)

	r := c.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlitePath", r.SQLitePath)
	v.SetDefault("repository.postgresHost", r.PostgresHost)
	v.SetDefault("repository.postgresPort", r.PostgresPort)
	v.SetDefault("repository.postgresUser", r.PostgresUser)
	v.SetDefault("repository.postgresPassword", r.PostgresPassword)
	v.SetDefault("repository.postgresDB", r.PostgresDB)
	v.SetDefault("repository.postgresSSLMode", r.PostgresSSLMode)
	v.SetDefault("repository.mysqlAddr", r.MySQLAddr)
	v.SetDefault("repository.mysqlUser", r.MySQLUser)
	v.SetDefault("repository.mysqlPassword", r.MySQLPassword)
	v.SetDefault("repository.mysqlDB", r.MySQLDB)
	v.SetDefault("repository.maxOpenConns", r.MaxOpenConns)
	v.SetDefault("repository.maxIdleConns", r.MaxIdleConns)
	v.SetDefault("repository.connMaxLifetime", r.ConnMaxLifetime)

	k := c.Cache
	v.SetDefault("cache.type", k.Type)
	v.SetDefault("cache.localMaxSize", k.LocalMaxSize)
	v.SetDefault("cache.localTTL", k.LocalTTL)
	v.SetDefault("cache.redisAddr", k.RedisAddr)
	v.SetDefault("cache.redisPassword", k.RedisPassword)
	v.SetDefault("cache.redisDB", k.RedisDB)
	v.SetDefault("cache.enableTwoPhase", k.EnableTwoPhase)
	v.SetDefault("cache.profileTTL", k.ProfileTTL)

	b := c.EventBus
	v.SetDefault("eventBus.type", b.Type)
	v.SetDefault("eventBus.channelBufferSize", b.ChannelBufferSize)
	v.SetDefault("eventBus.natsUrl", b.NATSUrl)
	v.SetDefault("eventBus.natsToken", b.NATSToken)
	v.SetDefault("eventBus.natsMaxReconnects", b.NATSMaxReconnects)
	v.SetDefault("eventBus.natsReconnectWait", b.NATSReconnectWait)

	v.SetDefault("worker.tenants", append([]string{}, c.Worker.Tenants...))

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.serviceName", c.Tracing.ServiceName)
}
