package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the server.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Database struct {
		DSN         string `mapstructure:"dsn"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`
	Redis struct {
		Addr    string `mapstructure:"addr"`
		Enabled bool   `mapstructure:"enabled"`
	} `mapstructure:"redis"`
	Coordinator struct {
		Interval      time.Duration `mapstructure:"interval"`
		BatchSize     int           `mapstructure:"batch_size"`
		Concurrency   int           `mapstructure:"concurrency"`
		RatePerSecond float64       `mapstructure:"rate_per_second"`
		// RetryDelay is how far out a failed queue entry is rescheduled.
		RetryDelay time.Duration `mapstructure:"retry_delay"`
		// ReconcileInterval drives the store sweep that runs next to the
		// redis queue.
		ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	} `mapstructure:"coordinator"`
	Engine struct {
		FailurePolicy string        `mapstructure:"failure_policy"`
		DeferRetry    time.Duration `mapstructure:"defer_retry"`
		NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	} `mapstructure:"engine"`
	Notify struct {
		WebhookURL        string `mapstructure:"webhook_url"`
		WebhookMaxRetries int    `mapstructure:"webhook_max_retries"`
	} `mapstructure:"notify"`
	ActionRunner struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"action_runner"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("coordinator.interval", 15*time.Second)
	v.SetDefault("coordinator.batch_size", 100)
	v.SetDefault("coordinator.concurrency", 8)
	v.SetDefault("coordinator.rate_per_second", 0)
	v.SetDefault("coordinator.retry_delay", time.Minute)
	v.SetDefault("coordinator.reconcile_interval", 5*time.Minute)
	v.SetDefault("engine.failure_policy", "block")
	v.SetDefault("engine.defer_retry", time.Minute)
	v.SetDefault("engine.notify_timeout", 10*time.Second)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_max_retries", 3)
	v.SetDefault("action_runner.url", "")
	v.SetDefault("action_runner.timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yaml from the given directories (default "." and
// "./config") and applies FLOWGATE_* environment overrides, e.g.
// FLOWGATE_DATABASE_DSN. A missing file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("FLOWGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &config, nil
}
