package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// MaxRetries is the default retry budget for newly created endpoints.
	MaxRetries int `mapstructure:"max_retries"`
}

type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	// PendingGrace is how long a pending delivery may sit untouched before
	// a sweep treats its enqueue as lost and re-enqueues it.
	PendingGrace time.Duration `mapstructure:"pending_grace"`
}

type APIConfig struct {
	// AuthToken, when set, requires "Authorization: Bearer <token>" on all
	// /api/v1 routes. Empty disables auth (e.g. behind a trusted proxy).
	AuthToken string `mapstructure:"auth_token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hookline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hookline")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOOKLINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/hookline.db")

	viper.SetDefault("delivery.workers", 20)
	viper.SetDefault("delivery.queue_size", 1024)
	viper.SetDefault("delivery.timeout", 10*time.Second)
	viper.SetDefault("delivery.base_delay", 60*time.Second)
	viper.SetDefault("delivery.max_retries", 3)

	viper.SetDefault("sweeper.interval", time.Minute)
	viper.SetDefault("sweeper.batch_size", 100)
	viper.SetDefault("sweeper.pending_grace", time.Minute)

	viper.SetDefault("api.auth_token", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
