// Package config loads the server configuration from an optional YAML file,
// a .env file and DUO_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultJWTSecret is only acceptable for local development.
const DefaultJWTSecret = "dev-secret-change-me"

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Port        int    `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "mongo".
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type SecurityConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is "text" (tint) or "json".
	Format string `mapstructure:"format"`
}

type LedgerConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
}

type NotifyConfig struct {
	// Driver is "log" or "redis".
	Driver    string        `mapstructure:"driver"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	Channel   string        `mapstructure:"channel"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_path", "/metrics")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./data/duoledger.db")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "duoledger")

	v.SetDefault("jwt.secret", DefaultJWTSecret)
	v.SetDefault("jwt.expire_hours", 24*7)

	v.SetDefault("security.bcrypt_cost", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("ledger.max_attempts", 5)
	v.SetDefault("ledger.base_backoff", 20*time.Millisecond)

	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.redis_addr", "localhost:6379")
	v.SetDefault("notify.redis_db", 0)
	v.SetDefault("notify.channel", "duoledger:notifications")
	v.SetDefault("notify.timeout", 5*time.Second)
}

// Load reads the configuration. An empty path looks for an optional
// config.yaml in the working directory; an explicit path must exist.
// Environment overrides use the DUO_ prefix, e.g. DUO_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DUO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "mongo":
		if c.Storage.MongoURI == "" || c.Storage.MongoDatabase == "" {
			errs = append(errs, errors.New("storage.mongo_uri and storage.mongo_database are required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Notify.Driver {
	case "log", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown notify.driver %q", c.Notify.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.JWT.ExpireHours <= 0 {
		errs = append(errs, errors.New("jwt.expire_hours must be positive"))
	}
	if c.Ledger.MaxAttempts <= 0 {
		errs = append(errs, errors.New("ledger.max_attempts must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// TokenDuration is the lifetime of issued JWTs.
func (c *Config) TokenDuration() time.Duration {
	return time.Duration(c.JWT.ExpireHours) * time.Hour
}
