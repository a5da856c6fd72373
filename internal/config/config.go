// Package config loads the dispatch client configuration from a config
// file, a .env file and DEPOT_ environment variables, in increasing order
// of precedence.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DEPOT_SERVER_BASE_URL
const EnvPrefix = "DEPOT"

// Config holds all client configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Polling PollingConfig `mapstructure:"polling"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig points at the dispatch API
type ServerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StorageConfig locates the local SQLite file
type StorageConfig struct {
	Path string `mapstructure:"path"`
	// ProgressRetention is how long route progress marks are kept
	ProgressRetention time.Duration `mapstructure:"progress_retention"`
}

// SessionConfig selects where session slots live
type SessionConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig is used when session.backend is redis
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PollingConfig holds the refresh interval of each view
type PollingConfig struct {
	Home   time.Duration `mapstructure:"home"`
	Center time.Duration `mapstructure:"center"`
	Admin  time.Duration `mapstructure:"admin"`
}

// ScanConfig configures the local scan listener
type ScanConfig struct {
	Listen string  `mapstructure:"listen"`
	Rate   float64 `mapstructure:"rate"`
	Burst  int     `mapstructure:"burst"`
}

// LoggingConfig configures logrus
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Load reads configuration. path may name a config file or a directory to
// search for config.yaml; empty searches the working directory and
// ~/.depot-dispatch. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" && !isDir(path) {
		v.SetConfigFile(path)
	} else {
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.depot-dispatch")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:5000")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("server.user_agent", "depot-dispatch")

	v.SetDefault("storage.path", "depot-dispatch.db")
	v.SetDefault("storage.progress_retention", "168h")

	v.SetDefault("session.backend", BackendSQLite)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "depot:session:")
	v.SetDefault("redis.ttl", "12h")

	v.SetDefault("polling.home", "15s")
	v.SetDefault("polling.center", "20s")
	v.SetDefault("polling.admin", "60s")

	v.SetDefault("scan.listen", "127.0.0.1:8088")
	v.SetDefault("scan.rate", 5.0)
	v.SetDefault("scan.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// Validate checks values the client cannot run with
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}
	if c.Server.Timeout <= 0 {
		return errors.New("server.timeout must be positive")
	}
	switch c.Session.Backend {
	case BackendSQLite, BackendRedis:
	default:
		return errors.Errorf("session.backend must be %s or %s, got %q", BackendSQLite, BackendRedis, c.Session.Backend)
	}
	if c.Polling.Home <= 0 || c.Polling.Center <= 0 || c.Polling.Admin <= 0 {
		return errors.New("polling intervals must be positive")
	}
	if c.Scan.Rate <= 0 || c.Scan.Burst <= 0 {
		return errors.New("scan.rate and scan.burst must be positive")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging.level")
	}
	return nil
}

// NewLogger builds the process logger
func (c LoggingConfig) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(c.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
