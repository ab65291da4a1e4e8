// Package config loads settings for the library server and the libctl
// client from an optional file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LIBSYNC_CACHE_BACKEND.
const EnvPrefix = "LIBSYNC"

type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	DataDir        string `mapstructure:"data_dir"`
	StoreBackend   string `mapstructure:"store_backend"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits AllowedOrigins on commas.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type ClientConfig struct {
	ServerURL  string        `mapstructure:"server_url"`
	Workspace  string        `mapstructure:"workspace"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	FetchLimit int           `mapstructure:"fetch_limit"`
	BulkLimit  int           `mapstructure:"bulk_limit"`
	// Revalidate refreshes in the background after a cached open.
	Revalidate bool `mapstructure:"revalidate"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Log    LogConfig    `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.store_backend", "sqlite")
	v.SetDefault("server.allowed_origins", "*")

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.workspace", "default")
	v.SetDefault("client.timeout", 10*time.Second)
	v.SetDefault("client.max_retries", 2)
	v.SetDefault("client.retry_delay", 100*time.Millisecond)
	v.SetDefault("client.fetch_limit", 8)
	v.SetDefault("client.bulk_limit", 8)
	v.SetDefault("client.revalidate", false)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.dir", "./cache")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "libsync")
	v.SetDefault("cache.ttl", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// bare environment names accepted for compatibility with older deployments.
var legacyEnv = map[string]string{
	"server.host":            "HOST",
	"server.port":            "PORT",
	"server.data_dir":        "DATA_DIR",
	"server.store_backend":   "STORE_BACKEND",
	"server.allowed_origins": "ALLOWED_ORIGINS",
}

// Load reads path (if non-empty) and applies environment overrides.
// LIBSYNC_-prefixed variables take precedence over the bare names.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, bare := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, bare); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Client.ServerURL == "" {
		errs = append(errs, errors.New("client.server_url is required"))
	}
	if c.Client.Workspace == "" {
		errs = append(errs, errors.New("client.workspace is required"))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
