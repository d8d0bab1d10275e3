// Package config loads and validates harvester configuration via Viper.
//
// Values come from defaults, an optional harvester.yaml (searched in the
// working directory and $HOME/.harvester), HARVESTER_* environment
// variables and command line flags bound by the CLI, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/Sternrassler/grid-harvester/pkg/client"
	"github.com/Sternrassler/grid-harvester/pkg/harvest"
	"github.com/Sternrassler/grid-harvester/pkg/imagecache"
	"github.com/Sternrassler/grid-harvester/pkg/logging"
	"github.com/Sternrassler/grid-harvester/pkg/pagination"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// EnvPrefix prefixes every environment variable, e.g. HARVESTER_REDIS_ADDR.
const EnvPrefix = "HARVESTER"

// Config captures all harvester configuration knobs.
type Config struct {
	Owner   string        `mapstructure:"owner"`
	API     APIConfig     `mapstructure:"api"`
	Client  ClientConfig  `mapstructure:"client"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Images  ImagesConfig  `mapstructure:"images"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
}

// APIConfig addresses the paginated records endpoint.
type APIConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Path         string `mapstructure:"path"`
	SiteID       string `mapstructure:"site_id"`
	PageSize     int    `mapstructure:"page_size"`
	RecordsField string `mapstructure:"records_field"`
	KeyField     string `mapstructure:"key_field"`
	UserAgent    string `mapstructure:"user_agent"`
}

// ClientConfig configures pacing and retries of the HTTP client.
type ClientConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// RedisConfig enables the response cache and the shared rate limit state.
// An empty Addr disables both.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// HarvestConfig controls the metadata pipeline.
type HarvestConfig struct {
	Workers        int           `mapstructure:"workers"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MergeWait      time.Duration `mapstructure:"merge_wait"`
	ResultCapacity int           `mapstructure:"result_capacity"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	StoreDir       string        `mapstructure:"store_dir"`
}

// ImagesConfig controls the image cache.
type ImagesConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Width   int    `mapstructure:"width"`
	Workers int    `mapstructure:"workers"`
	Ext     string `mapstructure:"ext"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ServerConfig configures the optional status server. An empty Addr
// disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// New returns a Viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// ReadFile reads path, or searches harvester.yaml when path is empty. A
// missing searched file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("harvester")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.harvester")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("owner", "")
	v.SetDefault("api.base_url", "https://vsco.co")
	v.SetDefault("api.path", "")
	v.SetDefault("api.site_id", "")
	v.SetDefault("api.page_size", 1000)
	v.SetDefault("api.records_field", pagination.DefaultRecordsField)
	v.SetDefault("api.key_field", record.FieldID)
	v.SetDefault("api.user_agent", "grid-harvester/1.0")
	v.SetDefault("client.requests_per_second", 0)
	v.SetDefault("client.burst", 1)
	v.SetDefault("client.max_attempts", 1)
	v.SetDefault("client.initial_backoff", "1s")
	v.SetDefault("client.max_backoff", "30s")
	v.SetDefault("client.timeout", "0s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "5m")
	v.SetDefault("harvest.workers", 5)
	v.SetDefault("harvest.poll_interval", "50ms")
	v.SetDefault("harvest.merge_wait", "500ms")
	v.SetDefault("harvest.result_capacity", 0)
	v.SetDefault("harvest.fetch_timeout", "0s")
	v.SetDefault("harvest.store_dir", "meta")
	v.SetDefault("images.enabled", false)
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.width", 300)
	v.SetDefault("images.workers", 5)
	v.SetDefault("images.ext", imagecache.DefaultExt)
	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)
	v.SetDefault("server.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("owner is required")
	}
	if strings.ContainsAny(c.Owner, `/\`) {
		return fmt.Errorf("owner %q must not contain path separators", c.Owner)
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.ResultCapacity < 0 {
		return fmt.Errorf("harvest.result_capacity must be >= 0")
	}
	if c.Images.Workers <= 0 {
		return fmt.Errorf("images.workers must be > 0")
	}
	if c.Images.Width < 0 {
		return fmt.Errorf("images.width must be >= 0")
	}
	if c.Client.RequestsPerSecond < 0 {
		return fmt.Errorf("client.requests_per_second must be >= 0")
	}
	if c.Client.MaxAttempts < 1 {
		return fmt.Errorf("client.max_attempts must be >= 1")
	}
	if c.Harvest.StoreDir == "" {
		return fmt.Errorf("harvest.store_dir is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ValidateAPI checks the settings needed to talk to the records endpoint.
func (c Config) ValidateAPI() error {
	if c.API.Path == "" {
		return fmt.Errorf("api.path is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute URL", c.API.BaseURL)
	}
	if c.API.UserAgent == "" {
		return fmt.Errorf("api.user_agent is required")
	}
	return nil
}

// Endpoint returns the records endpoint of the configured owner.
func (c Config) Endpoint() pagination.Endpoint {
	params := url.Values{}
	if c.API.SiteID != "" {
		params.Set("site_id", c.API.SiteID)
	}
	return pagination.Endpoint{
		BaseURL:  c.API.BaseURL,
		Path:     c.API.Path,
		Params:   params,
		PageSize: c.API.PageSize,
	}
}

// RedisOptions returns the connection options, or nil when Redis is
// disabled.
func (c Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// ClientConfig returns the HTTP client configuration. rdb may be nil.
func (c Config) ClientConfig(rdb *redis.Client) client.Config {
	cfg := client.DefaultConfig(c.API.UserAgent)
	cfg.Redis = rdb
	cfg.RequestsPerSecond = c.Client.RequestsPerSecond
	cfg.Burst = c.Client.Burst
	cfg.Timeout = c.Client.Timeout
	cfg.Retry.MaxAttempts = c.Client.MaxAttempts
	if c.Client.InitialBackoff > 0 {
		cfg.Retry.InitialBackoff = c.Client.InitialBackoff
	}
	if c.Client.MaxBackoff > 0 {
		cfg.Retry.MaxBackoff = c.Client.MaxBackoff
	}
	if c.Redis.CacheTTL > 0 {
		cfg.CacheTTL = c.Redis.CacheTTL
	}
	return cfg
}

// HarvestConfig returns the pipeline configuration without a resource
// cache.
func (c Config) HarvestConfig() harvest.Config {
	return harvest.Config{
		Workers:        c.Harvest.Workers,
		PollInterval:   c.Harvest.PollInterval,
		MergeWait:      c.Harvest.MergeWait,
		ResultCapacity: c.Harvest.ResultCapacity,
		FetchTimeout:   c.Harvest.FetchTimeout,
		KeyField:       c.API.KeyField,
	}
}

// ImageConfig returns the image cache configuration.
func (c Config) ImageConfig() imagecache.Config {
	cfg := imagecache.DefaultConfig()
	cfg.Workers = c.Images.Workers
	cfg.Width = c.Images.Width
	if c.Images.Ext != "" {
		cfg.Ext = c.Images.Ext
	}
	return cfg
}

// LogConfig returns the logger configuration.
func (c Config) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}
