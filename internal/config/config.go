// Package config loads the feedcache configuration from defaults, an optional
// YAML file and FEEDCACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sternrassler/feedcache/pkg/cache"
	"github.com/Sternrassler/feedcache/pkg/imagedetect"
	"github.com/Sternrassler/feedcache/pkg/logging"
	"github.com/Sternrassler/feedcache/pkg/orchestrator"
	"github.com/Sternrassler/feedcache/pkg/store"
	"github.com/Sternrassler/feedcache/pkg/upstream"
)

// EnvPrefix prefixes every environment override, e.g. FEEDCACHE_CACHE_TTL.
const EnvPrefix = "FEEDCACHE"

type Config struct {
	Server         ServerConfig                `mapstructure:"server"`
	Cache          CacheConfig                 `mapstructure:"cache"`
	Upstream       UpstreamConfig              `mapstructure:"upstream"`
	ImageDetection ImageDetectionConfig        `mapstructure:"image_detection"`
	Logging        LoggingConfig               `mapstructure:"logging"`
	Collections    map[string]CollectionConfig `mapstructure:"collections"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	TTL         time.Duration `mapstructure:"ttl"`
	ImageTTL    time.Duration `mapstructure:"image_ttl"`
	Backend     string        `mapstructure:"backend"`
	Dir         string        `mapstructure:"dir"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisDB     int           `mapstructure:"redis_db"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxPages       int           `mapstructure:"max_pages"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type ImageDetectionConfig struct {
	Gateways     []string      `mapstructure:"gateways"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	RangeBytes   int64         `mapstructure:"range_bytes"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// CollectionConfig maps a public collection name to an upstream schema.
type CollectionConfig struct {
	Schema       string `mapstructure:"schema"`
	Title        string `mapstructure:"title"`
	Description  string `mapstructure:"description"`
	Link         string `mapstructure:"link"`
	EnrichImages bool   `mapstructure:"enrich_images"`
	ImageField   string `mapstructure:"image_field"`
}

func defaultConfig() *Config {
	cacheDefaults := cache.DefaultConfig()
	upstreamDefaults := upstream.DefaultConfig("")
	detectDefaults := imagedetect.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         cacheDefaults.TTL,
			ImageTTL:    cacheDefaults.ImageTTL,
			Backend:     store.BackendLevelDB,
			Dir:         filepath.Join(".", "cache"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "feedcache",
		},
		Upstream: UpstreamConfig{
			Timeout:        upstreamDefaults.Timeout,
			MaxConcurrency: upstreamDefaults.MaxConcurrency,
			MaxPages:       upstreamDefaults.MaxPages,
			UserAgent:      upstreamDefaults.UserAgent,
			MaxRetries:     upstreamDefaults.Retry.MaxAttempts,
			InitialBackoff: upstreamDefaults.Retry.InitialBackoff,
			MaxBackoff:     upstreamDefaults.Retry.MaxBackoff,
		},
		ImageDetection: ImageDetectionConfig{
			Gateways:     detectDefaults.Gateways,
			Timeout:      detectDefaults.Timeout,
			MaxBodyBytes: detectDefaults.MaxBodyBytes,
			RangeBytes:   detectDefaults.RangeBytes,
			Concurrency:  orchestrator.DefaultConfig().EnrichConcurrency,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// setDefaults registers every leaf key so env overrides of nested keys work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.image_ttl", cfg.Cache.ImageTTL)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.redis_prefix", cfg.Cache.RedisPrefix)

	v.SetDefault("upstream.base_url", cfg.Upstream.BaseURL)
	v.SetDefault("upstream.timeout", cfg.Upstream.Timeout)
	v.SetDefault("upstream.max_concurrency", cfg.Upstream.MaxConcurrency)
	v.SetDefault("upstream.max_pages", cfg.Upstream.MaxPages)
	v.SetDefault("upstream.user_agent", cfg.Upstream.UserAgent)
	v.SetDefault("upstream.max_retries", cfg.Upstream.MaxRetries)
	v.SetDefault("upstream.initial_backoff", cfg.Upstream.InitialBackoff)
	v.SetDefault("upstream.max_backoff", cfg.Upstream.MaxBackoff)

	v.SetDefault("image_detection.gateways", cfg.ImageDetection.Gateways)
	v.SetDefault("image_detection.timeout", cfg.ImageDetection.Timeout)
	v.SetDefault("image_detection.max_body_bytes", cfg.ImageDetection.MaxBodyBytes)
	v.SetDefault("image_detection.range_bytes", cfg.ImageDetection.RangeBytes)
	v.SetDefault("image_detection.concurrency", cfg.ImageDetection.Concurrency)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
}

// Load reads the configuration. configPath may be empty, in which case
// feedcache.yaml is looked up in the working directory and
// $HOME/.config/feedcache; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, defaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("feedcache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "feedcache"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Cache.Dir = expandPath(cfg.Cache.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := checkURL("server.base_url", c.Server.BaseURL); err != nil {
		errs = append(errs, err)
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive"))
	}
	if c.Cache.ImageTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.image_ttl must be positive"))
	}
	switch strings.ToLower(c.Cache.Backend) {
	case store.BackendLevelDB, store.BackendBolt:
		if c.Cache.Dir == "" {
			errs = append(errs, fmt.Errorf("cache.dir is required for backend %s", c.Cache.Backend))
		}
	case store.BackendRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("cache.redis_addr is required for backend redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of leveldb, bolt, redis", c.Cache.Backend))
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url is required"))
	} else if err := checkURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Upstream.UserAgent == "" {
		errs = append(errs, fmt.Errorf("upstream.user_agent is required"))
	}
	if c.Upstream.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("upstream.max_retries must be at least 1"))
	}
	if c.Upstream.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("upstream.max_pages must be at least 1"))
	}

	enrich := false
	for name, coll := range c.Collections {
		if name == "" {
			errs = append(errs, fmt.Errorf("collections: empty collection name"))
		}
		if coll.Link != "" {
			if err := checkURL("collections."+name+".link", coll.Link); err != nil {
				errs = append(errs, err)
			}
		}
		enrich = enrich || coll.EnrichImages
	}
	if enrich {
		if len(c.ImageDetection.Gateways) == 0 {
			errs = append(errs, fmt.Errorf("image_detection.gateways is required when a collection enables images"))
		}
		for _, gw := range c.ImageDetection.Gateways {
			if err := checkURL("image_detection.gateways", gw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// EnrichesImages reports whether any collection enables image enrichment.
func (c *Config) EnrichesImages() bool {
	for _, coll := range c.Collections {
		if coll.EnrichImages {
			return true
		}
	}
	return false
}

// StoreConfig returns the store backend configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Backend:     c.Cache.Backend,
		Dir:         c.Cache.Dir,
		RedisAddr:   c.Cache.RedisAddr,
		RedisDB:     c.Cache.RedisDB,
		RedisPrefix: c.Cache.RedisPrefix,
	}
}

// CacheConfig returns the cache manager configuration.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		TTL:      c.Cache.TTL,
		ImageTTL: c.Cache.ImageTTL,
	}
}

// UpstreamConfig returns the upstream client configuration.
func (c *Config) UpstreamConfig() upstream.Config {
	cfg := upstream.DefaultConfig(c.Upstream.BaseURL)
	cfg.UserAgent = c.Upstream.UserAgent
	cfg.Timeout = c.Upstream.Timeout
	cfg.MaxConcurrency = c.Upstream.MaxConcurrency
	cfg.MaxPages = c.Upstream.MaxPages
	cfg.Retry.MaxAttempts = c.Upstream.MaxRetries
	if c.Upstream.InitialBackoff > 0 {
		cfg.Retry.InitialBackoff = c.Upstream.InitialBackoff
	}
	if c.Upstream.MaxBackoff > 0 {
		cfg.Retry.MaxBackoff = c.Upstream.MaxBackoff
	}
	return cfg
}

// DetectorConfig returns the image detection configuration.
func (c *Config) DetectorConfig() imagedetect.Config {
	cfg := imagedetect.DefaultConfig()
	cfg.Gateways = c.ImageDetection.Gateways
	cfg.Timeout = c.ImageDetection.Timeout
	cfg.MaxBodyBytes = c.ImageDetection.MaxBodyBytes
	cfg.RangeBytes = c.ImageDetection.RangeBytes
	cfg.UserAgent = c.Upstream.UserAgent
	return cfg
}

// OrchestratorConfig returns the request orchestrator configuration.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	collections := make(map[string]orchestrator.Collection, len(c.Collections))
	for name, coll := range c.Collections {
		collections[name] = orchestrator.Collection{
			Schema:       coll.Schema,
			Title:        coll.Title,
			Description:  coll.Description,
			Link:         coll.Link,
			EnrichImages: coll.EnrichImages,
			ImageField:   coll.ImageField,
		}
	}
	return orchestrator.Config{
		Enabled:           c.Cache.Enabled,
		BaseURL:           c.Server.BaseURL,
		Collections:       collections,
		EnrichConcurrency: c.ImageDetection.Concurrency,
	}
}

// LoggingConfig returns the logger configuration writing to stderr.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid URL %q", field, raw)
	}
	return nil
}

// expandPath expands ~ to the home directory and converts to an absolute path.
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}
