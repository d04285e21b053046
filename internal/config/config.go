// Package config loads newsflow configuration from the environment, with an
// optional YAML file and .env support.
//
// Environment variables always win. Files are loaded in priority order:
//
//  1. ENV_FILE (if set, loads only this file)
//  2. .env.local (overrides .env)
//  3. .env
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/newsflow/internal/logger"
)

// Defaults.
const (
	DefaultHTTPAddr         = ":8080"
	DefaultRotationPeriod   = 180 * time.Second
	DefaultSectionThreshold = 8
	DefaultMaxSectionCache  = 20
	DefaultAIModel          = "claude-3-5-haiku-latest"
	DefaultStoreDatabase    = "newsflow"

	maxAIKeys        = 4
	maxPublisherKeys = 5
	maxCacheShards   = 8
)

// CacheShard is one remote cache endpoint.
type CacheShard struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Config is the root newsflow configuration.
type Config struct {
	Logging logger.Config `yaml:"logging"`

	HTTPAddr string `env:"HTTP_ADDR" yaml:"http_addr"`

	StoreURI      string `env:"STORE_URI" yaml:"store_uri"`
	StoreDatabase string `env:"STORE_DB"  yaml:"store_database"`

	CacheDisabled bool         `env:"CACHE_DISABLED" yaml:"cache_disabled"`
	CacheShards   []CacheShard `yaml:"cache_shards"`

	AIModel string   `env:"AI_MODEL" yaml:"ai_model"`
	AIKeys  []string `yaml:"ai_keys"`

	PublisherAKey  string   `env:"PUBLISHER_A_KEY" yaml:"publisher_a_key"`
	PublisherBKeys []string `yaml:"publisher_b_keys"`

	RotationPeriod   time.Duration `yaml:"rotation_period"`
	SectionThreshold int           `env:"SECTION_THRESHOLD" yaml:"section_threshold"`
	MaxSectionCache  int           `env:"MAX_SECTION_CACHE" yaml:"max_section_cache"`
}

// Load reads configuration. A YAML file is consulted only when CONFIG_PATH is
// set; the environment is authoritative either way.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	cfg := &Config{}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.collectNumberedKeys()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env files; missing files are not an error.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// collectNumberedKeys gathers the enumerated credential and shard variables
// (AI_KEY, AI_KEY_2..4, PUBLISHER_B_KEY_1..5, CACHE_URL_1..M / CACHE_TOKEN_1..M).
func (c *Config) collectNumberedKeys() {
	if keys := numberedValues("AI_KEY", maxAIKeys); len(keys) > 0 {
		c.AIKeys = keys
	}
	if keys := numberedValues("PUBLISHER_B_KEY", maxPublisherKeys); len(keys) > 0 {
		c.PublisherBKeys = keys
	}

	var shards []CacheShard
	for i := 1; i <= maxCacheShards; i++ {
		url := os.Getenv(fmt.Sprintf("CACHE_URL_%d", i))
		if url == "" {
			break
		}
		shards = append(shards, CacheShard{
			URL:   url,
			Token: os.Getenv(fmt.Sprintf("CACHE_TOKEN_%d", i)),
		})
	}
	if len(shards) > 0 {
		c.CacheShards = shards
	}
}

// numberedValues reads NAME (or NAME_1 when NAME is unset), NAME_2, NAME_3...
// stopping at the first gap after the first variable.
func numberedValues(name string, max int) []string {
	var vals []string
	if v := os.Getenv(name); v != "" {
		vals = append(vals, v)
	} else if v := os.Getenv(name + "_1"); v != "" {
		vals = append(vals, v)
	}
	for i := 2; i <= max; i++ {
		v := os.Getenv(fmt.Sprintf("%s_%d", name, i))
		if v == "" {
			break
		}
		vals = append(vals, v)
	}
	return vals
}

func (c *Config) setDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.StoreDatabase == "" {
		c.StoreDatabase = DefaultStoreDatabase
	}
	if c.AIModel == "" {
		c.AIModel = DefaultAIModel
	}
	if c.RotationPeriod <= 0 {
		c.RotationPeriod = DefaultRotationPeriod
	}
	if sec := os.Getenv("ROTATION_PERIOD_SEC"); sec != "" {
		if d, err := time.ParseDuration(sec + "s"); err == nil && d > 0 {
			c.RotationPeriod = d
		}
	}
	if c.SectionThreshold <= 0 {
		c.SectionThreshold = DefaultSectionThreshold
	}
	if c.MaxSectionCache <= 0 {
		c.MaxSectionCache = DefaultMaxSectionCache
	}
}

func (c *Config) validate() error {
	if c.StoreURI == "" {
		return fmt.Errorf("STORE_URI is required")
	}
	if len(c.AIKeys) == 0 {
		return fmt.Errorf("at least one AI credential is required (AI_KEY)")
	}
	if !c.CacheDisabled && len(c.CacheShards) == 0 {
		return fmt.Errorf("no cache shards configured; set CACHE_URL_1 or CACHE_DISABLED=true")
	}
	return nil
}
