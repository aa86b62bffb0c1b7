package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine settings: storage, HTTP behavior, cache TTLs and
// content filtering. Values come from an optional YAML file overridden by
// UIPTV_* environment variables. Call LoadEnvFile(".env") before Load() to
// use a .env file.
type Config struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Cache TTLs. Zero means the per-mode defaults: 30 days for VOD/series
	// categories, 12 hours for episode lists.
	CategoryTTL time.Duration `yaml:"category_ttl"`
	EpisodeTTL  time.Duration `yaml:"episode_ttl"`

	// Content filtering: comma-separated blocklists plus the global pauses.
	FilterChannels   string `yaml:"filter_channels"`
	FilterCategories string `yaml:"filter_categories"`
	PauseFiltering   bool   `yaml:"pause_filtering"`
	PauseCaching     bool   `yaml:"pause_caching"`
}

// Load reads the YAML file named by UIPTV_CONFIG (or ./uiptv.yaml when
// present), then applies environment overrides on top.
func Load() (*Config, error) {
	c := &Config{
		DBPath:      "./uiptv.db",
		LogLevel:    "info",
		HTTPTimeout: 45 * time.Second,
	}

	path := os.Getenv("UIPTV_CONFIG")
	if path == "" {
		if _, err := os.Stat("uiptv.yaml"); err == nil {
			path = "uiptv.yaml"
		}
	}
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}

	c.DBPath = getEnv("UIPTV_DB", c.DBPath)
	c.LogLevel = getEnv("UIPTV_LOG_LEVEL", c.LogLevel)
	c.HTTPTimeout = getEnvDuration("UIPTV_HTTP_TIMEOUT", c.HTTPTimeout)
	c.CategoryTTL = getEnvDuration("UIPTV_CATEGORY_TTL", c.CategoryTTL)
	c.EpisodeTTL = getEnvDuration("UIPTV_EPISODE_TTL", c.EpisodeTTL)
	c.FilterChannels = getEnv("UIPTV_FILTER_CHANNELS", c.FilterChannels)
	c.FilterCategories = getEnv("UIPTV_FILTER_CATEGORIES", c.FilterCategories)
	c.PauseFiltering = getEnvBool("UIPTV_PAUSE_FILTERING", c.PauseFiltering)
	c.PauseCaching = getEnvBool("UIPTV_PAUSE_CACHING", c.PauseCaching)

	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 45 * time.Second
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
