package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "QUALITYMARKER_CONFIG"
	pageSourceEnv     = "QUALITYMARKER_PAGE"
	statsEndpointEnv  = "QUALITYMARKER_STATS_ENDPOINT"
	logLevelEnv       = "QUALITYMARKER_LOG_LEVEL"
	logFormatEnv      = "QUALITYMARKER_LOG_FORMAT"
	requestsPerSecEnv = "QUALITYMARKER_REQUESTS_PER_SECOND"
	dotenvFile        = ".env"
)

// Config holds high-level settings required across the application.
type Config struct {
	Page      PageConfig      `yaml:"page"`
	API       APIConfig       `yaml:"api"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Quality   QualityConfig   `yaml:"quality"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Shapes    ShapesConfig    `yaml:"shapes"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PageConfig names the listing page the embedding binary annotates.
type PageConfig struct {
	Source        string        `yaml:"source"`
	SettleTimeout time.Duration `yaml:"settleTimeout"`
}

// APIConfig describes the stats endpoint.
type APIConfig struct {
	StatsEndpoint     string        `yaml:"statsEndpoint"`
	UserAgent         string        `yaml:"userAgent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// FetchConfig tunes the retry policy of the stats fetcher.
type FetchConfig struct {
	RetryLimit  int           `yaml:"retryLimit"`
	BackoffStep time.Duration `yaml:"backoffStep"`
}

// QualityConfig holds the classifier thresholds and badge texts.
type QualityConfig struct {
	MinViews    int64   `yaml:"minViews"`
	MinScore    float64 `yaml:"minScore"`
	TagText     string  `yaml:"tagText"`
	LoadingIcon string  `yaml:"loadingIcon"`
}

// SchedulerConfig controls batching and rescan triggers.
type SchedulerConfig struct {
	BatchSize      int           `yaml:"batchSize"`
	BatchPause     time.Duration `yaml:"batchPause"`
	WarmUp         time.Duration `yaml:"warmUp"`
	RescanInterval time.Duration `yaml:"rescanInterval"`
	ScrollDebounce time.Duration `yaml:"scrollDebounce"`
}

// ShapesConfig selects built-in card shapes and defines custom ones.
type ShapesConfig struct {
	Enabled []string      `yaml:"enabled"`
	Custom  []ShapeConfig `yaml:"custom"`
}

// ShapeConfig describes a card layout for one page context.
type ShapeConfig struct {
	Name      string `yaml:"name"`
	Selector  string `yaml:"selector"`
	Link      string `yaml:"link"`
	Container string `yaml:"container"`
	Loader    string `yaml:"loader"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(dotenvFile); err != nil && !os.IsNotExist(err) {
		log.Printf("config: cannot load %s: %v", dotenvFile, err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.sanitize()
	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(pageSourceEnv); v != "" {
		c.Page.Source = v
	}

	if v := os.Getenv(statsEndpointEnv); v != "" {
		c.API.StatsEndpoint = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(requestsPerSecEnv); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err != nil {
			log.Printf("config: invalid %s=%q: %v", requestsPerSecEnv, v, err)
		} else {
			c.API.RequestsPerSecond = rps
		}
	}
}

// sanitize replaces out-of-range values with defaults.
func (c *Config) sanitize() {
	def := defaultConfig()

	if c.Fetch.RetryLimit < 0 {
		log.Printf("config: retryLimit %d is negative, reverting to %d", c.Fetch.RetryLimit, def.Fetch.RetryLimit)
		c.Fetch.RetryLimit = def.Fetch.RetryLimit
	}
	if c.Scheduler.BatchSize <= 0 {
		log.Printf("config: batchSize %d is not positive, reverting to %d", c.Scheduler.BatchSize, def.Scheduler.BatchSize)
		c.Scheduler.BatchSize = def.Scheduler.BatchSize
	}
	if c.Quality.MinScore < 0 || c.Quality.MinScore > 1 {
		log.Printf("config: minScore %v outside [0,1], reverting to %v", c.Quality.MinScore, def.Quality.MinScore)
		c.Quality.MinScore = def.Quality.MinScore
	}
	if c.Quality.MinViews < 0 {
		log.Printf("config: minViews %d is negative, reverting to %d", c.Quality.MinViews, def.Quality.MinViews)
		c.Quality.MinViews = def.Quality.MinViews
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.API.RequestsPerSecond < 0 {
		c.API.RequestsPerSecond = 0
	}
	if len(c.Shapes.Enabled) == 0 && len(c.Shapes.Custom) == 0 {
		c.Shapes.Enabled = def.Shapes.Enabled
	}
}

func mergeConfig(base, override Config) Config {
	if override.Page.Source != "" {
		base.Page.Source = override.Page.Source
	}
	if override.Page.SettleTimeout > 0 {
		base.Page.SettleTimeout = override.Page.SettleTimeout
	}

	if override.API.StatsEndpoint != "" {
		base.API.StatsEndpoint = override.API.StatsEndpoint
	}
	if override.API.UserAgent != "" {
		base.API.UserAgent = override.API.UserAgent
	}
	if override.API.Timeout != 0 {
		base.API.Timeout = override.API.Timeout
	}
	if override.API.RequestsPerSecond != 0 {
		base.API.RequestsPerSecond = override.API.RequestsPerSecond
	}

	if override.Fetch.RetryLimit != 0 {
		base.Fetch.RetryLimit = override.Fetch.RetryLimit
	}
	if override.Fetch.BackoffStep != 0 {
		base.Fetch.BackoffStep = override.Fetch.BackoffStep
	}

	if override.Quality.MinViews != 0 {
		base.Quality.MinViews = override.Quality.MinViews
	}
	if override.Quality.MinScore != 0 {
		base.Quality.MinScore = override.Quality.MinScore
	}
	if override.Quality.TagText != "" {
		base.Quality.TagText = override.Quality.TagText
	}
	if override.Quality.LoadingIcon != "" {
		base.Quality.LoadingIcon = override.Quality.LoadingIcon
	}

	if override.Scheduler.BatchSize != 0 {
		base.Scheduler.BatchSize = override.Scheduler.BatchSize
	}
	if override.Scheduler.BatchPause != 0 {
		base.Scheduler.BatchPause = override.Scheduler.BatchPause
	}
	if override.Scheduler.WarmUp != 0 {
		base.Scheduler.WarmUp = override.Scheduler.WarmUp
	}
	if override.Scheduler.RescanInterval != 0 {
		base.Scheduler.RescanInterval = override.Scheduler.RescanInterval
	}
	if override.Scheduler.ScrollDebounce != 0 {
		base.Scheduler.ScrollDebounce = override.Scheduler.ScrollDebounce
	}

	if len(override.Shapes.Enabled) > 0 {
		base.Shapes.Enabled = override.Shapes.Enabled
	}
	if len(override.Shapes.Custom) > 0 {
		base.Shapes.Custom = override.Shapes.Custom
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Page: PageConfig{SettleTimeout: 2 * time.Minute},
		API: APIConfig{
			StatsEndpoint: "https://api.bilibili.com/x/web-interface/view",
			UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) QualityMarker/1.0",
			Timeout:       10 * time.Second,
		},
		Fetch: FetchConfig{RetryLimit: 3, BackoffStep: time.Second},
		Quality: QualityConfig{
			MinViews:    1000,
			MinScore:    0.042,
			TagText:     "🔥 精选",
			LoadingIcon: "⏳",
		},
		Scheduler: SchedulerConfig{
			BatchSize:      5,
			BatchPause:     100 * time.Millisecond,
			RescanInterval: 3 * time.Second,
			ScrollDebounce: 200 * time.Millisecond,
		},
		Shapes:  ShapesConfig{Enabled: []string{"feed", "recommend", "popular"}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
