// Package config loads Rivulet's TOML configuration file. A missing file
// yields defaults; missing keys keep their per-field default; unknown keys
// are ignored; an invalid value falls back to that field's default and is
// recorded as a warning rather than failing the load.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"rivulet/internal/errkind"
	"rivulet/internal/scraper"
)

// ColorsConfig names the ANSI/terminal colors used by the (externally
// implemented) terminal UI. Values are free-form color names or hex codes;
// the UI is responsible for interpreting them.
type ColorsConfig struct {
	Background string `toml:"background"`
	Foreground string `toml:"foreground"`
	Accent     string `toml:"accent"`
	Unread     string `toml:"unread"`
	Starred    string `toml:"starred"`
}

func defaultColors() ColorsConfig {
	return ColorsConfig{
		Background: "default",
		Foreground: "default",
		Accent:     "blue",
		Unread:     "green",
		Starred:    "yellow",
	}
}

// KeybindingsConfig maps named actions to key chords, consumed by the
// (externally implemented) terminal UI's key router.
type KeybindingsConfig struct {
	Quit         string `toml:"quit"`
	Refresh      string `toml:"refresh"`
	MarkRead     string `toml:"mark_read"`
	ToggleStar   string `toml:"toggle_star"`
	NextPane     string `toml:"next_pane"`
	PreviousPane string `toml:"previous_pane"`
	Open         string `toml:"open"`
}

func defaultKeybindings() KeybindingsConfig {
	return KeybindingsConfig{
		Quit:         "q",
		Refresh:      "r",
		MarkRead:     "m",
		ToggleStar:   "s",
		NextPane:     "tab",
		PreviousPane: "shift+tab",
		Open:         "enter",
	}
}

// ScraperConfig tunes the headless-browser content extraction pipeline.
type ScraperConfig struct {
	Enabled          bool     `toml:"enabled"`
	MaxConcurrency   int      `toml:"max_concurrency"`
	TimeoutSecs      int      `toml:"timeout_secs"`
	WaitAfterLoadMs  int      `toml:"wait_after_load_ms"`
	ContentThreshold int      `toml:"content_threshold"`
	BlockImages      bool     `toml:"block_images"`
	BlockStylesheets bool     `toml:"block_stylesheets"`
	BlockFonts       bool     `toml:"block_fonts"`
	RemoveSelectors  []string `toml:"remove_selectors"`
	ContentSelectors []string `toml:"content_selectors"`
	UserAgent        string   `toml:"user_agent"`
	Visible          bool     `toml:"visible"`
}

func defaultScraperConfig() ScraperConfig {
	d := scraper.DefaultConfig()
	return ScraperConfig{
		Enabled:          true,
		MaxConcurrency:   3,
		TimeoutSecs:      d.TimeoutSecs,
		WaitAfterLoadMs:  d.WaitAfterLoadMs,
		ContentThreshold: 200,
		BlockImages:      d.BlockImages,
		BlockStylesheets: d.BlockStylesheets,
		BlockFonts:       d.BlockFonts,
		RemoveSelectors:  d.RemoveSelectors,
		ContentSelectors: d.ContentSelectors,
	}
}

// ToScraperConfig converts the persisted scraper settings into the form
// the scraper package accepts.
func (c ScraperConfig) ToScraperConfig() scraper.Config {
	return scraper.Config{
		UserAgent:        c.UserAgent,
		TimeoutSecs:      c.TimeoutSecs,
		WaitAfterLoadMs:  c.WaitAfterLoadMs,
		BlockImages:      c.BlockImages,
		BlockStylesheets: c.BlockStylesheets,
		BlockFonts:       c.BlockFonts,
		RemoveSelectors:  c.RemoveSelectors,
		ContentSelectors: c.ContentSelectors,
		Visible:          c.Visible,
	}
}

// Config is Rivulet's full persisted configuration.
type Config struct {
	DatabasePath      string            `toml:"database_path"`
	LogLevel          string            `toml:"log_level"`
	FetchConcurrency  int               `toml:"fetch_concurrency"`
	FetchWorkers      int               `toml:"fetch_workers"`
	RequestsPerMinute int               `toml:"requests_per_minute"`
	RateLimitBurst    int               `toml:"rate_limit_burst"`
	DaemonInterval    string            `toml:"daemon_interval"`
	Colors            ColorsConfig      `toml:"colors"`
	Keybindings       KeybindingsConfig `toml:"keybindings"`
	Scraper           ScraperConfig     `toml:"scraper"`

	// Warnings accumulates human-readable notes about invalid values that
	// were ignored in favor of defaults; populated by LoadFromFile only.
	Warnings []string `toml:"-"`
}

// Default returns Rivulet's built-in configuration.
func Default() *Config {
	return &Config{
		DatabasePath:      "",
		LogLevel:          "info",
		FetchConcurrency:  8,
		FetchWorkers:      8,
		RequestsPerMinute: 30,
		RateLimitBurst:    5,
		DaemonInterval:    "1h",
		Colors:            defaultColors(),
		Keybindings:       defaultKeybindings(),
		Scraper:           defaultScraperConfig(),
	}
}

// Load reads configPath, falling back silently to Default() if the file
// does not exist.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFromFile(configPath)
}

// LoadFromFile parses a TOML config file over a copy of the defaults, so
// any key the file omits keeps its default value. Unknown keys are
// ignored. Fields that parse but hold an out-of-range value are reset to
// default and noted in Warnings.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %v", errkind.ErrConfig, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		// Malformed TOML as a whole: recover by falling back entirely to
		// defaults, matching the documented "invalid config is recovered
		// by defaults" policy.
		recovered := Default()
		recovered.Warnings = append(recovered.Warnings, fmt.Sprintf("config file %s is malformed, using defaults: %v", path, err))
		return recovered, nil
	}

	cfg.validate()
	return cfg, nil
}

// validate resets individually invalid fields to their defaults and
// records a warning, rather than failing the whole load.
func (c *Config) validate() {
	d := Default()

	if c.FetchConcurrency <= 0 {
		c.warn("fetch_concurrency", c.FetchConcurrency, d.FetchConcurrency)
		c.FetchConcurrency = d.FetchConcurrency
	}
	if c.FetchWorkers <= 0 {
		c.warn("fetch_workers", c.FetchWorkers, d.FetchWorkers)
		c.FetchWorkers = d.FetchWorkers
	}
	if c.RequestsPerMinute <= 0 {
		c.warn("requests_per_minute", c.RequestsPerMinute, d.RequestsPerMinute)
		c.RequestsPerMinute = d.RequestsPerMinute
	}
	if c.RateLimitBurst <= 0 {
		c.warn("rate_limit_burst", c.RateLimitBurst, d.RateLimitBurst)
		c.RateLimitBurst = d.RateLimitBurst
	}
	if c.Scraper.MaxConcurrency <= 0 {
		c.warn("scraper.max_concurrency", c.Scraper.MaxConcurrency, d.Scraper.MaxConcurrency)
		c.Scraper.MaxConcurrency = d.Scraper.MaxConcurrency
	}
	if c.Scraper.TimeoutSecs <= 0 {
		c.warn("scraper.timeout_secs", c.Scraper.TimeoutSecs, d.Scraper.TimeoutSecs)
		c.Scraper.TimeoutSecs = d.Scraper.TimeoutSecs
	}
	if c.Scraper.ContentThreshold <= 0 {
		c.warn("scraper.content_threshold", c.Scraper.ContentThreshold, d.Scraper.ContentThreshold)
		c.Scraper.ContentThreshold = d.Scraper.ContentThreshold
	}
}

func (c *Config) warn(field string, got, fallback interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("%s: invalid value %v, using default %v", field, got, fallback))
}
