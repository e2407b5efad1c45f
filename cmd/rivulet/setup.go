package main

import (
	"os"
	"path/filepath"

	"rivulet/internal/config"
	"rivulet/internal/fetcher"
	"rivulet/internal/logging"
	"rivulet/internal/normalizer"
	"rivulet/internal/ratelimit"
	"rivulet/internal/rivulet"
	"rivulet/internal/scraper"
	"rivulet/internal/store"
)

// dataDir resolves the platform data directory for Rivulet's SQLite
// database: $XDG_DATA_HOME/rivulet when XDG_DATA_HOME is set, otherwise
// ~/.local/share/rivulet. The same layout is used on every OS; there is no
// macOS- or Windows-specific location.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "rivulet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "rivulet"), nil
}

// configDir resolves the platform config directory for rivulet.toml.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rivulet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rivulet"), nil
}

func defaultConfigPath() string {
	dir, err := configDir()
	if err != nil {
		return "rivulet.toml"
	}
	return filepath.Join(dir, "rivulet.toml")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, warning := range cfg.Warnings {
		logging.New("warn").Warn("%s", warning)
	}
	if cfg.DatabasePath == "" {
		dir, err := dataDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		cfg.DatabasePath = filepath.Join(dir, "rivulet.db")
	}
	return cfg, nil
}

// buildContext wires every collaborator named in cfg into a rivulet.Context.
func buildContext(cfg *config.Config, logLevel string) (*rivulet.Context, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	// RIVULET_LOG (a comma-separated module=level list, e.g.
	// "warn,scraper=debug") is layered on top of the configured/flag
	// default so per-module overrides reach every collaborator built here.
	spec := level
	if envSpec := os.Getenv("RIVULET_LOG"); envSpec != "" {
		spec = level + "," + envSpec
	}
	filter := logging.NewFilter(spec)

	ctx := &rivulet.Context{
		Store:           st,
		Fetcher:         fetcher.New(),
		Normalizer:      normalizer.New(),
		RateLimiter:     ratelimit.New(cfg.RequestsPerMinute, cfg.RateLimitBurst),
		Logger:          filter.For("rivulet"),
		LogFilter:       filter,
		ScrapeThreshold: cfg.Scraper.ContentThreshold,
	}

	if cfg.Scraper.Enabled {
		n := normalizer.New()
		browser := scraper.New(cfg.Scraper.ToScraperConfig(), n)
		svc := scraper.NewService(browser, st, filter.For("scraper"), cfg.Scraper.MaxConcurrency, 256)
		svc.Start()
		ctx.Scraper = svc
	}

	return ctx, nil
}
