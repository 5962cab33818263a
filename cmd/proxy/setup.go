package main

import (
	"fmt"

	"github.com/iTrooz/imagecache/internal/config"
	"github.com/iTrooz/imagecache/internal/loader"
	"github.com/iTrooz/imagecache/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// loadConfig reads and validates the file named by the global --config flag
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if override := c.GlobalString("log-level"); override != "" {
		cfg.Log.Level = override
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}

	logrus.Debugf("Loaded config from %s", path)
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := cfg.GetLogLevel()
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// newLoader builds a loader recording into a fresh registry, which also
// carries the Go runtime and process collectors
func newLoader(cfg *config.Config) (*loader.Loader, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	l, err := loader.New(cfg, loader.WithMetrics(metrics.New(reg)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create loader: %w", err)
	}
	return l, reg, nil
}
