package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iTrooz/imagecache/internal/config"
	"github.com/iTrooz/imagecache/internal/eviction"
	"github.com/iTrooz/imagecache/internal/proxy"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const shutdownTimeout = 10 * time.Second

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	l, reg, err := newLoader(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	interval, err := cfg.GetEvictionInterval()
	if err != nil {
		return fmt.Errorf("invalid eviction interval: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := eviction.New(l, interval)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server, err := proxy.New(cfg, l, reg)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	unwatch, err := config.Watch(c.GlobalString("config"), func(next *config.Config) {
		l.SetMaxConcurrentDownloads(next.Loader.MaxConcurrentDownloads)
		if c.GlobalString("log-level") == "" {
			if err := setupLogging(next); err != nil {
				logrus.Warnf("Keeping log level: %v", err)
			}
		}
		logrus.Infof("Max concurrent downloads: %d", l.MaxConcurrentDownloads())
	})
	if err != nil {
		logrus.Warnf("Config hot reload disabled: %v", err)
	} else {
		defer func() { _ = unwatch() }()
	}

	go handleSignals(ctx, server, scheduler)

	return server.Start()
}

// handleSignals purges the memory tiers on SIGUSR1 and shuts the server down
// on SIGINT or SIGTERM
func handleSignals(ctx context.Context, server *proxy.Server, scheduler *eviction.Scheduler) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				logrus.Infof("Received %s, purging memory caches", sig)
				scheduler.Purge()
				continue
			}

			logrus.Infof("Received %s, shutting down", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := server.Shutdown(shutdownCtx); err != nil {
				logrus.Errorf("Shutdown failed: %v", err)
			}
			cancel()
			return
		}
	}
}
