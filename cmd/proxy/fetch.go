package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/iTrooz/imagecache/internal/cache"
	"github.com/iTrooz/imagecache/internal/loader"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func runFetch(c *cli.Context) error {
	urls := []string(c.Args())
	if len(urls) == 0 {
		return fmt.Errorf("fetch needs at least one URL")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	l, _, err := newLoader(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	written, err := fetchAll(context.Background(), l, urls, c.String("output"))
	if err != nil {
		return err
	}
	if written < len(urls) {
		return fmt.Errorf("%d of %d images could not be loaded", len(urls)-written, len(urls))
	}
	return nil
}

// fetchAll loads every URL concurrently, so repeated URLs share one chain,
// and writes each image to outDir as PNG. It returns the number of files
// written.
func fetchAll(ctx context.Context, l *loader.Loader, urls []string, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
	)
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()

			img, err := l.Get(ctx, u)
			if err != nil {
				logrus.Errorf("Failed to load %s: %v", u, err)
				return
			}

			name, ok := cache.EncodeName(u)
			if !ok {
				name = strconv.Itoa(i)
			}
			target := filepath.Join(outDir, name+".png")
			if err := writePNG(target, img); err != nil {
				logrus.Errorf("Failed to write %s: %v", target, err)
				return
			}

			logrus.Infof("Wrote %s", target)
			mu.Lock()
			written++
			mu.Unlock()
		}(i, u)
	}
	wg.Wait()

	return written, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
