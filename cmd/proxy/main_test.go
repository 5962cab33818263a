package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/iTrooz/imagecache/internal/cache"
	"github.com/iTrooz/imagecache/internal/config"
	"github.com/iTrooz/imagecache/internal/loader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))))
	payload := buf.Bytes()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		atomic.AddInt32(&hits, 1)
		if requ.URL.Path == "/missing.png" {
			http.NotFound(w, requ)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "cache:\n  folder: " + filepath.Join(dir, "cache") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFetchAllSharesRepeatedURLs(t *testing.T) {
	srv, hits := imageServer(t)

	cfg := config.Default()
	cfg.Cache.Folder = t.TempDir()
	l, err := loader.New(&cfg)
	require.NoError(t, err)
	defer l.Close()

	outDir := filepath.Join(t.TempDir(), "out")
	target := srv.URL + "/a.png"
	written, err := fetchAll(context.Background(), l, []string{target, target, target}, outDir)
	require.NoError(t, err)

	assert.Equal(t, 3, written)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	name, ok := cache.EncodeName(target)
	require.True(t, ok)
	f, err := os.Open(filepath.Join(outDir, name+".png"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
}

func TestFetchCommand(t *testing.T) {
	srv, _ := imageServer(t)
	cfgPath := writeConfig(t)
	outDir := t.TempDir()

	err := newApp().Run([]string{"imagecache", "--config", cfgPath, "fetch", "-o", outDir, srv.URL + "/b.png"})
	require.NoError(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFetchCommandReportsFailures(t *testing.T) {
	srv, _ := imageServer(t)
	cfgPath := writeConfig(t)

	err := newApp().Run([]string{"imagecache", "--config", cfgPath, "fetch", "-o", t.TempDir(), srv.URL + "/missing.png"})
	assert.Error(t, err)
}

func TestFetchCommandNeedsURLs(t *testing.T) {
	err := newApp().Run([]string{"imagecache", "--config", writeConfig(t), "fetch"})
	assert.Error(t, err)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	err := newApp().Run([]string{"imagecache", "--config", "/nonexistent/config.yaml", "fetch", "http://x/a.png"})
	assert.Error(t, err)
}
