package tests

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iTrooz/imagecache/internal/config"
	"github.com/iTrooz/imagecache/internal/loader"
	"github.com/iTrooz/imagecache/internal/metrics"
	"github.com/iTrooz/imagecache/internal/proxy"

	"github.com/prometheus/client_golang/prometheus"
)

// upstream serves a small PNG for *.png paths and HTML elsewhere, counting hits
type upstream struct {
	*httptest.Server
	hits int32
}

func (u *upstream) Hits() int {
	return int(atomic.LoadInt32(&u.hits))
}

func samplePNG() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		img.Set(x, 2, color.NRGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// fixture_upstream creates a test upstream server
func fixture_upstream() *upstream {
	u := &upstream{}
	payload := samplePNG()
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		atomic.AddInt32(&u.hits, 1)
		switch {
		case strings.HasSuffix(requ.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(payload)
		case strings.HasSuffix(requ.URL.Path, ".jpg"):
			// Not really a JPEG: decoding fails and the proxy forwards
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("corrupt"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html>hello from upstream ` + requ.URL.Path + `</html>`))
		}
	}))
	return u
}

// fixture_config creates a test config with optional rules
func fixture_config(tempDir string, rules *config.RulesConfig) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Cache.Folder = tempDir

	if rules != nil {
		cfg.Rules = *rules
	}

	return &cfg
}

// fixture_loader creates a loader recording into its own registry
func fixture_loader(cfg *config.Config) (*loader.Loader, *metrics.Metrics, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	l, err := loader.New(cfg, loader.WithMetrics(m))
	if err != nil {
		return nil, nil, nil, err
	}
	return l, m, reg, nil
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config, l *loader.Loader, reg *prometheus.Registry) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg, l, reg)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
