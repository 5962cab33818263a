package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/iTrooz/imagecache/internal/config"
	"github.com/iTrooz/imagecache/internal/loader"

	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// imageExtensions are the paths treated as image requests regardless of the
// Accept header
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Server is an HTTP proxy that answers image requests from the loader
type Server struct {
	config     *config.Config
	loader     *loader.Loader
	rules      []Rule
	proxy      *goproxy.ProxyHttpServer
	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

// New creates a new proxy server. gatherer backs the /metrics endpoint and
// may be nil.
func New(cfg *config.Config, l *loader.Loader, gatherer prometheus.Gatherer) (*Server, error) {
	if l == nil {
		return nil, fmt.Errorf("proxy needs a loader")
	}

	rules := make([]Rule, 0, len(cfg.Rules.Rules))
	for _, r := range cfg.Rules.Rules {
		rules = append(rules, &ConfigRule{ImageRule: r})
	}

	s := &Server{
		config:   cfg,
		loader:   l,
		rules:    rules,
		proxy:    goproxy.NewProxyHttpServer(),
		gatherer: gatherer,
	}
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.CertStore = newCertStore()

	if cfg.Server.HTTPS.Intercept {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest(goproxy.ReqConditionFunc(s.isImageRequest)).DoFunc(s.serveImage)
	s.proxy.NonproxyHandler = s.adminHandler()

	return s, nil
}

// GetProxy returns the underlying goproxy handler
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("Starting image cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache directory: %s", s.config.Cache.Folder)
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)
	logrus.Infof("Max concurrent downloads: %d", s.loader.MaxConcurrentDownloads())

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// isImageRequest selects proxied GETs for images that the rules allow
func (s *Server) isImageRequest(requ *http.Request, _ *goproxy.ProxyCtx) bool {
	if requ.Method != http.MethodGet {
		return false
	}
	if !imageExtensions[strings.ToLower(path.Ext(requ.URL.Path))] &&
		!strings.HasPrefix(requ.Header.Get("Accept"), "image/") {
		return false
	}
	return s.shouldBeServed(requ)
}

// serveImage answers from the loader. Loads that yield nothing are forwarded
// upstream so the client sees the origin's own response.
//
// A URL that fetches fine but does not decode therefore reaches the origin
// twice on its first request: once for the loader and once for the forward.
// The payload stays in the compressed tier and on disk, so later requests
// cost one decode attempt plus the forward, and no second loader fetch.
func (s *Server) serveImage(requ *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	targetURL := getTargetURL(requ)

	img, err := s.loader.Get(requ.Context(), targetURL)
	if err != nil {
		logrus.Debugf("No cached image for %s, forwarding: %v", targetURL, err)
		return requ, nil
	}

	body, err := encodePNG(img)
	if err != nil {
		logrus.Errorf("Failed to encode image for %s: %v", targetURL, err)
		return requ, nil
	}

	resp := goproxy.NewResponse(requ, "image/png", http.StatusOK, string(body))
	resp.Header.Set("X-Cache", "IMAGE")
	logrus.Infof("Served image: %s", targetURL)
	return requ, resp
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/image", s.handleImage)
	mux.HandleFunc("/purge", s.handlePurge)
	mux.HandleFunc("/stats", s.handleStats)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleImage loads ?url= directly, without going through the proxy
func (s *Server) handleImage(w http.ResponseWriter, requ *http.Request) {
	if requ.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := requ.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	img, err := s.loader.Get(requ.Context(), target)
	if err != nil {
		http.Error(w, "image not available", http.StatusNotFound)
		return
	}

	body, err := encodePNG(img)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Cache", "IMAGE")
	if _, err := w.Write(body); err != nil {
		logrus.Errorf("Failed to write image response: %v", err)
	}
}

func (s *Server) handlePurge(w http.ResponseWriter, requ *http.Request) {
	if requ.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.loader.ClearAllCaches()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.loader.Stats()); err != nil {
		logrus.Errorf("Failed to write stats: %v", err)
	}
}
