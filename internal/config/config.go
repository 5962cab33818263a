package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Cache  CacheConfig  `koanf:"cache" yaml:"cache"`
	Loader LoaderConfig `koanf:"loader" yaml:"loader"`
	Rules  RulesConfig  `koanf:"rules" yaml:"rules"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
}

// ServerConfig contains proxy server configuration
type ServerConfig struct {
	Port  int         `koanf:"port" yaml:"port"`
	HTTPS HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig controls TLS interception of image requests
type HTTPSConfig struct {
	Intercept  bool   `koanf:"intercept" yaml:"intercept"`
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
}

// CacheConfig contains cache tier configuration
type CacheConfig struct {
	Folder            string `koanf:"folder" yaml:"folder"`
	DiskTTL           string `koanf:"disk_ttl" yaml:"disk_ttl"`
	CompressedEntries int    `koanf:"compressed_entries" yaml:"compressed_entries"`
	DecodedEntries    int    `koanf:"decoded_entries" yaml:"decoded_entries"`
	EvictionInterval  string `koanf:"eviction_interval" yaml:"eviction_interval"`
}

// LoaderConfig contains request coordination settings
type LoaderConfig struct {
	MaxConcurrentDownloads int    `koanf:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	DecodeWorkers          int    `koanf:"decode_workers" yaml:"decode_workers"`
	FetchTimeout           string `koanf:"fetch_timeout" yaml:"fetch_timeout"`
}

// RulesConfig selects which proxied requests are served from the image cache
type RulesConfig struct {
	Mode  string      `koanf:"mode" yaml:"mode"` // "whitelist" or "blacklist"
	Rules []ImageRule `koanf:"rules" yaml:"rules"`
}

// ImageRule matches image URLs by prefix and extension
type ImageRule struct {
	BaseURI    string   `koanf:"base_uri" yaml:"base_uri"`
	Extensions []string `koanf:"extensions" yaml:"extensions"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Cache: CacheConfig{
			DiskTTL:           "0s",
			CompressedEntries: 256,
			DecodedEntries:    64,
			EvictionInterval:  "30s",
		},
		Loader: LoaderConfig{
			MaxConcurrentDownloads: 4,
			FetchTimeout:           "30s",
		},
		Rules: RulesConfig{Mode: "blacklist"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k, err := newKoanf(path)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

func newKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return k, nil
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return &config, nil
}

// Watch reloads the file whenever it changes and hands every valid result to
// onChange. Invalid reloads are logged and skipped. The returned func stops
// watching.
func Watch(path string, onChange func(*Config)) (func() error, error) {
	f := file.Provider(path)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			logrus.Errorf("Config watcher error for %s: %v", path, err)
			return
		}

		cfg, err := Load(path)
		if err != nil {
			logrus.Errorf("Failed to reload config %s: %v", path, err)
			return
		}
		if err := cfg.Validate(); err != nil {
			logrus.Errorf("Ignoring invalid config reload %s: %v", path, err)
			return
		}

		logrus.Infof("Reloaded config from %s", path)
		onChange(cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("watching config file: %w", err)
	}
	return f.Unwatch, nil
}

// GetDiskTTL parses and returns the disk cache TTL; zero disables expiry
func (c *Config) GetDiskTTL() (time.Duration, error) {
	return parseDuration(c.Cache.DiskTTL)
}

// GetEvictionInterval parses and returns the decoded tier purge interval
func (c *Config) GetEvictionInterval() (time.Duration, error) {
	return parseDuration(c.Cache.EvictionInterval)
}

// GetFetchTimeout parses and returns the per-request network timeout
func (c *Config) GetFetchTimeout() (time.Duration, error) {
	return parseDuration(c.Loader.FetchTimeout)
}

// GetLogLevel parses the configured log level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Cache.Folder == "" {
		return fmt.Errorf("cache folder is required")
	}

	if ttl, err := c.GetDiskTTL(); err != nil {
		return fmt.Errorf("invalid disk TTL format: %w", err)
	} else if ttl < 0 {
		return fmt.Errorf("disk TTL must not be negative, got: %s", c.Cache.DiskTTL)
	}

	interval, err := c.GetEvictionInterval()
	if err != nil {
		return fmt.Errorf("invalid eviction interval format: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("eviction interval must be positive, got: %s", c.Cache.EvictionInterval)
	}

	if c.Cache.CompressedEntries <= 0 || c.Cache.DecodedEntries <= 0 {
		return fmt.Errorf("cache tier sizes must be positive, got compressed=%d decoded=%d",
			c.Cache.CompressedEntries, c.Cache.DecodedEntries)
	}

	if c.Loader.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max concurrent downloads must be positive, got: %d", c.Loader.MaxConcurrentDownloads)
	}

	if c.Loader.DecodeWorkers < 0 {
		return fmt.Errorf("decode workers must not be negative, got: %d", c.Loader.DecodeWorkers)
	}

	if _, err := c.GetFetchTimeout(); err != nil {
		return fmt.Errorf("invalid fetch timeout format: %w", err)
	}

	if c.Rules.Mode != "whitelist" && c.Rules.Mode != "blacklist" {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Server.HTTPS.Intercept && (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https interception needs both ca_cert_file and ca_key_file, or neither")
	}

	return nil
}

// MatchesExtension reports whether path ends with one of the rule's extensions.
// A rule without extensions matches every path.
func (r ImageRule) MatchesExtension(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(path)
	for _, ext := range r.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
