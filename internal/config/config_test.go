package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "test_config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 9999
cache:
  folder: "./test_cache"
  decoded_entries: 12
loader:
  max_concurrent_downloads: 2
rules:
  mode: "whitelist"
  rules:
    - base_uri: "https://example.com"
      extensions: ["png", ".jpg"]
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "./test_cache", config.Cache.Folder)
	assert.Equal(t, 12, config.Cache.DecodedEntries)
	assert.Equal(t, 2, config.Loader.MaxConcurrentDownloads)
	assert.Equal(t, "whitelist", config.Rules.Mode)
	require.Len(t, config.Rules.Rules, 1)
	assert.Equal(t, []string{"png", ".jpg"}, config.Rules.Rules[0].Extensions)

	// Keys absent from the file keep their defaults
	assert.Equal(t, 256, config.Cache.CompressedEntries)
	assert.Equal(t, "30s", config.Cache.EvictionInterval)
	assert.Equal(t, "30s", config.Loader.FetchTimeout)
	assert.Equal(t, "info", config.Log.Level)
	assert.NoError(t, config.Validate())
}

func TestLoadRoundTripsMarshalledConfig(t *testing.T) {
	want := Default()
	want.Cache.Folder = "/var/cache/images"
	want.Loader.MaxConcurrentDownloads = 7

	data, err := yaml.Marshal(want)
	require.NoError(t, err)

	got, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, want.Cache.Folder, got.Cache.Folder)
	assert.Equal(t, 7, got.Loader.MaxConcurrentDownloads)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Cache.Folder = "/tmp/cache"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: true},
		{name: "missing folder", mutate: func(c *Config) { c.Cache.Folder = "" }, wantErr: true},
		{name: "invalid TTL", mutate: func(c *Config) { c.Cache.DiskTTL = "invalid" }, wantErr: true},
		{name: "zero eviction interval", mutate: func(c *Config) { c.Cache.EvictionInterval = "0s" }, wantErr: true},
		{name: "zero downloads", mutate: func(c *Config) { c.Loader.MaxConcurrentDownloads = 0 }, wantErr: true},
		{name: "zero decoded entries", mutate: func(c *Config) { c.Cache.DecodedEntries = 0 }, wantErr: true},
		{name: "invalid mode", mutate: func(c *Config) { c.Rules.Mode = "invalid" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{
			name: "half configured CA",
			mutate: func(c *Config) {
				c.Server.HTTPS.Intercept = true
				c.Server.HTTPS.CACertFile = "ca.pem"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	config := Config{
		Cache:  CacheConfig{DiskTTL: "1h30m", EvictionInterval: "45s"},
		Loader: LoaderConfig{FetchTimeout: ""},
		Log:    LogConfig{Level: "debug"},
	}

	ttl, err := config.GetDiskTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Hour+30*time.Minute, ttl)

	interval, err := config.GetEvictionInterval()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, interval)

	timeout, err := config.GetFetchTimeout()
	require.NoError(t, err)
	assert.Zero(t, timeout)

	level, err := config.GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)
}

func TestImageRuleMatchesExtension(t *testing.T) {
	rule := ImageRule{Extensions: []string{"png", ".JPG"}}

	assert.True(t, rule.MatchesExtension("/a/b.png"))
	assert.True(t, rule.MatchesExtension("/a/b.jpg"))
	assert.False(t, rule.MatchesExtension("/a/b.gif"))
	assert.True(t, ImageRule{}.MatchesExtension("/anything"))
}

func TestWatch(t *testing.T) {
	configFile := writeConfig(t, "cache:\n  folder: /tmp/a\n")

	changes := make(chan *Config, 4)
	stop, err := Watch(configFile, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer func() { _ = stop() }()

	require.NoError(t, os.WriteFile(configFile, []byte("cache:\n  folder: /tmp/a\nloader:\n  max_concurrent_downloads: 9\n"), 0644))

	select {
	case c := <-changes:
		assert.Equal(t, 9, c.Loader.MaxConcurrentDownloads)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
