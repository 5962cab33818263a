package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ GenericCache = (*DiskStore)(nil)

func TestEncodeName(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
		ok   bool
	}{
		{name: "url", id: "https://x/a.png", want: "https%3A%2F%2Fx%2Fa%2Epng", ok: true},
		{name: "alphanumeric", id: "abcXYZ019", want: "abcXYZ019", ok: true},
		{name: "utf8 bytes", id: "é", want: "%C3%A9", ok: true},
		{name: "empty", id: "", ok: false},
		{name: "too long", id: strings.Repeat("/", 100), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EncodeName(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiskGetKey(t *testing.T) {
	store := NewDisk("/tmp/cache", 0)

	assert.Equal(t, "/tmp/cache/https%3A%2F%2Fx%2Fa%2Epng", store.GetKey("https://x/a.png"))

	long := "https://x/" + strings.Repeat("a/", 200)
	first := store.GetKey(long)
	second := store.GetKey(long)
	assert.Equal(t, "/tmp/cache", filepath.Dir(first))
	assert.NotEqual(t, first, second, "fallback names must be random")
}

func TestDiskSetAndGet(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir, time.Hour)

	id := "https://example.com/img/a.png"
	testData := []byte("png bytes")

	require.NoError(t, store.Set(id, testData))

	_, err := os.Stat(store.GetKey(id))
	require.NoError(t, err, "cache file was not created")

	data, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, testData, data)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestDiskGetMiss(t *testing.T) {
	store := NewDisk(t.TempDir(), 0)

	data, err := store.Get("https://example.com/missing.png")
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestDiskLongIdentifierIsNeverFound(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir, 0)
	id := "https://x/" + strings.Repeat("b", 300)

	require.NoError(t, store.Set(id, []byte("data")))

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	data, err := store.Get(id)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestDiskGetExpired(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir, 100*time.Millisecond) // Very short TTL

	id := "https://example.com/expired.png"
	require.NoError(t, store.Set(id, []byte("test data")))

	// Wait for expiration
	time.Sleep(200 * time.Millisecond)

	data, err := store.Get(id)
	assert.NoError(t, err)
	assert.Nil(t, data, "expired entry must miss")

	_, err = os.Stat(store.GetKey(id))
	assert.True(t, os.IsNotExist(err), "expired cache file should have been deleted")
}

func TestDiskOverwrite(t *testing.T) {
	store := NewDisk(t.TempDir(), 0)
	id := "u"

	require.NoError(t, store.Set(id, []byte("first")))
	require.NoError(t, store.Set(id, []byte("second")))

	data, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestDiskInit(t *testing.T) {
	tempDir := t.TempDir()
	cacheDir := filepath.Join(tempDir, "new", "cache", "dir")

	store := NewDisk(cacheDir, time.Hour)
	require.NoError(t, store.Init())

	_, err := os.Stat(cacheDir)
	assert.NoError(t, err, "cache directory was not created")
}
