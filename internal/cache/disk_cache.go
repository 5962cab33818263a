package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxNameLen is the filename limit of common filesystems (ext4, APFS, NTFS)
const maxNameLen = 255

// DiskStore implements GenericCache with one file per identifier
type DiskStore struct {
	cacheDir string
	ttl      time.Duration
}

// NewDisk creates a new disk store. A zero ttl keeps files forever.
func NewDisk(cacheDir string, ttl time.Duration) *DiskStore {
	return &DiskStore{
		cacheDir: cacheDir,
		ttl:      ttl,
	}
}

// EncodeName percent-encodes every byte of id except ASCII letters and digits.
// ok is false when the result cannot be used as a filename.
func EncodeName(id string) (name string, ok bool) {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(id) * 3)
	for i := 0; i < len(id); i++ {
		c := id[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}

	name = b.String()
	if name == "" || len(name) > maxNameLen {
		return "", false
	}
	return name, true
}

// GetKey returns the file path for an identifier. Identifiers that cannot be
// encoded get a random name, so later lookups for them always miss.
func (d *DiskStore) GetKey(id string) string {
	name, ok := EncodeName(id)
	if !ok {
		name = uuid.NewString()
		logrus.Debugf("Identifier too long for a filename, using random name %s", name)
	}
	return filepath.Join(d.cacheDir, name)
}

// Get retrieves the stored payload for id if it exists and is not expired
func (d *DiskStore) Get(id string) ([]byte, error) {
	name, ok := EncodeName(id)
	if !ok {
		// Written under a random name, never findable
		return nil, nil
	}
	cachePath := filepath.Join(d.cacheDir, name)

	info, err := os.Stat(cachePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cachePath, err)
	}

	if d.ttl > 0 && time.Since(info.ModTime()) > d.ttl {
		// Cache expired, remove it
		if err := os.Remove(cachePath); err != nil {
			logrus.Errorf("Failed to remove expired cache file %s: %v", cachePath, err)
		}
		return nil, nil
	}

	data, err := os.ReadFile(cachePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cachePath, err)
	}

	return data, nil
}

// Set stores a payload. The file is written under a temporary name and
// renamed so readers never see partial content.
func (d *DiskStore) Set(id string, data []byte) error {
	cachePath := d.GetKey(id)

	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.cacheDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, cachePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming into %s: %w", cachePath, err)
	}

	logrus.Debugf("Cached payload: %s", cachePath)
	return nil
}

// Init ensures the cache directory exists
func (d *DiskStore) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

// Dir returns the directory holding the cache files
func (d *DiskStore) Dir() string {
	return d.cacheDir
}
