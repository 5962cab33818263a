package cache

// GenericCache interface for persistent byte storage
type GenericCache interface {
	// retrieves cached data if it exists and is not expired.
	// returns nil, nil when not found or expired
	Get(key string) ([]byte, error)
	// stores data under the key, replacing any previous value
	Set(key string, value []byte) error
	// initializes the cache (e.g., creates necessary directories)
	Init() error
}
