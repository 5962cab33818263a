// Handles the memory and disk tiers of the image cache
package cache

// Tier is an in-memory, capacity-bounded key/value store.
// Implementations evict on their own; a miss never means the value is gone
// from slower tiers.
type Tier[V any] interface {
	// returns the value and true on hit
	Get(key string) (V, bool)
	// stores a value, possibly evicting others
	Set(key string, value V)
	// drops every entry
	Clear()
	// number of entries currently held
	Len() int
}
