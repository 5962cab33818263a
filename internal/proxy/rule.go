package proxy

import (
	"net/http"
	"strings"

	"github.com/iTrooz/imagecache/internal/config"
)

// Rule interface for matching image requests against caching rules
type Rule interface {
	Match(requ *http.Request) bool
}

// ConfigRule implements Rule interface for config-based rules
type ConfigRule struct {
	config.ImageRule
}

// Match checks if a request matches this rule
func (r *ConfigRule) Match(requ *http.Request) bool {
	// Check if URL starts with base URI
	if !strings.HasPrefix(getTargetURL(requ), r.BaseURI) {
		return false
	}

	return r.MatchesExtension(requ.URL.Path)
}
