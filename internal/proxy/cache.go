package proxy

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"
)

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// encodePNG serializes a loaded image for an HTTP response
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// shouldBeServed determines if an image request goes through the cache
func (s *Server) shouldBeServed(requ *http.Request) bool {
	matched := false
	for _, rule := range s.rules {
		if rule.Match(requ) {
			matched = true
			break
		}
	}

	if s.config.Rules.Mode == "whitelist" {
		return matched
	}
	return !matched
}

func getTargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.String())
}
