package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport fetches the payload for an identifier. Implementations should
// abort when ctx is cancelled.
type Transport interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, id string) ([]byte, error)

func (f TransportFunc) Fetch(ctx context.Context, id string) ([]byte, error) {
	return f(ctx, id)
}

// HTTPTransport issues one GET per fetch
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport whose requests time out after timeout.
// Zero means no timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (t *HTTPTransport) Fetch(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Debugf("Failed to close response body for %s: %v", id, err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	logrus.Debugf("Fetched %s -> %d (%d bytes)", id, resp.StatusCode, len(body))
	return body, nil
}
