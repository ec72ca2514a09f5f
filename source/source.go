// Package source defines the boundary to external asset providers. A
// Source turns an opaque reference into a byte stream; everything
// provider-specific (auth, URL shapes, pagination) stays behind the
// interface.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pithecene-io/hostbridge/types"
)

// defaultClient bounds dial, TLS, and response-header latency. The body
// read itself is unbounded because asset payloads can be large; callers
// cancel stalled transfers through the operation tracker.
var defaultClient = &http.Client{
	Transport: &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	},
}

// Source fetches the bytes behind a reference. The returned size is the
// total length in bytes, or -1 when the provider does not report one.
// The caller owns the reader and must close it.
type Source interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, int64, error)
}

// HTTPSource fetches references that are plain URLs.
type HTTPSource struct {
	client *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source over client. A nil client uses a default
// with connect and response-header deadlines.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = defaultClient
	}
	return &HTTPSource{client: client}
}

// Fetch issues a GET. 4xx responses are validation failures (bad
// reference); 5xx surface as plain errors so the caller's breaker counts
// them.
func (s *HTTPSource) Fetch(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, 0, types.NewValidationError("invalid asset reference %q: %v", ref, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", ref, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, resp.ContentLength, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		resp.Body.Close()
		return nil, 0, types.NewValidationError("asset reference %q rejected: %s", ref, resp.Status)
	default:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch %s: unexpected status %s", ref, resp.Status)
	}
}
