package sos

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPReachability probes a URL with a short, non-retried timeout. A
// timeout or error reports unreachable; the SOS flow then takes the call
// branch instead of blocking.
type HTTPReachability struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPReachability creates a probe against url.
func NewHTTPReachability(url string, timeout time.Duration) *HTTPReachability {
	return &HTTPReachability{
		client:  &http.Client{Timeout: timeout},
		url:     url,
		timeout: timeout,
	}
}

// Reachable performs one HEAD request.
func (r *HTTPReachability) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// SchemeLauncher resolves deep links against a set of supported URI
// schemes. An unsupported scheme fails soft: the caller logs and moves on.
type SchemeLauncher struct {
	supported map[string]bool
	open      func(uri string) error
}

// NewSchemeLauncher creates a launcher. open performs the actual launch;
// schemes lists the URI schemes the client platform handles.
func NewSchemeLauncher(schemes []string, open func(uri string) error) *SchemeLauncher {
	supported := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		supported[s] = true
	}
	return &SchemeLauncher{supported: supported, open: open}
}

// Open launches the deep link when its scheme is supported.
func (l *SchemeLauncher) Open(uri string) (bool, error) {
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok || !l.supported[scheme] {
		return false, nil
	}
	if l.open == nil {
		log.Debug().Str("uri", uri).Msg("No launch hook configured, deep link dropped")
		return true, nil
	}
	return true, l.open(uri)
}
