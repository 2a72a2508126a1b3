package httpclient

import (
	"net/http"
	"time"
)

// Default returns an HTTP client with timeouts so that dead upstreams don't hang
// a caller forever. The notifier uses it when given no client, and DoWithRetry
// falls back to it when called with a nil client.
func Default() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}

// ForDownload returns a client with no overall timeout (a CSV download may be
// long-lived under the size cap) but ResponseHeaderTimeout so a dead upstream
// fails fast instead of hanging a scheduler worker forever.
func ForDownload() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// WithTimeout returns a client like Default but with the overall timeout
// overridden, for callers honoring a configured request timeout ceiling.
func WithTimeout(d time.Duration) *http.Client {
	c := Default()
	c.Timeout = d
	return c
}
