// Package probe implements the HEAD-then-conditional-GET protocol used to
// check a single resource URL.
package probe

import (
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/opendatateam/hydracrawl/internal/httpclient"
	"github.com/opendatateam/hydracrawl/internal/safeurl"
)

// Result is the normalized outcome of one probe. It is always populated,
// even on transport failure or timeout, so the caller can always persist a
// Check row.
type Result struct {
	Status         int               // HTTP status of the final request (HEAD or GET); 0 if no response was received
	Headers        map[string]string // lowercased header names, single joined value
	Timeout        bool
	Error          string // short transport error message; empty on success
	ResponseTimeMS int64
	DidGet         bool   // true if a GET was issued in addition to the HEAD
	Checksum       string // SHA-1 hex of the body read during GET, when one was read
	FileSize       int64
	MimeType       string
}

// Available classifies Result per the probe engine's result-classification rules.
// Returns nil for "unknown" (429), true for available, false for unavailable.
func (r Result) Available() *bool {
	t := true
	f := false
	switch {
	case r.Status == http.StatusTooManyRequests:
		return nil
	case r.Status >= 200 && r.Status < 300:
		return &t
	case r.Status >= 500 && r.Status < 600:
		return &f
	case r.Status == 0: // transport exception or timeout
		return &f
	default:
		return &t
	}
}

// Options configures a single probe.
type Options struct {
	UserAgent string
	// MaxBodyBytes caps how many bytes of a GET response body are read for
	// checksum computation; both a Content-Length-header check and a
	// cumulative-bytes-read check are enforced (see the oversize design
	// note). Zero means no GET body is read at all.
	MaxBodyBytes int64
}

// Run performs the HEAD-then-conditional-GET protocol against url.
//
// Switch-to-GET fires when the HEAD returned 501, returned a non-2xx
// status, or returned 2xx without a Content-Length header.
func Run(ctx context.Context, client *http.Client, url string, opts Options) Result {
	start := time.Now()
	res := Result{}

	if !safeurl.IsHTTPOrHTTPS(url) {
		res.Error = "invalid URL scheme (only http/https allowed)"
		res.ResponseTimeMS = time.Since(start).Milliseconds()
		return res
	}
	if client == nil {
		client = http.DefaultClient
	}

	headResp, headErr := doRequest(ctx, client, http.MethodHead, url, opts.UserAgent)
	if headErr != nil {
		applyErr(&res, headErr)
		res.ResponseTimeMS = time.Since(start).Milliseconds()
		return res
	}
	defer headResp.Body.Close()
	io.Copy(io.Discard, headResp.Body)

	res.Status = headResp.StatusCode
	res.Headers = lowercaseHeaders(headResp.Header)
	res.MimeType = contentTypeWithoutParams(headResp.Header.Get("Content-Type"))

	needsGet := headResp.StatusCode == http.StatusNotImplemented ||
		headResp.StatusCode < 200 || headResp.StatusCode >= 300 ||
		strings.TrimSpace(headResp.Header.Get("Content-Length")) == ""

	if needsGet {
		getResp, getErr := doRequest(ctx, client, http.MethodGet, url, opts.UserAgent)
		if getErr != nil {
			applyErr(&res, getErr)
			res.ResponseTimeMS = time.Since(start).Milliseconds()
			return res
		}
		defer getResp.Body.Close()
		res.DidGet = true
		res.Status = getResp.StatusCode
		res.Headers = lowercaseHeaders(getResp.Header)
		res.MimeType = contentTypeWithoutParams(getResp.Header.Get("Content-Type"))

		if getResp.StatusCode >= 200 && getResp.StatusCode < 300 && opts.MaxBodyBytes > 0 {
			sum, size, err := readChecksummed(getResp, opts.MaxBodyBytes)
			if err != nil {
				applyErr(&res, err)
				res.ResponseTimeMS = time.Since(start).Milliseconds()
				return res
			}
			res.Checksum = sum
			res.FileSize = size
		}
	}

	res.ResponseTimeMS = time.Since(start).Milliseconds()
	return res
}

func doRequest(ctx context.Context, client *http.Client, method, url, userAgent string) (*http.Response, error) {
	if err := httpclient.GlobalHostRate.Wait(ctx, url); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept-Encoding", "br, gzip")
	return client.Do(req)
}

func applyErr(res *Result, err error) {
	if ctxErr := err; ctxErr != nil {
		if ne, ok := ctxErr.(interface{ Timeout() bool }); ok && ne.Timeout() {
			res.Timeout = true
		}
	}
	res.Error = err.Error()
}

// readChecksummed reads resp.Body up to maxBytes, enforcing BOTH the
// Content-Length header (when present) and the cumulative-bytes-read count
// against the cap — either one tripping aborts with an oversize error. The
// Content-Length check applies to the wire size; since we request br/gzip
// encoding ourselves (disabling Go's transparent gzip handling), the body is
// decoded before the checksum is computed so Checksum reflects the resource's
// actual content regardless of which encoding the upstream happened to pick.
func readChecksummed(resp *http.Response, maxBytes int64) (checksum string, size int64, err error) {
	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		return "", 0, fmt.Errorf("file too large to download")
	}
	body, err := decodeBody(resp)
	if err != nil {
		return "", 0, err
	}
	h := sha1.New()
	n, err := io.Copy(h, io.LimitReader(body, maxBytes+1))
	if err != nil {
		return "", 0, err
	}
	if n > maxBytes {
		return "", 0, fmt.Errorf("file too large to download")
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// decodeBody wraps resp.Body to undo Content-Encoding, since setting our own
// Accept-Encoding header above disables net/http's built-in transparent gzip
// decompression.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func contentTypeWithoutParams(ct string) string {
	ct = strings.TrimSpace(ct)
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return strings.ToLower(ct)
}

// HeaderInt parses an integer header value (e.g. Content-Length), returning
// -1 when absent or malformed.
func HeaderInt(headers map[string]string, name string) int64 {
	v, ok := headers[strings.ToLower(name)]
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
