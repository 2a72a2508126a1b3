package materializer

import (
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dustin/go-humanize"

	"github.com/opendatateam/hydracrawl/internal/httpclient"
	"github.com/opendatateam/hydracrawl/internal/safeurl"
)

const downloadChunkSize = 1024 * 1024 // 1 MiB per streamed chunk

// ErrTooLarge is returned by DownloadCapped when the resource exceeds
// maxBytes, either axis. Its message is the exact string the outbound
// notification's analysis:error key carries, so it is never wrapped.
var ErrTooLarge = errors.New("File too large to download")

// DownloadResult carries what the CSV analyzer needs after a capped download.
type DownloadResult struct {
	Path     string
	Size     int64
	Checksum string // SHA-1 hex
}

// DownloadCapped streams url to destPath, enforcing the resource size cap on
// BOTH axes unconditionally: the Content-Length header (checked before the
// body is read, when present) and the cumulative bytes actually streamed
// (checked as they arrive). Either one tripping aborts with ErrTooLarge and
// removes the partial file. Only http/https URLs are allowed.
func DownloadCapped(ctx context.Context, url, destPath string, client *http.Client, maxBytes int64) (DownloadResult, error) {
	if !safeurl.IsHTTPOrHTTPS(url) {
		return DownloadResult{}, fmt.Errorf("download: invalid URL scheme (only http/https allowed)")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return DownloadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DownloadResult{}, err
	}
	req.Header.Set("Accept-Encoding", "br, gzip")
	if err := httpclient.GlobalHostRate.Wait(ctx, url); err != nil {
		return DownloadResult{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return DownloadResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DownloadResult{}, &downloadError{code: resp.StatusCode}
	}
	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		log.Printf("download: %s: content-length %s exceeds cap %s", url,
			humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(maxBytes)))
		return DownloadResult{}, ErrTooLarge
	}

	f, err := os.Create(destPath)
	if err != nil {
		return DownloadResult{}, err
	}
	defer f.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("download: decode body: %w", err)
	}

	h := sha1.New()
	w := io.MultiWriter(f, h)
	var total int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				os.Remove(destPath)
				log.Printf("download: %s: exceeded %s while streaming", url, humanize.Bytes(uint64(maxBytes)))
				return DownloadResult{}, ErrTooLarge
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				os.Remove(destPath)
				return DownloadResult{}, werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			os.Remove(destPath)
			return DownloadResult{}, rerr
		}
	}

	return DownloadResult{
		Path:     destPath,
		Size:     total,
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// decodeBody wraps resp.Body to undo Content-Encoding, since setting our own
// Accept-Encoding header above disables net/http's built-in transparent
// gzip decompression. The checksum and size recorded in DownloadResult are
// of the decoded content, matching what probe.Run computes for the same URL.
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

type downloadError struct{ code int }

func (e *downloadError) Error() string { return fmt.Sprintf("download: HTTP %d", e.code) }
