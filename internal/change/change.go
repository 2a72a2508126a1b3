// Package change implements the freshness rule (when a resource is due for
// a re-check) and the change-detection signal chain (whether a newly
// recorded Check represents a content change worth persisting and
// notifying about).
package change

import (
	"net/http"
	"time"

	"github.com/opendatateam/hydracrawl/internal/store"
)

// IsStale reports whether resource is due for a re-check.
//
// priority always makes the resource stale (callers clear the flag after a
// successful probe). Absent a prior check, the resource is always stale.
// When the latest check recorded a detected_last_modified_at, the resource
// is stale once the elapsed time since the last check exceeds the apparent
// remote change interval (now - detected_last_modified_at). Otherwise the
// resource is stale once the elapsed time since the last check exceeds
// defaultIntervalDays.
func IsStale(resource store.Resource, latest *store.Check, defaultIntervalDays int, now time.Time) bool {
	if resource.Priority {
		return true
	}
	if latest == nil || resource.LastCheckAt == nil {
		return true
	}
	elapsedSinceCheck := now.Sub(*resource.LastCheckAt)
	if latest.DetectedLastModifiedAt != nil {
		apparentChangeInterval := now.Sub(*latest.DetectedLastModifiedAt)
		return elapsedSinceCheck > apparentChangeInterval
	}
	return elapsedSinceCheck > time.Duration(defaultIntervalDays)*24*time.Hour
}

// Detect evaluates the change-signal comparison chain against prev (nil on
// the first check for this resource) and, on the first matching rule, sets
// cur.DetectedLastModifiedAt and cur.DetectedLastModifiedSource. The rules
// are tried in order: last-modified header, content-length header, harvest
// metadata, computed checksum. harvestModifiedAt is the catalog
// resource's current harvest_modified_at.
//
// A content-type-only change does not set a modified-at (no rule matches
// it), but the caller's ShouldNotify still fires for it independently.
func Detect(prev *store.Check, cur *store.Check, harvestModifiedAt *time.Time, now time.Time) {
	if prev == nil {
		return
	}
	if t, ok := lastModifiedDiffers(prev, cur); ok {
		cur.DetectedLastModifiedAt = &t
		cur.DetectedLastModifiedSource = store.SourceLastModifiedHeader
		return
	}
	if contentLengthDiffers(prev, cur) {
		t := now
		cur.DetectedLastModifiedAt = &t
		cur.DetectedLastModifiedSource = store.SourceContentLengthHeader
		return
	}
	if harvestDiffers(prev, harvestModifiedAt) {
		cur.DetectedLastModifiedAt = harvestModifiedAt
		cur.DetectedLastModifiedSource = store.SourceHarvestMetadata
		return
	}
	if checksumDiffers(prev, cur) {
		t := now
		cur.DetectedLastModifiedAt = &t
		cur.DetectedLastModifiedSource = store.SourceComputedChecksum
		return
	}
}

// ShouldNotify reports whether a notification must fire for cur:
// the first check for a resource, any changed signal among status,
// content-type, content-length, last-modified, or checksum, or a freshly
// materialized table.
func ShouldNotify(isFirstCheck bool, prev, cur *store.Check, newTable bool) bool {
	if isFirstCheck || newTable {
		return true
	}
	if prev == nil {
		return true
	}
	if statusDiffers(prev, cur) {
		return true
	}
	if contentTypeDiffers(prev, cur) {
		return true
	}
	if contentLengthDiffers(prev, cur) {
		return true
	}
	if _, ok := lastModifiedDiffers(prev, cur); ok {
		return true
	}
	if checksumDiffers(prev, cur) {
		return true
	}
	return false
}

func header(c *store.Check, name string) (string, bool) {
	if c == nil || c.Headers == nil {
		return "", false
	}
	v, ok := c.Headers[name]
	return v, ok
}

func lastModifiedDiffers(prev, cur *store.Check) (time.Time, bool) {
	pv, pok := header(prev, "last-modified")
	cv, cok := header(cur, "last-modified")
	if !pok || !cok {
		return time.Time{}, false
	}
	pt, perr := http.ParseTime(pv)
	ct, cerr := http.ParseTime(cv)
	if perr != nil || cerr != nil {
		return time.Time{}, false
	}
	if pt.Equal(ct) {
		return time.Time{}, false
	}
	return ct, true
}

func contentLengthDiffers(prev, cur *store.Check) bool {
	pv, pok := header(prev, "content-length")
	cv, cok := header(cur, "content-length")
	if !pok || !cok {
		return false
	}
	return pv != cv
}

func contentTypeDiffers(prev, cur *store.Check) bool {
	pv, _ := header(prev, "content-type")
	cv, _ := header(cur, "content-type")
	return pv != cv
}

func harvestDiffers(prev *store.Check, harvestModifiedAt *time.Time) bool {
	if harvestModifiedAt == nil {
		return false
	}
	if prev.DetectedLastModifiedAt == nil {
		return true
	}
	return !harvestModifiedAt.Equal(*prev.DetectedLastModifiedAt)
}

func checksumDiffers(prev, cur *store.Check) bool {
	if prev.Checksum == nil || cur.Checksum == nil {
		return false
	}
	return *prev.Checksum != *cur.Checksum
}

func statusDiffers(prev, cur *store.Check) bool {
	if prev.Status == nil && cur.Status == nil {
		return false
	}
	if prev.Status == nil || cur.Status == nil {
		return true
	}
	return *prev.Status != *cur.Status
}
