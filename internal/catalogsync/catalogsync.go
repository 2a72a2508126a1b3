// Package catalogsync bootstraps the crawler's catalog table from an
// external JSON export — the one-time (or periodic) import path used before
// the scheduler has anything to check. Uses a temp-file-then-rename JSON
// persistence strategy, reworked around SQL upserts instead of an
// in-memory replace.
package catalogsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opendatateam/hydracrawl/internal/store"
)

// Entry is one row of the catalog export/import format.
type Entry struct {
	DatasetID         string     `json:"dataset_id"`
	ResourceID        string     `json:"resource_id"`
	URL               string     `json:"url"`
	HarvestModifiedAt *time.Time `json:"harvest_modified_at,omitempty"`
}

// Import reads a JSON array of Entry from path and upserts each into the
// catalog. Returns the number of rows imported. Malformed individual
// entries (missing resource_id, dataset_id, or url) are skipped and
// reported in the returned skipped count rather than aborting the whole
// import, since a single bad row in a large harvest export shouldn't block
// the rest.
func Import(db *store.DB, path string) (imported, skipped int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("catalogsync: read %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, 0, fmt.Errorf("catalogsync: parse %s: %w", path, err)
	}
	for _, e := range entries {
		if e.ResourceID == "" || e.DatasetID == "" || e.URL == "" {
			skipped++
			continue
		}
		res := store.Resource{
			ResourceID:        e.ResourceID,
			DatasetID:         e.DatasetID,
			URL:               e.URL,
			HarvestModifiedAt: e.HarvestModifiedAt,
		}
		if err := db.Catalog.Upsert(res); err != nil {
			return imported, skipped, fmt.Errorf("catalogsync: upsert %s: %w", e.ResourceID, err)
		}
		imported++
	}
	return imported, skipped, nil
}

// Export writes every non-deleted catalog row to path as a JSON array,
// using a temp-file-then-rename strategy so a reader never observes a
// partially-written file.
func Export(db *store.DB, path string, resources []store.Resource) error {
	entries := make([]Entry, 0, len(resources))
	for _, r := range resources {
		if r.Deleted {
			continue
		}
		entries = append(entries, Entry{
			DatasetID:         r.DatasetID,
			ResourceID:        r.ResourceID,
			URL:               r.URL,
			HarvestModifiedAt: r.HarvestModifiedAt,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("catalogsync: marshal export: %w", err)
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".catalog-*.json.tmp")
	if err != nil {
		return fmt.Errorf("catalogsync: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("catalogsync: write: %w", writeErr)
		}
		return fmt.Errorf("catalogsync: close: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalogsync: rename: %w", err)
	}
	return nil
}
