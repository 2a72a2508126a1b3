package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CatalogStore provides CRUD and the due-for-check query over the catalog
// table. All queries are short, single-statement transactions.
type CatalogStore struct {
	db *sql.DB
}

// Upsert creates or replaces the resource row keyed by ResourceID.
func (s *CatalogStore) Upsert(r Resource) error {
	_, err := s.db.Exec(`
		INSERT INTO catalog (resource_id, dataset_id, url, priority, deleted, status, harvest_modified_at, last_check_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			dataset_id = excluded.dataset_id,
			url = excluded.url,
			priority = excluded.priority,
			deleted = excluded.deleted,
			status = excluded.status,
			harvest_modified_at = excluded.harvest_modified_at,
			last_check_at = excluded.last_check_at
	`, r.ResourceID, r.DatasetID, r.URL, boolInt(r.Priority), boolInt(r.Deleted), r.Status,
		nullTime(r.HarvestModifiedAt), nullTime(r.LastCheckAt))
	if err != nil {
		return fmt.Errorf("store: upsert resource %s: %w", r.ResourceID, err)
	}
	return nil
}

// Get returns the resource with the given id, including soft-deleted ones.
func (s *CatalogStore) Get(resourceID string) (Resource, error) {
	row := s.db.QueryRow(`
		SELECT resource_id, dataset_id, url, priority, deleted, status, harvest_modified_at, last_check_at
		FROM catalog WHERE resource_id = ?`, resourceID)
	return scanResource(row)
}

// GetByURL returns the first non-deleted resource matching url.
func (s *CatalogStore) GetByURL(url string) (Resource, error) {
	row := s.db.QueryRow(`
		SELECT resource_id, dataset_id, url, priority, deleted, status, harvest_modified_at, last_check_at
		FROM catalog WHERE url = ? AND deleted = 0 LIMIT 1`, url)
	return scanResource(row)
}

// SoftDelete tombstones a resource; it is never hard-deleted.
func (s *CatalogStore) SoftDelete(resourceID string) error {
	res, err := s.db.Exec(`UPDATE catalog SET deleted = 1 WHERE resource_id = ?`, resourceID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClearPriority clears the one-shot priority flag after a successful probe.
func (s *CatalogStore) ClearPriority(resourceID string) error {
	_, err := s.db.Exec(`UPDATE catalog SET priority = 0 WHERE resource_id = ?`, resourceID)
	return err
}

// SetStatus sets status (e.g. BACKOFF) or clears it back to idle ("").
func (s *CatalogStore) SetStatus(resourceID, status string) error {
	_, err := s.db.Exec(`UPDATE catalog SET status = ? WHERE resource_id = ?`, status, resourceID)
	return err
}

// SetLastCheckAt records the time of the most recent probe.
func (s *CatalogStore) SetLastCheckAt(resourceID string, t time.Time) error {
	_, err := s.db.Exec(`UPDATE catalog SET last_check_at = ? WHERE resource_id = ?`, formatTime(t), resourceID)
	return err
}

// DueCandidates returns non-deleted resources in status idle or BACKOFF
// whose URL does not match any SQL LIKE exclusion pattern, idle ones first
// so that BACKOFF resources are deprioritized when the caller truncates to a
// batch. Priority and freshness are evaluated by the caller
// (internal/change), which also needs the latest Check per resource.
func (s *CatalogStore) DueCandidates(excludedPatterns []string) ([]Resource, error) {
	query := `SELECT resource_id, dataset_id, url, priority, deleted, status, harvest_modified_at, last_check_at
		FROM catalog WHERE deleted = 0 AND (status = '' OR status = 'BACKOFF')`
	args := []any{}
	for _, p := range excludedPatterns {
		query += " AND url NOT LIKE ?"
		args = append(args, p)
	}
	query += " ORDER BY status = 'BACKOFF'"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: due candidates: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		r, err := scanResourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAll returns every catalog row, including soft-deleted ones, for
// export/bootstrap tooling.
func (s *CatalogStore) ListAll() ([]Resource, error) {
	rows, err := s.db.Query(`
		SELECT resource_id, dataset_id, url, priority, deleted, status, harvest_modified_at, last_check_at
		FROM catalog`)
	if err != nil {
		return nil, fmt.Errorf("store: list all: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		r, err := scanResourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (Resource, error) {
	var r Resource
	var priority, deleted int
	var harvestModifiedAt, lastCheckAt sql.NullString
	err := row.Scan(&r.ResourceID, &r.DatasetID, &r.URL, &priority, &deleted, &r.Status, &harvestModifiedAt, &lastCheckAt)
	if err != nil {
		return Resource{}, err
	}
	r.Priority = priority != 0
	r.Deleted = deleted != 0
	r.HarvestModifiedAt = parseNullTime(harvestModifiedAt)
	r.LastCheckAt = parseNullTime(lastCheckAt)
	return r, nil
}

func scanResourceRows(rows *sql.Rows) (Resource, error) { return scanResource(rows) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
