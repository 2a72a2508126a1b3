package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ResourceExceptionStore holds per-resource overrides for otherwise-rejected
// (oversized) resources. Grounded on the original Python
// resource_exception.py, but with the f-string SQL-injection bug fixed: the
// INSERT below is fully parameterized, never string-interpolated.
type ResourceExceptionStore struct {
	db *sql.DB
}

// Insert stores (or replaces) the exception row for resourceID via a
// parameterized query — table_indexes is bound as a parameter, never spliced
// into the SQL text.
func (s *ResourceExceptionStore) Insert(e ResourceException) error {
	indexesJSON, err := json.Marshal(e.TableIndexes)
	if err != nil {
		return fmt.Errorf("store: marshal table_indexes: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO resources_exceptions (resource_id, table_indexes)
		VALUES (?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET table_indexes = excluded.table_indexes
	`, e.ResourceID, string(indexesJSON))
	if err != nil {
		return fmt.Errorf("store: insert resource exception %s: %w", e.ResourceID, err)
	}
	return nil
}

// Get returns the exception row for resourceID, or sql.ErrNoRows if none
// exists (the resource has no override).
func (s *ResourceExceptionStore) Get(resourceID string) (ResourceException, error) {
	var indexesJSON string
	e := ResourceException{ResourceID: resourceID}
	err := s.db.QueryRow(`SELECT table_indexes FROM resources_exceptions WHERE resource_id = ?`, resourceID).
		Scan(&indexesJSON)
	if err != nil {
		return ResourceException{}, err
	}
	if err := json.Unmarshal([]byte(indexesJSON), &e.TableIndexes); err != nil {
		return ResourceException{}, fmt.Errorf("store: unmarshal table_indexes for %s: %w", resourceID, err)
	}
	return e, nil
}
