package store

import (
	"database/sql"
	"fmt"
)

// TablesIndexStore holds one row per materialized table, upserted by
// resource_id on every successful re-parse.
type TablesIndexStore struct {
	db *sql.DB
}

// Upsert inserts or replaces the profile JSON for a resource's table.
func (s *TablesIndexStore) Upsert(row TablesIndexRow) error {
	_, err := s.db.Exec(`
		INSERT INTO tables_index (resource_id, table_name, csv_detective, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			table_name = excluded.table_name,
			csv_detective = excluded.csv_detective,
			created_at = excluded.created_at
	`, row.ResourceID, row.TableName, row.CSVDetective, formatTime(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert tables_index %s: %w", row.ResourceID, err)
	}
	return nil
}

// Get returns the TablesIndex row for resourceID.
func (s *TablesIndexStore) Get(resourceID string) (TablesIndexRow, error) {
	var row TablesIndexRow
	var createdAt string
	err := s.db.QueryRow(`SELECT resource_id, table_name, csv_detective, created_at
		FROM tables_index WHERE resource_id = ?`, resourceID).
		Scan(&row.ResourceID, &row.TableName, &row.CSVDetective, &createdAt)
	if err != nil {
		return TablesIndexRow{}, err
	}
	row.CreatedAt, _ = parseTime(createdAt)
	return row, nil
}
