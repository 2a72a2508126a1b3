package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CheckStore is the append-only Check journal: append, latest-per-resource
// lookup, full history, and daily aggregates.
type CheckStore struct {
	db *sql.DB
}

// Append inserts an immutable Check row. Checks are never mutated afterward.
func (s *CheckStore) Append(c Check) error {
	headersJSON, err := json.Marshal(c.Headers)
	if err != nil {
		return fmt.Errorf("store: marshal headers: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO checks (
			id, resource_id, url, created_at, status, headers, timeout, error,
			response_time_ms, checksum, filesize, mime_type, parsing_table,
			parsing_error, parsing_started_at, parsing_finished_at,
			detected_last_modified_at, detected_last_modified_source, deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ResourceID, c.URL, formatTime(c.CreatedAt),
		nullInt(c.Status), string(headersJSON), boolInt(c.Timeout), nullStr(c.Error),
		nullInt64(c.ResponseTimeMS), nullStr(c.Checksum), nullInt64(c.FileSize), nullStr(c.MimeType),
		nullStr(c.ParsingTable), nullStr(c.ParsingError), nullTime(c.ParsingStartedAt), nullTime(c.ParsingFinishedAt),
		nullTime(c.DetectedLastModifiedAt), c.DetectedLastModifiedSource, boolInt(c.Deleted),
	)
	if err != nil {
		return fmt.Errorf("store: append check: %w", err)
	}
	return nil
}

const checkColumns = `id, resource_id, url, created_at, status, headers, timeout, error,
	response_time_ms, checksum, filesize, mime_type, parsing_table,
	parsing_error, parsing_started_at, parsing_finished_at,
	detected_last_modified_at, detected_last_modified_source, deleted`

// GetLatestByResourceID returns the most recent non-deleted check for
// resourceID, or sql.ErrNoRows if none exists.
func (s *CheckStore) GetLatestByResourceID(resourceID string) (Check, error) {
	row := s.db.QueryRow(`SELECT `+checkColumns+` FROM checks
		WHERE resource_id = ? AND deleted = 0 ORDER BY created_at DESC LIMIT 1`, resourceID)
	return scanCheck(row)
}

// GetLatestByURL returns the most recent non-deleted check for url.
func (s *CheckStore) GetLatestByURL(url string) (Check, error) {
	row := s.db.QueryRow(`SELECT `+checkColumns+` FROM checks
		WHERE url = ? AND deleted = 0 ORDER BY created_at DESC LIMIT 1`, url)
	return scanCheck(row)
}

// GetAllByResourceID returns the full check history for a resource, most
// recent first.
func (s *CheckStore) GetAllByResourceID(resourceID string) ([]Check, error) {
	rows, err := s.db.Query(`SELECT `+checkColumns+` FROM checks
		WHERE resource_id = ? AND deleted = 0 ORDER BY created_at DESC`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChecks(rows)
}

// GetAllByURL returns the full check history for a URL, most recent first.
func (s *CheckStore) GetAllByURL(url string) ([]Check, error) {
	rows, err := s.db.Query(`SELECT `+checkColumns+` FROM checks
		WHERE url = ? AND deleted = 0 ORDER BY created_at DESC`, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChecks(rows)
}

// AggregateRow is one row of a GetGroupByForDate result: the distinct value of
// the grouping column, and how many checks shared it on the given date.
type AggregateRow struct {
	Value string
	Count int64
}

// allowedAggregateColumns is the set of Check columns the admin API may
// group by; restricting to a fixed allow-list keeps the column name out of
// interpolated SQL entirely (it is never taken from the request as raw SQL
// text beyond this lookup).
var allowedAggregateColumns = map[string]bool{
	"status": true, "mime_type": true, "detected_last_modified_source": true,
	"timeout": true, "parsing_table": true,
}

// GetGroupByForDate counts checks created on date (YYYY-MM-DD, UTC),
// grouped by column. Returns an error if column is not in the allow-list.
func (s *CheckStore) GetGroupByForDate(column, date string) ([]AggregateRow, error) {
	if !allowedAggregateColumns[column] {
		return nil, fmt.Errorf("store: group-by column %q not allowed", column)
	}
	query := fmt.Sprintf(`SELECT COALESCE(CAST(%s AS TEXT), ''), COUNT(*) FROM checks
		WHERE deleted = 0 AND substr(created_at, 1, 10) = ? GROUP BY %s ORDER BY COUNT(*) DESC`, column, column)
	rows, err := s.db.Query(query, date)
	if err != nil {
		return nil, fmt.Errorf("store: group by date: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var ar AggregateRow
		if err := rows.Scan(&ar.Value, &ar.Count); err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

func scanCheck(row scanner) (Check, error) {
	var c Check
	var createdAt string
	var status, responseTimeMS, filesize sql.NullInt64
	var headersJSON string
	var timeout, deleted int
	var errStr, checksum, mimeType, parsingTable, parsingError sql.NullString
	var parsingStartedAt, parsingFinishedAt, detectedLastModifiedAt sql.NullString

	err := row.Scan(&c.ID, &c.ResourceID, &c.URL, &createdAt, &status, &headersJSON, &timeout, &errStr,
		&responseTimeMS, &checksum, &filesize, &mimeType, &parsingTable, &parsingError,
		&parsingStartedAt, &parsingFinishedAt, &detectedLastModifiedAt, &c.DetectedLastModifiedSource, &deleted)
	if err != nil {
		return Check{}, err
	}
	c.CreatedAt, _ = parseTime(createdAt)
	c.Timeout = timeout != 0
	c.Deleted = deleted != 0
	if status.Valid {
		v := int(status.Int64)
		c.Status = &v
	}
	_ = json.Unmarshal([]byte(headersJSON), &c.Headers)
	c.Error = nsToPtr(errStr)
	if responseTimeMS.Valid {
		v := responseTimeMS.Int64
		c.ResponseTimeMS = &v
	}
	c.Checksum = nsToPtr(checksum)
	if filesize.Valid {
		v := filesize.Int64
		c.FileSize = &v
	}
	c.MimeType = nsToPtr(mimeType)
	c.ParsingTable = nsToPtr(parsingTable)
	c.ParsingError = nsToPtr(parsingError)
	c.ParsingStartedAt = parseNullTime(parsingStartedAt)
	c.ParsingFinishedAt = parseNullTime(parsingFinishedAt)
	c.DetectedLastModifiedAt = parseNullTime(detectedLastModifiedAt)
	return c, nil
}

func scanChecks(rows *sql.Rows) ([]Check, error) {
	var out []Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nsToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
