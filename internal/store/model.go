// Package store is the SQLite-backed persistence layer: the Catalog of
// resources, the append-only Check journal, the TablesIndex of materialized
// tables, and ResourceException overrides.
package store

import "time"

// Resource is a row in the catalog: a single URL belonging to a dataset.
type Resource struct {
	ResourceID        string
	DatasetID         string
	URL               string
	Priority          bool
	Deleted           bool
	Status            string // "" (idle), "BACKOFF", or another pending state
	HarvestModifiedAt *time.Time
	LastCheckAt       *time.Time
}

// Due-eligible statuses. Any other non-empty status suppresses checks until
// the admin API or scheduler clears it back to "".
const (
	StatusIdle    = ""
	StatusBackoff = "BACKOFF"
)

// Check is an immutable record appended per probe.
type Check struct {
	ID                          string
	ResourceID                  string
	URL                         string
	CreatedAt                   time.Time
	Status                      *int
	Headers                     map[string]string
	Timeout                     bool
	Error                       *string
	ResponseTimeMS              *int64
	Checksum                    *string
	FileSize                    *int64
	MimeType                    *string
	ParsingTable                *string
	ParsingError                *string
	ParsingStartedAt            *time.Time
	ParsingFinishedAt           *time.Time
	DetectedLastModifiedAt      *time.Time
	DetectedLastModifiedSource  string // one of the Source* constants, or ""
	Deleted                     bool
}

// Sources for DetectedLastModifiedSource, per the change-detection rule chain.
const (
	SourceLastModifiedHeader  = "last-modified-header"
	SourceContentLengthHeader = "content-length-header"
	SourceComputedChecksum    = "computed-checksum"
	SourceHarvestMetadata     = "harvest-resource-metadata"
)

// TablesIndexRow is one row per materialized table.
type TablesIndexRow struct {
	ResourceID    string
	TableName     string
	CSVDetective  string // JSON blob of csvprofile.Profile: header, columns (name and type), encoding, total_lines; no per-column formats or statistics
	CreatedAt     time.Time
}

// ResourceException is an override allowing an otherwise-rejected (oversized)
// resource, with an optional index specification.
type ResourceException struct {
	ResourceID    string
	TableIndexes  map[string]string // column -> "unique" | "index"
}
