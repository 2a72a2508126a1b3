package materializer

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/opendatateam/hydracrawl/internal/csvprofile"
)

// reservedIdentifiers is the minimum reserved-identifier set: SQL
// system columns plus the synthetic primary key column name itself, which
// would otherwise collide with a CSV column literally named "__id".
var reservedIdentifiers = map[string]bool{
	"xmin": true, "xmax": true, "cmin": true, "cmax": true,
	"ctid": true, "tableoid": true, "oid": true, "__id": true,
}

const renamedSuffix = "__hydra_renamed"

// TableName derives the deterministic per-resource table name from a URL:
// lowercase hex MD5, matching the Python implementation's naming scheme.
func TableName(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// QuoteIdent double-quotes a SQL identifier, escaping internal double quotes
// by doubling them. This is the only safe way to embed a user-controlled
// name in DDL, since DDL does not accept bound parameters in any common SQL
// dialect.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnIdent returns the possibly-renamed column identifier: reserved
// names (case-insensitively) get "__hydra_renamed" appended.
func columnIdent(name string) string {
	if reservedIdentifiers[strings.ToLower(name)] {
		return name + renamedSuffix
	}
	return name
}

func sqlType(t csvprofile.ColumnType) string {
	switch t {
	case csvprofile.ColInteger:
		return "INTEGER"
	case csvprofile.ColFloat:
		return "REAL"
	case csvprofile.ColBoolean:
		return "INTEGER" // SQLite has no native BOOLEAN; 0/1
	case csvprofile.ColDate:
		return "TEXT" // stored as ISO date text; modernc.org/sqlite has no native DATE
	case csvprofile.ColTimestamp:
		return "TEXT"
	case csvprofile.ColJSON:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// Load replaces the table named TableName(url) with a fresh one built from
// profile and rows, inside a single transaction: the prior table (if any) is
// dropped and the new one created and populated atomically, so readers never
// observe a partial table. Optional indexes are created from
// a ResourceException afterward, inside the same transaction.
func Load(db *sql.DB, tableName string, profile csvprofile.Profile, rows [][]string, indexSpec map[string]string) (rowCount int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("materializer: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	quotedTable := QuoteIdent(tableName)
	if _, err = tx.Exec("DROP TABLE IF EXISTS " + quotedTable); err != nil {
		return 0, fmt.Errorf("materializer: drop old table: %w", err)
	}

	colIdents := make([]string, len(profile.Columns))
	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE ")
	ddl.WriteString(quotedTable)
	ddl.WriteString(" (__id INTEGER PRIMARY KEY")
	for i, col := range profile.Columns {
		ident := columnIdent(col.Name)
		colIdents[i] = ident
		ddl.WriteString(", ")
		ddl.WriteString(QuoteIdent(ident))
		ddl.WriteString(" ")
		ddl.WriteString(sqlType(col.Type))
	}
	ddl.WriteString(")")

	if _, err = tx.Exec(ddl.String()); err != nil {
		return 0, fmt.Errorf("materializer: create table: %w", err)
	}

	insertCols := make([]string, len(colIdents)+1)
	insertCols[0] = "__id"
	placeholders := make([]string, len(colIdents)+1)
	placeholders[0] = "?"
	for i, ident := range colIdents {
		insertCols[i+1] = QuoteIdent(ident)
		placeholders[i+1] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quotedTable, strings.Join(insertCols, ", "), strings.Join(placeholders, ", "))

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return 0, fmt.Errorf("materializer: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		id := i + 1
		args := make([]any, len(colIdents)+1)
		args[0] = id
		for j, col := range profile.Columns {
			var raw string
			if j < len(row) {
				raw = row[j]
			}
			args[j+1] = coerceValue(col.Type, raw)
		}
		if _, err = stmt.Exec(args...); err != nil {
			return 0, fmt.Errorf("materializer: insert row %d: %w", id, err)
		}
	}

	if err = createIndexes(tx, quotedTable, colIdents, profile, indexSpec); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("materializer: commit: %w", err)
	}
	return len(rows), nil
}

// coerceValue converts a raw CSV cell into the Go value bound for col's
// inferred type. A value that fails to coerce is stored as its original
// string (never dropped) so the column remains the authoritative record of
// what was actually seen.
func coerceValue(t csvprofile.ColumnType, raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	switch t {
	case csvprofile.ColInteger:
		if n, ok := csvprofile.CoerceInt(trimmed); ok {
			return n
		}
	case csvprofile.ColFloat:
		if f, ok := csvprofile.CoerceFloat(trimmed); ok {
			return f
		}
	case csvprofile.ColBoolean:
		if b, ok := csvprofile.CoerceBool(trimmed); ok {
			return boolInt(b)
		}
	case csvprofile.ColDate:
		if t, err := csvprofile.ParseTolerantDate(trimmed); err == nil {
			return t.Format("2006-01-02")
		}
	case csvprofile.ColTimestamp:
		if t, err := csvprofile.ParseTolerantDate(trimmed); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return raw
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// createIndexes builds UNIQUE or plain indexes named from a
// ResourceException's column -> "unique"|"index" spec, after the bulk load.
// Column names are resolved through the same rename table used at CREATE
// TABLE time so an exception naming "xmin" still hits "xmin__hydra_renamed".
func createIndexes(tx *sql.Tx, quotedTable string, colIdents []string, profile csvprofile.Profile, indexSpec map[string]string) error {
	if len(indexSpec) == 0 {
		return nil
	}
	renamed := make(map[string]string, len(profile.Columns))
	for i, col := range profile.Columns {
		renamed[col.Name] = colIdents[i]
	}
	for col, kind := range indexSpec {
		ident, ok := renamed[col]
		if !ok {
			continue // exception names a column absent from this CSV; skip silently
		}
		unique := ""
		if kind == "unique" {
			unique = "UNIQUE "
		}
		idxName := QuoteIdent("idx_" + strings.Trim(quotedTable, `"`) + "_" + ident)
		stmt := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, idxName, quotedTable, QuoteIdent(ident))
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("materializer: create index on %s: %w", col, err)
		}
	}
	return nil
}
