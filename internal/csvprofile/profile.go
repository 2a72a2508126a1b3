// Package csvprofile is a minimal CSV profiler: it detects encoding and
// delimiter, infers a type per column, and reports the same shape of
// profile (header, columns, total line count) that downstream table
// materialization needs.
package csvprofile

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// ColumnType is the inferred logical type of a column.
type ColumnType string

const (
	ColInteger   ColumnType = "integer"
	ColFloat     ColumnType = "float"
	ColBoolean   ColumnType = "boolean"
	ColDate      ColumnType = "date"
	ColTimestamp ColumnType = "timestamp"
	ColJSON      ColumnType = "json"
	ColString    ColumnType = "string"
)

// Column is one inferred column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Profile is the full result of profiling a CSV file, mirroring the shape
// persisted into TablesIndex.csv_detective.
type Profile struct {
	Header     []string `json:"header"`
	Columns    []Column `json:"columns"`
	Delimiter  rune     `json:"-"`
	Encoding   string   `json:"encoding"`
	TotalLines int      `json:"total_lines"`
}

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// Detect reads the CSV file at path, detects its encoding and delimiter,
// infers column types, and returns the profile plus all data rows (header
// excluded). Errors are returned unprefixed; callers that need the
// "csv_detective:<message>" convention add the prefix themselves.
func Detect(path string) (Profile, [][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, nil, err
	}
	enc := detectEncoding(raw)
	text, err := decodeToUTF8(raw, enc)
	if err != nil {
		return Profile{}, nil, err
	}

	delim, rows, err := detectDelimiterAndParse(text)
	if err != nil {
		return Profile{}, nil, err
	}
	if len(rows) == 0 {
		return Profile{}, nil, fmt.Errorf("list index out of range")
	}
	header := rows[0]
	data := rows[1:]

	if err := checkRectangular(header, data); err != nil {
		return Profile{}, nil, err
	}

	cols := make([]Column, len(header))
	for i, name := range header {
		cols[i] = Column{Name: name, Type: inferColumnType(columnValues(data, i))}
	}

	return Profile{
		Header:     header,
		Columns:    cols,
		Delimiter:  delim,
		Encoding:   enc,
		TotalLines: len(data),
	}, data, nil
}

func detectEncoding(raw []byte) string {
	_, name, _ := charset.DetermineEncoding(raw, "")
	if name == "" {
		return "utf-8"
	}
	return name
}

func decodeToUTF8(raw []byte, encodingName string) (string, error) {
	if encodingName == "" || encodingName == "utf-8" {
		return string(raw), nil
	}
	e, _ := charset.Lookup(encodingName)
	if e == nil {
		return string(raw), nil
	}
	decoded, err := e.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

// detectDelimiterAndParse tries each candidate delimiter and keeps the one
// that parses the most rows with a consistent field count; falls back to
// comma (the profiler's default heuristic) when nothing else is conclusive.
func detectDelimiterAndParse(text string) (rune, [][]string, error) {
	var bestRows [][]string
	bestDelim := ','
	bestScore := -1
	var firstErr error

	for _, d := range candidateDelimiters {
		r := csv.NewReader(strings.NewReader(text))
		r.Comma = d
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		rows, err := r.ReadAll()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(rows) == 0 {
			continue
		}
		score := consistencyScore(rows)
		if score > bestScore || (score == bestScore && len(rows[0]) > len(bestRows[safeIdx(bestRows)])) {
			bestScore = score
			bestDelim = d
			bestRows = rows
		}
	}

	if bestRows == nil {
		if firstErr != nil {
			return ',', nil, firstErr
		}
		return ',', nil, nil
	}
	return bestDelim, bestRows, nil
}

func safeIdx(rows [][]string) int {
	if len(rows) == 0 {
		return 0
	}
	return 0
}

// consistencyScore rewards more columns and penalizes ragged field counts.
func consistencyScore(rows [][]string) int {
	if len(rows) == 0 {
		return -1
	}
	width := len(rows[0])
	if width <= 1 {
		return 0
	}
	consistent := 0
	for _, row := range rows {
		if len(row) == width {
			consistent++
		}
	}
	return width*1000 + consistent
}

// checkRectangular mirrors the profiler's "ragged CSV" failure, sampled over
// the first 10 data rows (header plus up to 10 rows), matching the upstream
// profiler's exact wording.
func checkRectangular(header []string, data [][]string) error {
	n := len(header)
	sample := data
	if len(sample) > 10 {
		sample = sample[:10]
	}
	for _, row := range sample {
		if len(row) != n {
			return fmt.Errorf("Number of columns is not even across the first 10 rows.")
		}
	}
	return nil
}

func columnValues(rows [][]string, idx int) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			out = append(out, row[idx])
		} else {
			out = append(out, "")
		}
	}
	return out
}
