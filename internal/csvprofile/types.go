package csvprofile

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// inferColumnType samples every value in a column and returns the most
// specific type that all non-empty values satisfy, in the priority order
// integer > float > boolean > date > timestamp > json > string. An
// all-empty column is classed as string.
func inferColumnType(values []string) ColumnType {
	checks := []struct {
		t ColumnType
		f func(string) bool
	}{
		{ColInteger, looksLikeInteger},
		{ColFloat, looksLikeFloat},
		{ColBoolean, looksLikeBoolean},
		{ColDate, looksLikeDateOnly},
		{ColTimestamp, looksLikeTimestamp},
		{ColJSON, looksLikeJSON},
	}

	seen := 0
	for _, c := range checks {
		ok := true
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			seen++
			if !c.f(v) {
				ok = false
				break
			}
		}
		if ok && seen > 0 {
			return c.t
		}
		seen = 0
	}
	return ColString
}

func looksLikeInteger(v string) bool {
	// "2.0"-shaped values are accepted as integers when every fractional
	// part is zero (see the integer coercion rule in the type lattice).
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	return f == float64(int64(f))
}

func looksLikeFloat(v string) bool {
	v = normalizeDecimalComma(v)
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func looksLikeBoolean(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	default:
		return false
	}
}

var jsonLike = regexp.MustCompile(`^\s*[\[{].*[\]}]\s*$`)

func looksLikeJSON(v string) bool {
	return jsonLike.MatchString(v)
}

func looksLikeDateOnly(v string) bool {
	_, err := ParseTolerantDate(v)
	if err != nil {
		return false
	}
	return !strings.ContainsAny(v, ":")
}

func looksLikeTimestamp(v string) bool {
	_, err := ParseTolerantDate(v)
	return err == nil && strings.ContainsAny(v, ":")
}

// normalizeDecimalComma rewrites a comma decimal separator ("1020,20") to a
// dot ("1020.20") so strconv.ParseFloat can parse it. Left untouched when the
// value already uses a dot or has no comma.
func normalizeDecimalComma(v string) string {
	if strings.Contains(v, ".") || !strings.Contains(v, ",") {
		return v
	}
	// Only rewrite a single trailing decimal comma, not thousands separators
	// like "1,020,20" which are ambiguous and left to fail parsing.
	if strings.Count(v, ",") != 1 {
		return v
	}
	return strings.Replace(v, ",", ".", 1)
}

// CoerceInt converts v to an int64 per the integer coercion rule: a value
// like "2.0" is accepted when its fractional part is zero.
func CoerceInt(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// CoerceFloat converts v to a float64, accepting a comma decimal separator.
func CoerceFloat(v string) (float64, bool) {
	v = normalizeDecimalComma(strings.TrimSpace(v))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CoerceBool converts v to a bool, case-insensitively.
func CoerceBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

var monthNamesFR = map[string]time.Month{
	"janvier": time.January, "février": time.February, "fevrier": time.February,
	"mars": time.March, "avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "août": time.August, "aout": time.August,
	"septembre": time.September, "octobre": time.October,
	"novembre": time.November, "décembre": time.December, "decembre": time.December,
}

var ordinalSuffix = regexp.MustCompile(`(?i)(\d+)(st|nd|rd|th)`)

// tolerantLayouts covers the locale-variant forms the profiler must accept:
// ISO, US, day-month-year with a reversed date/time order, and English
// ordinal day suffixes (handled separately, before layout matching).
var tolerantLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-02-01 15:04:05", // year-day-month order seen in some exports
	"01-02-2006 15:04:05",
	"01/02/2006 15:04:05",
	"02/01/2006",
	"01/02/2006",
	"2 January 2006",
	"2 January 2006 15:04:05",
	"January 2, 2006",
}

// ParseTolerantDate parses a date/timestamp string in any of the locale
// variants the CSV analyzer must accept: ISO forms, US month/day order,
// French month names ("31 décembre 2022"), and English ordinal suffixes
// ("31st december 2022"). Returns an error when no layout matches.
func ParseTolerantDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errEmptyDate
	}
	candidate := ordinalSuffix.ReplaceAllString(v, "$1")
	candidate = frenchMonthToEnglish(candidate)

	for _, layout := range tolerantLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return t, nil
		}
	}
	// Year-day-month forms the layouts above do not cover, such as the
	// date-only "2022-31-12": a format seen from some harvesters that
	// transposed day and month when generating ISO-looking timestamps.
	if t, ok := parseYearDayMonth(candidate); ok {
		return t, nil
	}
	return time.Time{}, errBadDateFormat
}

func frenchMonthToEnglish(v string) string {
	lower := strings.ToLower(v)
	for fr, m := range monthNamesFR {
		if strings.Contains(lower, fr) {
			idx := strings.Index(lower, fr)
			return v[:idx] + m.String() + v[idx+len(fr):]
		}
	}
	return v
}

func parseYearDayMonth(v string) (time.Time, bool) {
	parts := strings.SplitN(v, " ", 2)
	datePart := parts[0]
	timePart := "00:00:00"
	if len(parts) == 2 {
		timePart = parts[1]
	}
	dateFields := strings.Split(datePart, "-")
	if len(dateFields) != 3 {
		return time.Time{}, false
	}
	year, err1 := strconv.Atoi(dateFields[0])
	day, err2 := strconv.Atoi(dateFields[1])
	month, err3 := strconv.Atoi(dateFields[2])
	if err1 != nil || err2 != nil || err3 != nil || len(dateFields[0]) != 4 {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02 15:04:05", strconv.Itoa(year)+"-"+pad2(month)+"-"+pad2(day)+" "+timePart)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

type tolerantDateError string

func (e tolerantDateError) Error() string { return string(e) }

const (
	errEmptyDate     = tolerantDateError("empty date value")
	errBadDateFormat = tolerantDateError("unrecognized date/timestamp format")
)
