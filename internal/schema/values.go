package schema

// values.go recognises numbers and dates in the messy text of dropped files:
//   - currency symbols, thousands separators and accounting parentheses
//   - US, EU and ISO date layouts, with or without a time of day
//   - two-digit years, resolved against a pivot
//
// Inference and value normalization share these parsers so a column inferred
// as numeric is always staged in a form PostgreSQL can cast.

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted. Years that
// would land more than this many years in the future go to the previous
// century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06", "2-Jan-06",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006", "2-Jan-2006",
		"20060102",
	}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
		"01/02/2006 15:04:05",
		"01/02/2006 03:04:05 PM",
	}
)

// CleanNumber strips currency symbols, thousands separators and accounting
// parentheses. The result is not guaranteed to be numeric.
func CleanNumber(s string) string {
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if negative && s != "" {
		s = "-" + s
	}
	return s
}

// ParseNumber parses s after CleanNumber. It reports false for anything that
// is not a plain or scientific decimal literal.
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = CleanNumber(s)
	if s == "" || !numericRegex.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// IsNumber reports whether s parses as a number.
func IsNumber(s string) bool {
	_, ok := ParseNumber(s)
	return ok
}

// ParseDate parses s as a date or timestamp. Four-digit year layouts are
// tried first; two-digit years are resolved with TwoDigitYearPivot.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// IsDate reports whether s parses as a date.
func IsDate(s string) bool {
	_, ok := ParseDate(s)
	return ok
}

// ParseBool accepts true/false, yes/no, t/f, y/n and 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// NormalizeValue rewrites a raw cell into the canonical text form of the
// column type: plain decimals for numeric columns, ISO timestamps for date
// columns. Empty cells become "". Values that do not parse are returned
// trimmed and unchanged, leaving the rejection to the database cast.
func NormalizeValue(value, canonicalType string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}

	t := ParseType(canonicalType)
	switch t.Family {
	case FamilyInteger, FamilyDecimal:
		if d, ok := ParseNumber(v); ok {
			return d.String()
		}
	case FamilyDateTime:
		if ts, ok := ParseDate(v); ok {
			if t.Name == TypeDate {
				return ts.Format("2006-01-02")
			}
			return ts.Format("2006-01-02 15:04:05.999999")
		}
	case FamilyBoolean:
		if b, ok := ParseBool(v); ok {
			if b {
				return "true"
			}
			return "false"
		}
	case FamilyCharacter:
		return value
	}
	return v
}
