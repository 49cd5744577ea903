package schema

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds sanitized column and table names. PostgreSQL
// cuts longer identifiers to NAMEDATALEN-1 bytes without complaint, so a
// longer name would no longer match the column or table it created.
// Sanitized names are ASCII, so bytes and characters agree.
const MaxIdentifierLength = 63

// SafePrefix is prepended to names that are empty or start with a digit.
const SafePrefix = "col_"

const tablePrefix = "tbl_"

// SanitizeHeaders turns raw header cells into identifiers: surrounding space
// is trimmed, every character outside [A-Za-z0-9_] becomes '_', names that
// are empty or start with a digit get SafePrefix, and the result is cut to
// MaxIdentifierLength. Applying it twice gives the same result.
func SanitizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		out[i] = sanitizeName(h, SafePrefix)
	}
	return out
}

func sanitizeName(s, prefix string) string {
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = prefix + name
	}
	if len(name) > MaxIdentifierLength {
		name = name[:MaxIdentifierLength]
	}
	return name
}

// DeduplicateHeaders makes names unique, ignoring case. The first occurrence
// keeps its name; later duplicates get _1, _2, ... skipping any suffixed
// name already present in the list. Order and length are preserved.
func DeduplicateHeaders(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[strings.ToLower(n)] = true
	}

	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	next := make(map[string]int)

	for i, n := range names {
		key := strings.ToLower(n)
		if !seen[key] {
			seen[key] = true
			out[i] = n
			continue
		}

		for {
			next[key]++
			suffix := fmt.Sprintf("_%d", next[key])
			base := n
			if len(base)+len(suffix) > MaxIdentifierLength {
				base = base[:MaxIdentifierLength-len(suffix)]
			}
			cand := base + suffix
			if !taken[strings.ToLower(cand)] {
				taken[strings.ToLower(cand)] = true
				seen[strings.ToLower(cand)] = true
				out[i] = cand
				break
			}
		}
	}
	return out
}

// Timestamp suffixes that exports commonly append to file names.
var timestampSuffixes = []*regexp.Regexp{
	// 2024-01-31, 2024-01-31_235959, 2024-01-31T23-59-59, 2024-01-31 23:59
	regexp.MustCompile(`[_\-. ]\d{4}-\d{2}-\d{2}(?:[_T\- ]\d{2}[-:.]?\d{2}(?:[-:.]?\d{2})?)?$`),
	// 20240131, 20240131_235959, 20240131T2359, 20240131120000
	regexp.MustCompile(`[_\-. ]\d{8}(?:[_T\-]?\d{4}(?:\d{2})?)?$`),
	// unix epoch seconds or millis
	regexp.MustCompile(`[_\-.]\d{10}(?:\d{3})?$`),
}

var repeatedUnderscore = regexp.MustCompile(`_+`)

// TableNameFromFile derives a table name from a file name: the directory and
// extension are dropped, trailing timestamp suffixes are stripped and the rest
// is lower-cased and sanitized.
func TableNameFromFile(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	for {
		stripped := base
		for _, re := range timestampSuffixes {
			stripped = re.ReplaceAllString(stripped, "")
		}
		if stripped == base || stripped == "" {
			break
		}
		base = stripped
	}

	name := sanitizeName(strings.ToLower(base), tablePrefix)
	name = repeatedUnderscore.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = sanitizeName(tablePrefix+name, tablePrefix)
	}
	return name
}
