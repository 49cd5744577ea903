package schema

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// VarcharLadder lists the character column sizes inference picks from.
// Values longer than the last rung become varchar(max).
var VarcharLadder = []int{50, 100, 200, 500, 2000, 4000}

// maxDecimalPrecision is the widest decimal inference will declare.
const maxDecimalPrecision = 38

// InferTypes infers a canonical type per column from sample rows.
//
// For each column up to sampleRows non-empty values are inspected. All
// integers give int, bigint or decimal(38,0) by magnitude; all numbers give
// decimal(p,s) sized to the widest observed value; a date fraction of at
// least dateThreshold gives datetime; anything else is the smallest varchar
// on VarcharLadder that fits. Columns without values are varchar(50).
func InferTypes(sample [][]string, columns []string, sampleRows int, dateThreshold float64) map[string]string {
	types := make(map[string]string, len(columns))
	for i, col := range columns {
		types[col] = inferColumn(columnValues(sample, i, sampleRows), dateThreshold)
	}
	return types
}

// InferColumns is InferTypes returning ordered column definitions.
func InferColumns(sample [][]string, columns []string, sampleRows int, dateThreshold float64) []Column {
	types := InferTypes(sample, columns, sampleRows, dateThreshold)
	out := make([]Column, len(columns))
	for i, col := range columns {
		out[i] = Column{Name: col, Type: types[col], Ordinal: i + 1}
	}
	return out
}

func columnValues(sample [][]string, idx, limit int) []string {
	var values []string
	for _, row := range sample {
		if limit > 0 && len(values) >= limit {
			break
		}
		if idx >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func inferColumn(values []string, dateThreshold float64) string {
	if len(values) == 0 {
		return varcharFor(0)
	}

	if t, ok := inferNumeric(values); ok {
		return t
	}

	dates := 0
	maxLen := 0
	for _, v := range values {
		if IsDate(v) {
			dates++
		}
		if n := utf8.RuneCountInString(v); n > maxLen {
			maxLen = n
		}
	}
	if float64(dates)/float64(len(values)) >= dateThreshold {
		return TypeDateTime
	}
	return varcharFor(maxLen)
}

// inferNumeric reports the numeric type covering every value, or false if any
// value is not a number.
func inferNumeric(values []string) (string, bool) {
	allInt := true
	maxIntDigits, maxScale := 0, 0
	var min, max decimal.Decimal

	for i, v := range values {
		d, ok := ParseNumber(v)
		if !ok {
			return "", false
		}

		intDigits, scale := digitShape(d)
		if scale > 0 {
			allInt = false
		}
		if intDigits > maxIntDigits {
			maxIntDigits = intDigits
		}
		if scale > maxScale {
			maxScale = scale
		}
		if i == 0 || d.LessThan(min) {
			min = d
		}
		if i == 0 || d.GreaterThan(max) {
			max = d
		}
	}

	if allInt {
		switch {
		case inRange(min, max, math.MinInt32, math.MaxInt32):
			return TypeInt, true
		case inRange(min, max, math.MinInt64, math.MaxInt64):
			return TypeBigInt, true
		case maxIntDigits <= maxDecimalPrecision:
			return fmt.Sprintf("decimal(%d,0)", maxDecimalPrecision), true
		}
		return "", false
	}

	if maxIntDigits > maxDecimalPrecision {
		return "", false
	}
	if maxIntDigits+maxScale > maxDecimalPrecision {
		maxScale = maxDecimalPrecision - maxIntDigits
	}
	precision := maxIntDigits + maxScale
	if precision == 0 {
		precision = 1
	}
	return Type{Name: TypeDecimal, Family: FamilyDecimal, Precision: precision, Scale: maxScale}.String(), true
}

// digitShape returns the digits before and after the decimal point, keeping
// trailing zeros as written ("1.50" has scale 2).
func digitShape(d decimal.Decimal) (intDigits, scale int) {
	digits := len(strings.TrimLeft(d.Coefficient().String(), "-"))
	exp := int(d.Exponent())
	if exp >= 0 {
		if d.IsZero() {
			return 1, 0
		}
		return digits + exp, 0
	}
	scale = -exp
	intDigits = digits - scale
	if intDigits < 0 {
		intDigits = 0
	}
	return intDigits, scale
}

func inRange(min, max decimal.Decimal, lo, hi int64) bool {
	return min.GreaterThanOrEqual(decimal.NewFromInt(lo)) && max.LessThanOrEqual(decimal.NewFromInt(hi))
}

func varcharFor(length int) string {
	for _, n := range VarcharLadder {
		if length <= n {
			return fmt.Sprintf("varchar(%d)", n)
		}
	}
	return "varchar(max)"
}
