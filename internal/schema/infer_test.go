package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferTypes(t *testing.T) {
	columns := []string{"id", "big", "huge", "amount", "when", "name", "empty", "mixed"}
	sample := [][]string{
		{"1", "3000000000", "123456789012345678901234", "$1,234.50", "2024-01-31", "Alice", "", "1"},
		{"2", "-5", "1", "(12.5)", "01/02/2024", "Bob", "", "x"},
		{"3", "7", "2", "0.125", "not a date", "Carol", " ", "2"},
		{"4", "8", "3", "10", "2024-02-01 10:00:00", "Dan", "", "3"},
		{"5", "9", "4", "3", "2024/03/01", "Eve", "", "4"},
	}

	got := InferTypes(sample, columns, 1000, 0.8)

	assert.Equal(t, map[string]string{
		"id":     "int",
		"big":    "bigint",
		"huge":   "decimal(38,0)",
		"amount": "decimal(7,3)",
		"when":   "datetime",
		"name":   "varchar(50)",
		"empty":  "varchar(50)",
		"mixed":  "varchar(50)",
	}, got)
}

func TestInferTypes_DateThreshold(t *testing.T) {
	sample := [][]string{{"2024-01-01"}, {"2024-01-02"}, {"n/a"}, {"unknown"}}

	assert.Equal(t, "varchar(50)", InferTypes(sample, []string{"d"}, 100, 0.8)["d"])
	assert.Equal(t, "datetime", InferTypes(sample, []string{"d"}, 100, 0.5)["d"])
}

func TestInferTypes_VarcharLadder(t *testing.T) {
	tests := []struct {
		length int
		want   string
	}{
		{1, "varchar(50)"},
		{50, "varchar(50)"},
		{51, "varchar(100)"},
		{201, "varchar(500)"},
		{4000, "varchar(4000)"},
		{4001, "varchar(max)"},
	}

	for _, tt := range tests {
		sample := [][]string{{strings.Repeat("a", tt.length)}}
		assert.Equal(t, tt.want, InferTypes(sample, []string{"c"}, 10, 0.8)["c"], "length %d", tt.length)
	}
}

func TestInferTypes_SampleRowsLimit(t *testing.T) {
	sample := [][]string{{"1"}, {"2"}, {"three"}}
	assert.Equal(t, "int", InferTypes(sample, []string{"n"}, 2, 0.8)["n"])
	assert.Equal(t, "varchar(50)", InferTypes(sample, []string{"n"}, 3, 0.8)["n"])
}

func TestInferColumns_Ordinals(t *testing.T) {
	cols := InferColumns([][]string{{"1", "a"}}, []string{"id", "name"}, 10, 0.8)
	assert.Equal(t, []Column{
		{Name: "id", Type: "int", Ordinal: 1},
		{Name: "name", Type: "varchar(50)", Ordinal: 2},
	}, cols)
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		value, typ, want string
	}{
		{"$1,234.50", "decimal(10,2)", "1234.5"},
		{"(12)", "int", "-12"},
		{"01/31/2024", "datetime", "2024-01-31 00:00:00"},
		{"2024-01-31T10:30:00", "datetime", "2024-01-31 10:30:00"},
		{"1/2/2024", "date", "2024-01-02"},
		{"Yes", "boolean", "true"},
		{"  ", "int", ""},
		{" padded ", "varchar(50)", " padded "},
		{"abc", "int", "abc"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeValue(tt.value, tt.typ), "%q as %s", tt.value, tt.typ)
	}
}

func TestParseNumber(t *testing.T) {
	for _, s := range []string{"1", "-1.5", "$1,000", "€3", "(4.00)", "1e3", ".5"} {
		assert.True(t, IsNumber(s), s)
	}
	for _, s := range []string{"", "abc", "1.2.3", "12a", "()"} {
		assert.False(t, IsNumber(s), s)
	}
}
