package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
rules:
  - pattern: "gl_detail_*.csv"
    table: general_ledger
    schema: finance
    mode: FULL
  - pattern: "regions*.csv"
    reference: true
  - pattern: "*.csv"
    schema: landing
`

func TestParse(t *testing.T) {
	set, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, set.Rules, 3)
	assert.Equal(t, "full", set.Rules[0].Mode)
	assert.True(t, set.Rules[1].Reference)
}

func TestMatch(t *testing.T) {
	set, err := Parse([]byte(sample))
	require.NoError(t, err)

	tests := []struct {
		path      string
		wantTable string
		wantSch   string
		wantRef   bool
	}{
		{"/drop/GL_Detail_20240131.csv", "general_ledger", "finance", false},
		{"regions.csv", "", "", true},
		{"/drop/orders.csv", "", "landing", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := set.Match(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.wantTable, r.Table)
			assert.Equal(t, tt.wantSch, r.Schema)
			assert.Equal(t, tt.wantRef, r.Reference)
		})
	}

	_, ok := set.Match("notes.txt")
	assert.False(t, ok)
}

func TestMatch_NilSet(t *testing.T) {
	var s *Set
	_, ok := s.Match("a.csv")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing pattern": "rules:\n  - table: x\n",
		"bad pattern":     "rules:\n  - pattern: \"[\"\n",
		"bad mode":        "rules:\n  - pattern: \"*.csv\"\n    mode: merge\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - pattern: \"*.csv\"\n    tabel: typo\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, set.Rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	set, err = Load(path)
	require.NoError(t, err)
	assert.Len(t, set.Rules, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
