package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/progress"
	"github.com/JonMunkholm/dropload/internal/schema"
)

func TestSpecRows(t *testing.T) {
	spec := format.Default()
	spec.ColumnDelimiter = "\t"
	spec.HasTrailer = true
	spec.TrailerLine = "EOF"
	spec.Confidence = 0.85

	rows := specRows(spec)
	got := make(map[string]string, len(rows))
	for _, r := range rows {
		got[r[0]] = r[1]
	}
	assert.Equal(t, `"\t"`, got["column delimiter"])
	assert.Equal(t, `yes, "EOF"`, got["trailer"])
	assert.Equal(t, "85%", got["confidence"])
	assert.Equal(t, "yes", got["header"])
	assert.NotContains(t, got, "degraded")

	degraded := specRows(format.Degraded("file is empty"))
	assert.Equal(t, []string{"note", "file is empty"}, degraded[len(degraded)-1])
}

func TestPlanRows(t *testing.T) {
	p := &loader.Preview{
		Columns: []schema.Column{
			{Name: "id", Type: "int", Ordinal: 1},
			{Name: "name", Type: "varchar(20)", Ordinal: 2},
			{Name: "code", Type: "varchar(4)", Ordinal: 3},
			{Name: "note", Type: "text", Ordinal: 4},
		},
		Existing: []schema.Column{
			{Name: "id", Type: "int", Ordinal: 1},
			{Name: "name", Type: "varchar(10)", Ordinal: 2},
			{Name: "code", Type: "int", Ordinal: 3},
		},
		Exists: true,
		Diff: schema.Diff{
			Added:     []schema.Column{{Name: "note", Type: "text", Ordinal: 4}},
			Widened:   []schema.Change{{Column: "name", From: "varchar(10)", To: "varchar(20)"}},
			Conflicts: []schema.Change{{Column: "code", From: "int", To: "varchar(4)", Reason: "text into numeric"}},
		},
	}

	rows := planRows(p)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"1", "id", "int", "int", "keep"}, rows[1])
	assert.Equal(t, "widen to varchar(20)", rows[2][4])
	assert.Equal(t, "CONFLICT: text into numeric", rows[3][4])
	assert.Equal(t, []string{"4", "note", "text", "-", "add"}, rows[4])
}

func TestStatusLine(t *testing.T) {
	total := int64(200)
	snap := progress.Snapshot{Found: true, State: progress.State{Inserted: 50, Total: &total, Percent: 25}}
	msg := loader.Message{Phase: loader.PhaseStaging, Text: "staged 50 rows"}

	assert.Equal(t, "⠋ STAGING  25% (50/200 rows)  staged 50 rows", statusLine("⠋", snap, msg))
	assert.Equal(t, "⠋", statusLine("⠋", progress.Snapshot{}, loader.Message{}))
}

func TestResultRows(t *testing.T) {
	res := &loader.Result{
		Target:      `"public"."orders"`,
		Mode:        loader.ModeFull,
		TotalRows:   3,
		Transferred: 3,
		BackupTable: "orders_backup_20240301",
		BackedUp:    7,
		Diff:        schema.Diff{Added: []schema.Column{{Name: "x"}}},
	}
	rows := resultRows(res)
	got := make(map[string]string, len(rows))
	for _, r := range rows {
		got[r[0]] = r[1]
	}
	assert.Equal(t, "full", got["Mode"])
	assert.Equal(t, "1", got["Columns added"])
	assert.Equal(t, "orders_backup_20240301 (7 rows)", got["Backup"])
	assert.NotContains(t, got, "Table created")
	assert.NotContains(t, got, "Moved to")

	res.FailedTo = "failed/orders.csv"
	assert.Contains(t, resultRows(res), []string{"Moved to", "failed/orders.csv"})
}
