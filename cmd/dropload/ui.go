package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/dropload/internal/catalog"
	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/progress"
	"github.com/JonMunkholm/dropload/internal/schema"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// specRows lays out a dialect as table rows, header first.
func specRows(spec format.Spec) [][]string {
	trailer := "no"
	if spec.HasTrailer {
		trailer = "yes"
		if spec.TrailerLine != "" {
			trailer += ", " + strconv.Quote(spec.TrailerLine)
		}
	}
	rows := [][]string{
		{"Property", "Value"},
		{"column delimiter", quoted(spec.ColumnDelimiter)},
		{"header delimiter", quoted(spec.HeaderDelimiter)},
		{"row delimiter", quoted(spec.RowDelimiter)},
		{"text qualifier", quoted(spec.TextQualifier)},
		{"skip lines", strconv.Itoa(spec.SkipLines)},
		{"header", yesNo(spec.HasHeader)},
		{"trailer", trailer},
		{"encoding", spec.Encoding},
		{"confidence", fmt.Sprintf("%.0f%%", spec.Confidence*100)},
	}
	if spec.Degraded {
		rows = append(rows, []string{"degraded", "yes"})
	}
	if spec.Note != "" {
		rows = append(rows, []string{"note", spec.Note})
	}
	return rows
}

// planRows lists the file's columns with the change a load would make for
// each of them.
func planRows(p *loader.Preview) [][]string {
	existing := make(map[string]string, len(p.Existing))
	for _, c := range p.Existing {
		existing[strings.ToLower(c.Name)] = c.Type
	}
	action := make(map[string]string)
	for _, c := range p.Diff.Added {
		action[strings.ToLower(c.Name)] = "add"
	}
	for _, c := range p.Diff.Widened {
		action[strings.ToLower(c.Column)] = "widen to " + c.To
	}
	for _, c := range p.Diff.Skipped {
		action[strings.ToLower(c.Column)] = "keep"
	}
	for _, c := range p.Diff.Conflicts {
		action[strings.ToLower(c.Column)] = "CONFLICT: " + conflictReason(c)
	}

	rows := [][]string{{"#", "Column", "Inferred", "Current", "Action"}}
	for _, c := range p.Columns {
		key := strings.ToLower(c.Name)
		current, ok := existing[key]
		if !ok {
			current = "-"
		}
		act, ok := action[key]
		if !ok {
			act = "keep"
		}
		rows = append(rows, []string{strconv.Itoa(c.Ordinal), c.Name, c.Type, current, act})
	}
	return rows
}

func conflictReason(c schema.Change) string {
	if c.Reason != "" {
		return c.Reason
	}
	return fmt.Sprintf("%s cannot hold %s", c.From, c.To)
}

// resultRows summarizes a finished load.
func resultRows(res *loader.Result) [][]string {
	rows := [][]string{
		{"Target", res.Target},
		{"Mode", string(res.Mode)},
		{"Job", res.JobID},
		{"Rows in file", strconv.FormatInt(res.TotalRows, 10)},
		{"Staged", strconv.FormatInt(res.Staged, 10)},
		{"Transferred", strconv.FormatInt(res.Transferred, 10)},
		{"Duration", res.Duration.Round(time.Millisecond).String()},
	}
	if res.Created {
		rows = append(rows, []string{"Table created", "yes"})
	}
	if n := len(res.Diff.Added); n > 0 && !res.Created {
		rows = append(rows, []string{"Columns added", strconv.Itoa(n)})
	}
	if n := len(res.Diff.Widened); n > 0 {
		rows = append(rows, []string{"Columns widened", strconv.Itoa(n)})
	}
	if n := len(res.Diff.Conflicts); n > 0 {
		rows = append(rows, []string{"Type conflicts", strconv.Itoa(n)})
	}
	if res.BackupTable != "" {
		rows = append(rows, []string{"Backup", fmt.Sprintf("%s (%d rows)", res.BackupTable, res.BackedUp)})
	}
	if res.ArchivedTo != "" {
		rows = append(rows, []string{"Archived to", res.ArchivedTo})
	}
	if res.FailedTo != "" {
		rows = append(rows, []string{"Moved to", res.FailedTo})
	}
	return rows
}

// catalogRows lists catalogued tables, header first.
func catalogRows(entries []catalog.Entry) [][]string {
	rows := [][]string{{"Table", "Columns", "Reference", "Last file", "Last loaded"}}
	for _, e := range entries {
		rows = append(rows, []string{
			e.Schema + "." + e.Table,
			strconv.Itoa(len(e.Columns)),
			yesNo(e.Reference),
			e.SourceFile,
			e.LastSeen.Local().Format(time.DateTime),
		})
	}
	return rows
}

// statusLine is the live line shown while a load runs.
func statusLine(frame string, snap progress.Snapshot, last loader.Message) string {
	var b strings.Builder
	b.WriteString(frame)
	if last.Text != "" {
		fmt.Fprintf(&b, " %s", last.Phase)
	}
	if snap.Total != nil && *snap.Total > 0 {
		fmt.Fprintf(&b, " %3.0f%% (%d/%d rows)", snap.Percent, snap.Inserted, *snap.Total)
	}
	if last.Text != "" {
		fmt.Fprintf(&b, "  %s", last.Text)
	}
	return b.String()
}

func quoted(s string) string {
	if s == "" {
		return "(none)"
	}
	return strconv.Quote(s)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
