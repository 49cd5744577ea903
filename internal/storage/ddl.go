package storage

// ddl.go builds every statement the loader sends. Identifiers are always
// quoted even though callers pass sanitized names; values always go through
// placeholders.

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/dropload/internal/schema"
)

// Workflow metadata columns.
const (
	ColLoadTimestamp    = "_load_timestamp"
	ColLoadType         = "_load_type"
	ColJobID            = "_job_id"
	ColValidationStatus = "_validation_status"
	ColValidationDetail = "_validation_detail"
	ColSeq              = "_seq"
)

// Validation status values in the stage table.
const (
	StatusPending = "pending"
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// ReservedColumns lists the metadata column names a business column may not
// take.
var ReservedColumns = []string{
	ColLoadTimestamp, ColLoadType, ColJobID, ColValidationStatus, ColValidationDetail, ColSeq,
}

// MaxParams is the PostgreSQL limit on bind parameters per statement.
const MaxParams = 65535

// MaxBatchRows caps rows per INSERT regardless of width.
const MaxBatchRows = 990

// maxIdentLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentLen = schema.MaxIdentifierLength

// QuoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a possibly dotted name such as "ops.validate".
func QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = QuoteIdentifier(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdentifier(c)
	}
	return out
}

// PostgresType maps a canonical column type onto a PostgreSQL type.
func PostgresType(canonical string) string {
	t := schema.ParseType(canonical)
	switch t.Name {
	case schema.TypeVarchar:
		if t.IsMax() {
			return "text"
		}
		return fmt.Sprintf("varchar(%d)", t.Length)
	case schema.TypeChar:
		return t.String()
	case schema.TypeSmallInt:
		return "smallint"
	case schema.TypeInt:
		return "integer"
	case schema.TypeBigInt:
		return "bigint"
	case schema.TypeDecimal:
		if t.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
		}
		return "numeric"
	case schema.TypeFloat:
		return "double precision"
	case schema.TypeDateTime:
		return "timestamp"
	case schema.TypeDate:
		return "date"
	case schema.TypeTimestampTZ:
		return "timestamptz"
	case schema.TypeBoolean:
		return "boolean"
	}
	return "text"
}

// BatchRows returns how many rows of the given width fit in one INSERT,
// never more than limit (or MaxBatchRows when limit <= 0).
func BatchRows(businessColumns, limit int) int {
	if limit <= 0 || limit > MaxBatchRows {
		limit = MaxBatchRows
	}
	perRow := businessColumns + 2 // _job_id, _seq
	if fit := MaxParams / perRow; fit < limit {
		limit = fit
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func metadataColumnDefs() []string {
	return []string{
		QuoteIdentifier(ColLoadTimestamp) + " timestamp",
		QuoteIdentifier(ColLoadType) + " varchar(10)",
		QuoteIdentifier(ColJobID) + " varchar(36)",
	}
}

func createTableSQL(t Table, cols []schema.Column) (string, error) {
	if len(cols) == 0 {
		return "", ErrNoColumns
	}
	defs := make([]string, 0, len(cols)+3)
	for _, c := range cols {
		defs = append(defs, QuoteIdentifier(c.Name)+" "+PostgresType(c.Type))
	}
	defs = append(defs, metadataColumnDefs()...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t, strings.Join(defs, ",\n\t")), nil
}

func addColumnsSQL(t Table, defs []string) string {
	clauses := make([]string, len(defs))
	for i, d := range defs {
		clauses[i] = "ADD COLUMN IF NOT EXISTS " + d
	}
	return fmt.Sprintf("ALTER TABLE %s %s", t, strings.Join(clauses, ", "))
}

func widenColumnsSQL(t Table, changes []schema.Change) string {
	clauses := make([]string, len(changes))
	for i, c := range changes {
		clauses[i] = fmt.Sprintf("ALTER COLUMN %s TYPE %s", QuoteIdentifier(c.Column), PostgresType(c.To))
	}
	return fmt.Sprintf("ALTER TABLE %s %s", t, strings.Join(clauses, ", "))
}

func stageTableSQL(stage Table) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s bigint NOT NULL,
	%s varchar(36) NOT NULL,
	%s varchar(20) NOT NULL DEFAULT '%s',
	%s text
)`, stage,
		QuoteIdentifier(ColSeq),
		QuoteIdentifier(ColJobID),
		QuoteIdentifier(ColValidationStatus), StatusPending,
		QuoteIdentifier(ColValidationDetail),
	)
}

func stageIndexSQL(stage Table) string {
	name := truncateIdent(stage.Name + "_job_idx")
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
		QuoteIdentifier(name), stage, QuoteIdentifier(ColJobID), QuoteIdentifier(ColSeq))
}

// insertBatchSQL builds one multi-row INSERT with a placeholder per value.
// Short rows are padded with empty strings.
func insertBatchSQL(stage Table, columns []string, rows [][]string, jobID string, firstSeq int64) (string, []any, error) {
	width := len(columns)
	all := append(quoteColumns(columns), QuoteIdentifier(ColJobID), QuoteIdentifier(ColSeq))

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", stage, strings.Join(all, ", "))

	args := make([]any, 0, len(rows)*(width+2))
	p := 1
	for i, row := range rows {
		if len(row) > width {
			return "", nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrColumnMismatch, firstSeq+int64(i), len(row), width)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < width+2; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p)
			p++
		}
		sb.WriteByte(')')

		for j := 0; j < width; j++ {
			if j < len(row) {
				args = append(args, row[j])
			} else {
				args = append(args, "")
			}
		}
		args = append(args, jobID, firstSeq+int64(i))
	}
	return sb.String(), args, nil
}

// transferSQL copies one job's rows from the stage into the target, casting
// text to the target type. Character columns are not cast so an over-long
// value fails instead of being cut.
func transferSQL(req TransferRequest) string {
	targetCols := make([]string, 0, len(req.Columns)+3)
	selects := make([]string, 0, len(req.Columns)+3)
	for _, c := range req.Columns {
		col := QuoteIdentifier(c.Name)
		targetCols = append(targetCols, col)
		if schema.ParseType(c.Type).Family == schema.FamilyCharacter {
			selects = append(selects, fmt.Sprintf("NULLIF(%s, '')", col))
			continue
		}
		selects = append(selects, fmt.Sprintf("CAST(NULLIF(btrim(%s), '') AS %s)", col, PostgresType(c.Type)))
	}
	targetCols = append(targetCols,
		QuoteIdentifier(ColLoadTimestamp), QuoteIdentifier(ColLoadType), QuoteIdentifier(ColJobID))
	selects = append(selects, "$1::timestamp", "$2::varchar", "$3::varchar")

	return fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s\nFROM %s\nWHERE %s = $3::varchar AND %s <> '%s'\nORDER BY %s",
		req.Target,
		strings.Join(targetCols, ", "),
		strings.Join(selects, ", "),
		req.Stage,
		QuoteIdentifier(ColJobID), QuoteIdentifier(ColValidationStatus), StatusInvalid,
		QuoteIdentifier(ColSeq),
	)
}

// BackupName returns the backup table name for t taken at the given time,
// shortened so the suffix survives PostgreSQL's identifier limit.
func BackupName(table string, at time.Time) string {
	suffix := "_backup_" + at.Format("20060102_150405")
	if len(table)+len(suffix) > maxIdentLen {
		table = table[:maxIdentLen-len(suffix)]
	}
	return table + suffix
}

// StageName returns the stage table name for a target table.
func StageName(table string) string {
	const suffix = "_stage"
	if len(table)+len(suffix) > maxIdentLen {
		table = table[:maxIdentLen-len(suffix)]
	}
	return table + suffix
}

func truncateIdent(name string) string {
	if len(name) > maxIdentLen {
		return name[:maxIdentLen]
	}
	return name
}
