package schema

import "strings"

// Change describes one column that exists in both definitions.
type Change struct {
	Column string `json:"column"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Diff is the result of comparing an existing table against the columns
// inferred from a file. Only Added and Widened are ever applied.
type Diff struct {
	Added     []Column `json:"added"`
	Widened   []Change `json:"widened"`
	Skipped   []Change `json:"skipped"`
	Conflicts []Change `json:"conflicts"`
}

// HasChanges reports whether applying the diff would alter the table.
func (d Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Widened) > 0
}

// CastRisks returns the conflicts whose file values may not cast into the
// existing column: the families differ and the existing column is not a
// character type.
func (d Diff) CastRisks() []Change {
	var out []Change
	for _, c := range d.Conflicts {
		from, to := ParseType(c.From), ParseType(c.To)
		if from.Family != to.Family && from.Family != FamilyCharacter {
			out = append(out, c)
		}
	}
	return out
}

// SyncSchema compares existing and expected column definitions.
//
// Columns only in expected are added. Columns in both are skipped when their
// canonical types match, widened when both are character types and the
// expected capacity is strictly larger, and reported as conflicts when the
// expected capacity is smaller or the type family differs. Other same-family
// differences (int vs bigint, decimal precision) keep the existing definition
// and are reported as skipped. Names are matched case-insensitively; columns
// only in existing are ignored.
func SyncSchema(existing, expected []Column) Diff {
	byName := make(map[string]Column, len(existing))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c
	}

	var diff Diff
	for _, want := range expected {
		have, ok := byName[strings.ToLower(want.Name)]
		if !ok {
			diff.Added = append(diff.Added, want)
			continue
		}

		from := ParseType(have.Type)
		to := ParseType(want.Type)
		change := Change{Column: have.Name, From: from.String(), To: to.String()}

		switch {
		case change.From == change.To:
			diff.Skipped = append(diff.Skipped, change)

		case from.Family == FamilyCharacter && to.Family == FamilyCharacter:
			switch {
			case charCapacity(to) > charCapacity(from):
				diff.Widened = append(diff.Widened, change)
			case charCapacity(to) < charCapacity(from):
				change.Reason = "expected length is smaller than existing"
				diff.Conflicts = append(diff.Conflicts, change)
			default:
				// varchar(n) vs char(n): same capacity, keep the existing column.
				diff.Skipped = append(diff.Skipped, change)
			}

		case from.Family != to.Family:
			change.Reason = "type family changes from " + from.Family.String() + " to " + to.Family.String()
			diff.Conflicts = append(diff.Conflicts, change)

		default:
			change.Reason = "existing definition kept"
			diff.Skipped = append(diff.Skipped, change)
		}
	}
	return diff
}
