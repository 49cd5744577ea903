package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Family groups column types that can be compared with each other.
type Family int

const (
	FamilyOther Family = iota
	FamilyCharacter
	FamilyInteger
	FamilyDecimal
	FamilyDateTime
	FamilyBoolean
)

func (f Family) String() string {
	switch f {
	case FamilyCharacter:
		return "character"
	case FamilyInteger:
		return "integer"
	case FamilyDecimal:
		return "decimal"
	case FamilyDateTime:
		return "datetime"
	case FamilyBoolean:
		return "boolean"
	default:
		return "other"
	}
}

// Canonical type names.
const (
	TypeVarchar     = "varchar"
	TypeChar        = "char"
	TypeSmallInt    = "smallint"
	TypeInt         = "int"
	TypeBigInt      = "bigint"
	TypeDecimal     = "decimal"
	TypeFloat       = "float"
	TypeDateTime    = "datetime"
	TypeDate        = "date"
	TypeTimestampTZ = "timestamptz"
	TypeBoolean     = "boolean"
)

// MaxLength marks an unbounded character column.
const MaxLength = -1

// Type is a parsed column type. Length is 0 when unspecified and MaxLength
// when unbounded; Precision is 0 when unspecified.
type Type struct {
	Name      string
	Family    Family
	Length    int
	Precision int
	Scale     int
}

// Column is one column of a table definition.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Ordinal int    `json:"ordinal"`
}

var typeAliases = map[string]Type{
	"varchar":           {Name: TypeVarchar, Family: FamilyCharacter},
	"character varying": {Name: TypeVarchar, Family: FamilyCharacter},
	"nvarchar":          {Name: TypeVarchar, Family: FamilyCharacter},
	"string":            {Name: TypeVarchar, Family: FamilyCharacter},
	"text":              {Name: TypeVarchar, Family: FamilyCharacter, Length: MaxLength},
	"ntext":             {Name: TypeVarchar, Family: FamilyCharacter, Length: MaxLength},
	"clob":              {Name: TypeVarchar, Family: FamilyCharacter, Length: MaxLength},
	"char":              {Name: TypeChar, Family: FamilyCharacter},
	"character":         {Name: TypeChar, Family: FamilyCharacter},
	"nchar":             {Name: TypeChar, Family: FamilyCharacter},
	"bpchar":            {Name: TypeChar, Family: FamilyCharacter},

	"smallint": {Name: TypeSmallInt, Family: FamilyInteger},
	"int2":     {Name: TypeSmallInt, Family: FamilyInteger},
	"int":      {Name: TypeInt, Family: FamilyInteger},
	"integer":  {Name: TypeInt, Family: FamilyInteger},
	"int4":     {Name: TypeInt, Family: FamilyInteger},
	"bigint":   {Name: TypeBigInt, Family: FamilyInteger},
	"int8":     {Name: TypeBigInt, Family: FamilyInteger},

	"decimal":          {Name: TypeDecimal, Family: FamilyDecimal},
	"numeric":          {Name: TypeDecimal, Family: FamilyDecimal},
	"real":             {Name: TypeFloat, Family: FamilyDecimal},
	"float":            {Name: TypeFloat, Family: FamilyDecimal},
	"float4":           {Name: TypeFloat, Family: FamilyDecimal},
	"float8":           {Name: TypeFloat, Family: FamilyDecimal},
	"double precision": {Name: TypeFloat, Family: FamilyDecimal},

	"datetime":                    {Name: TypeDateTime, Family: FamilyDateTime},
	"datetime2":                   {Name: TypeDateTime, Family: FamilyDateTime},
	"timestamp":                   {Name: TypeDateTime, Family: FamilyDateTime},
	"timestamp without time zone": {Name: TypeDateTime, Family: FamilyDateTime},
	"timestamptz":                 {Name: TypeTimestampTZ, Family: FamilyDateTime},
	"timestamp with time zone":    {Name: TypeTimestampTZ, Family: FamilyDateTime},
	"datetimeoffset":              {Name: TypeTimestampTZ, Family: FamilyDateTime},
	"date":                        {Name: TypeDate, Family: FamilyDateTime},

	"boolean": {Name: TypeBoolean, Family: FamilyBoolean},
	"bool":    {Name: TypeBoolean, Family: FamilyBoolean},
	"bit":     {Name: TypeBoolean, Family: FamilyBoolean},
}

// ParseType parses a canonical type string or a database type name such as
// "character varying(100)" or "numeric(10,2)".
func ParseType(raw string) Type {
	s := strings.ToLower(strings.TrimSpace(raw))
	name, args := s, ""
	if open := strings.IndexByte(s, '('); open >= 0 && strings.HasSuffix(s, ")") {
		name = strings.TrimSpace(s[:open])
		args = s[open+1 : len(s)-1]
	}

	t, ok := typeAliases[name]
	if !ok {
		return Type{Name: s, Family: FamilyOther}
	}

	parts := strings.Split(args, ",")
	switch t.Family {
	case FamilyCharacter:
		arg := strings.TrimSpace(parts[0])
		switch {
		case arg == "max":
			t.Length = MaxLength
		case arg != "":
			if n, err := strconv.Atoi(arg); err == nil && n > 0 {
				t.Length = n
			}
		}
	case FamilyDecimal:
		if t.Name != TypeDecimal || args == "" {
			break
		}
		if p, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil && p > 0 {
			t.Precision = p
		}
		if len(parts) > 1 {
			if sc, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && sc >= 0 {
				t.Scale = sc
			}
		}
	}
	return t
}

// IsMax reports whether t is an unbounded character type.
func (t Type) IsMax() bool {
	return t.Family == FamilyCharacter && t.Name == TypeVarchar && t.Length <= 0
}

// String returns the canonical form, e.g. "varchar(100)", "varchar(max)",
// "decimal(10,2)".
func (t Type) String() string {
	switch t.Name {
	case TypeVarchar:
		if t.Length > 0 {
			return fmt.Sprintf("varchar(%d)", t.Length)
		}
		return "varchar(max)"
	case TypeChar:
		n := t.Length
		if n <= 0 {
			n = 1
		}
		return fmt.Sprintf("char(%d)", n)
	case TypeDecimal:
		if t.Precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
		}
		return TypeDecimal
	}
	return t.Name
}

// NormalizeType returns the canonical type string for a column as reported
// by a catalog: the base type name plus separately reported length,
// precision and scale. Parameters inside raw take precedence. A negative
// length means unbounded; zero values mean unknown.
func NormalizeType(raw string, length, precision, scale int) string {
	t := ParseType(raw)
	switch t.Family {
	case FamilyCharacter:
		if t.Length == 0 && length != 0 {
			t.Length = length
			if length < 0 {
				t.Length = MaxLength
			}
		}
	case FamilyDecimal:
		if t.Name == TypeDecimal && t.Precision == 0 && precision > 0 {
			t.Precision = precision
			t.Scale = scale
		}
	}
	return t.String()
}

// charCapacity orders character lengths with unbounded as the largest.
func charCapacity(t Type) int {
	if t.IsMax() {
		return int(^uint(0) >> 1)
	}
	if t.Length <= 0 {
		return 1
	}
	return t.Length
}
