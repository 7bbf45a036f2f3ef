// TableSpec types live here so the warehouse package and every backend package
// can import them without circular deps.
package storage

import "strings"

// Logical column types. Each backend maps them to its own DDL type.
const (
	TypeText    = "text"
	TypeInt     = "int"
	TypeBigInt  = "bigint"
	TypeBool    = "bool"
	TypeFloat   = "float"
	TypeDate    = "date"
	TypeVarchar = "varchar"
)

type TableSpec struct {
	Name            string           `json:"name"`
	AutoCreateTable bool             `json:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
}

// PrimaryKeySpec names the primary key column. The key is never auto-generated:
// surrogate keys are allocated by the sync engine.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ColumnNames returns the primary key (if any) followed by the configured columns.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// IsNullable reports the column's nullability. Columns default to nullable.
func (c ColumnSpec) IsNullable() bool {
	if c.Nullable == nil {
		return true
	}
	return *c.Nullable
}

// LogicalType returns the lower-cased logical type with any "(n)" suffix removed.
func (c ColumnSpec) LogicalType() (base string, size string) {
	typ := strings.ToLower(strings.TrimSpace(c.Type))
	if i := strings.IndexByte(typ, '('); i > 0 && strings.HasSuffix(typ, ")") {
		return typ[:i], typ[i+1 : len(typ)-1]
	}
	return typ, ""
}
