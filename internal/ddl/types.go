package ddl

import (
	"strconv"
	"strings"
)

// ColumnType is a dialect-neutral logical type such as VARCHAR(40) or
// NUMERIC(12,2). Name is the canonical upper-case name (see Canonical).
type ColumnType struct {
	Name      string
	Size      int
	Precision int
	Scale     int
}

// String renders the logical type in a readable SQL-like form.
func (t ColumnType) String() string {
	switch {
	case t.Size > 0:
		return t.Name + "(" + strconv.Itoa(t.Size) + ")"
	case t.Precision > 0 && t.Scale > 0:
		return t.Name + "(" + strconv.Itoa(t.Precision) + "," + strconv.Itoa(t.Scale) + ")"
	case t.Precision > 0:
		return t.Name + "(" + strconv.Itoa(t.Precision) + ")"
	default:
		return t.Name
	}
}

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: column name (unquoted; quoting happens at render time)
//   - Type: logical type reflected from the source
//   - SQLType: rendered target type; filled by the dialect's type mapping
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression
type ColumnDef struct {
	Name       string
	Type       ColumnType
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds a table's schema, name and ordered columns.
type TableDef struct {
	Schema  string
	Name    string
	Columns []ColumnDef
}

// FQN returns "schema.name", or just the name when Schema is empty.
func (t TableDef) FQN() string {
	if strings.TrimSpace(t.Schema) == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnNames returns the ordered column names.
func (t TableDef) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// PrimaryKey returns the names of the primary key columns in table order.
func (t TableDef) PrimaryKey() []string {
	var out []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

// Column finds a column by case-insensitive name.
func (t TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// WithoutConstraints returns a copy of t renamed to schema.name with every
// column nullable and no primary key. Used for staging tables.
func (t TableDef) WithoutConstraints(schema, name string) TableDef {
	cols := make([]ColumnDef, len(t.Columns))
	for i, c := range t.Columns {
		c.PrimaryKey = false
		c.Nullable = true
		c.Default = ""
		cols[i] = c
	}
	return TableDef{Schema: schema, Name: name, Columns: cols}
}
