package ddl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mergeflow/internal/apperr"
)

// aliases folds driver- and dialect-specific spellings onto the canonical
// names used as keys of typeTable.
var aliases = map[string]string{
	"INT":                         "INTEGER",
	"INT4":                        "INTEGER",
	"SERIAL":                      "INTEGER",
	"MEDIUMINT":                   "INTEGER",
	"INT2":                        "SMALLINT",
	"TINYINT":                     "SMALLINT",
	"INT8":                        "BIGINT",
	"BIGSERIAL":                   "BIGINT",
	"DEC":                         "DECIMAL",
	"NUMBER":                      "NUMERIC",
	"MONEY":                       "NUMERIC",
	"FLOAT4":                      "REAL",
	"BINARY_FLOAT":                "REAL",
	"FLOAT8":                      "DOUBLE",
	"DOUBLE PRECISION":            "DOUBLE",
	"BINARY_DOUBLE":               "DOUBLE",
	"DECFLOAT":                    "DOUBLE",
	"CHARACTER VARYING":           "VARCHAR",
	"VARCHAR2":                    "VARCHAR",
	"NVARCHAR":                    "VARCHAR",
	"NVARCHAR2":                   "VARCHAR",
	"CHARACTER":                   "CHAR",
	"NCHAR":                       "CHAR",
	"BPCHAR":                      "CHAR",
	"TEXT":                        "CLOB",
	"LONGTEXT":                    "CLOB",
	"MEDIUMTEXT":                  "CLOB",
	"NTEXT":                       "CLOB",
	"NCLOB":                       "CLOB",
	"BYTEA":                       "BLOB",
	"LONGBLOB":                    "BLOB",
	"VARBINARY":                   "BLOB",
	"BINARY":                      "BLOB",
	"DATETIME":                    "TIMESTAMP",
	"DATETIME2":                   "TIMESTAMP",
	"TIMESTAMPTZ":                 "TIMESTAMP",
	"TIMESTAMP WITH TIME ZONE":    "TIMESTAMP",
	"TIMESTAMP WITHOUT TIME ZONE": "TIMESTAMP",
	"BOOL":                        "BOOLEAN",
	"BIT":                         "BOOLEAN",
}

// typeTable maps canonical logical types to per-dialect SQL types. A missing
// entry (or an empty string) means the dialect has no faithful equivalent.
var typeTable = map[string]map[string]string{
	"SMALLINT":  {"postgres": "SMALLINT", "mysql": "SMALLINT", "db2": "SMALLINT", "oracle": "NUMBER(5)", "mssql": "SMALLINT", "sqlite": "INTEGER"},
	"INTEGER":   {"postgres": "INTEGER", "mysql": "INT", "db2": "INTEGER", "oracle": "NUMBER(10)", "mssql": "INT", "sqlite": "INTEGER"},
	"BIGINT":    {"postgres": "BIGINT", "mysql": "BIGINT", "db2": "BIGINT", "oracle": "NUMBER(19)", "mssql": "BIGINT", "sqlite": "INTEGER"},
	"DECIMAL":   {"postgres": "NUMERIC", "mysql": "DECIMAL", "db2": "DECIMAL", "oracle": "NUMBER", "mssql": "DECIMAL", "sqlite": "NUMERIC"},
	"NUMERIC":   {"postgres": "NUMERIC", "mysql": "DECIMAL", "db2": "DECIMAL", "oracle": "NUMBER", "mssql": "NUMERIC", "sqlite": "NUMERIC"},
	"REAL":      {"postgres": "REAL", "mysql": "FLOAT", "db2": "REAL", "oracle": "BINARY_FLOAT", "mssql": "REAL", "sqlite": "REAL"},
	"DOUBLE":    {"postgres": "DOUBLE PRECISION", "mysql": "DOUBLE", "db2": "DOUBLE", "oracle": "BINARY_DOUBLE", "mssql": "FLOAT", "sqlite": "REAL"},
	"FLOAT":     {"postgres": "DOUBLE PRECISION", "mysql": "DOUBLE", "db2": "DOUBLE", "oracle": "BINARY_DOUBLE", "mssql": "FLOAT", "sqlite": "REAL"},
	"DATE":      {"postgres": "DATE", "mysql": "DATE", "db2": "DATE", "oracle": "DATE", "mssql": "DATE", "sqlite": "DATE"},
	"TIME":      {"postgres": "TIME", "mysql": "TIME", "db2": "TIME", "mssql": "TIME", "sqlite": "TEXT"},
	"TIMESTAMP": {"postgres": "TIMESTAMP", "mysql": "DATETIME", "db2": "TIMESTAMP", "oracle": "TIMESTAMP", "mssql": "DATETIME2", "sqlite": "TIMESTAMP"},
	"VARCHAR":   {"postgres": "VARCHAR", "mysql": "VARCHAR", "db2": "VARCHAR", "oracle": "VARCHAR2", "mssql": "NVARCHAR", "sqlite": "VARCHAR"},
	"CHAR":      {"postgres": "CHAR", "mysql": "CHAR", "db2": "CHAR", "oracle": "CHAR", "mssql": "NCHAR", "sqlite": "CHAR"},
	"CLOB":      {"postgres": "TEXT", "mysql": "LONGTEXT", "db2": "CLOB", "oracle": "CLOB", "mssql": "NVARCHAR(MAX)", "sqlite": "TEXT"},
	"BLOB":      {"postgres": "BYTEA", "mysql": "LONGBLOB", "db2": "BLOB", "oracle": "BLOB", "mssql": "VARBINARY(MAX)", "sqlite": "BLOB"},
	"BOOLEAN":   {"postgres": "BOOLEAN", "mysql": "BOOLEAN", "db2": "BOOLEAN", "oracle": "NUMBER(1)", "mssql": "BIT", "sqlite": "INTEGER"},
}

// DefaultVarcharSize is used for VARCHAR columns without a length on
// dialects that require one.
const DefaultVarcharSize = 255

var needsLength = map[string]bool{"mysql": true, "db2": true, "oracle": true, "mssql": true}

var typeRE = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_ ]*?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// ParseType parses a textual type such as "varchar(40)", "NUMERIC(12, 2)" or
// "double precision" into a canonical ColumnType. Unknown names fail with an
// UnsupportedType error.
func ParseType(s string) (ColumnType, error) {
	m := typeRE.FindStringSubmatch(s)
	if m == nil {
		return ColumnType{}, apperr.UnsupportedType("ddl.parse", "cannot parse type %q", s)
	}
	name, ok := Canonical(m[1])
	if !ok {
		return ColumnType{}, apperr.UnsupportedType("ddl.parse", "no mapping for source type %q", s)
	}
	ct := ColumnType{Name: name}
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		switch name {
		case "DECIMAL", "NUMERIC":
			ct.Precision = n
			if m[3] != "" {
				ct.Scale, _ = strconv.Atoi(m[3])
			}
		case "VARCHAR", "CHAR":
			ct.Size = n
		}
	}
	return ct, nil
}

// Canonical normalizes a type name onto the cross-dialect table's keys.
func Canonical(name string) (string, bool) {
	n := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if a, ok := aliases[n]; ok {
		n = a
	}
	_, ok := typeTable[n]
	return n, ok
}

// MapType renders t as a SQL type of the given dialect. There is no fallback:
// a type without a mapping is an UnsupportedType error.
func MapType(dialect string, t ColumnType) (string, error) {
	name, ok := Canonical(t.Name)
	if !ok {
		return "", apperr.UnsupportedType("ddl.map", "no mapping for type %q", t.Name)
	}
	sqlType := typeTable[name][dialect]
	if sqlType == "" {
		return "", apperr.UnsupportedType("ddl.map", "type %s has no %s equivalent", t, dialect)
	}
	if strings.Contains(sqlType, "(") {
		return sqlType, nil
	}

	switch name {
	case "VARCHAR", "CHAR":
		size := t.Size
		if size <= 0 && name == "VARCHAR" && needsLength[dialect] {
			size = DefaultVarcharSize
		}
		if size > 0 {
			return fmt.Sprintf("%s(%d)", sqlType, size), nil
		}
	case "DECIMAL", "NUMERIC":
		if t.Precision > 0 && t.Scale > 0 {
			return fmt.Sprintf("%s(%d,%d)", sqlType, t.Precision, t.Scale), nil
		}
		if t.Precision > 0 {
			return fmt.Sprintf("%s(%d)", sqlType, t.Precision), nil
		}
	}
	return sqlType, nil
}

// MapTable fills SQLType on every column of def for the given dialect.
func MapTable(dialect string, def TableDef) (TableDef, error) {
	out := def
	out.Columns = make([]ColumnDef, len(def.Columns))
	for i, c := range def.Columns {
		if c.SQLType == "" {
			sqlType, err := MapType(dialect, c.Type)
			if err != nil {
				return TableDef{}, fmt.Errorf("column %s: %w", c.Name, err)
			}
			c.SQLType = sqlType
		}
		out.Columns[i] = c
	}
	return out, nil
}
