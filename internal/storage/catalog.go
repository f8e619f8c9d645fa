package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mergeflow/internal/ddl"
)

// TableExists reports whether schema.table exists on d. An empty schema means
// the connection's default schema.
func TableExists(ctx context.Context, d Driver, schema, table string) (bool, error) {
	q, args := d.Dialect().TableExistsSQL(schema, table)
	b, err := d.Query(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", FQN(schema, table), err)
	}
	if b.Len() == 0 || len(b.Rows[0]) == 0 {
		return false, nil
	}
	return AsInt(b.Rows[0][0]) > 0, nil
}

// Describe reflects schema.table: column names and logical types in table
// order, nullability, and primary key membership. A column whose type has no
// cross-dialect mapping fails with an UnsupportedType error.
func Describe(ctx context.Context, d Driver, schema, table string) (ddl.TableDef, error) {
	def := ddl.TableDef{Schema: schema, Name: table}

	q, args := d.Dialect().ColumnsSQL(schema, table)
	cols, err := d.Query(ctx, q, args...)
	if err != nil {
		return def, fmt.Errorf("describe %s: %w", FQN(schema, table), err)
	}
	if cols.Len() == 0 {
		return def, fmt.Errorf("describe %s: table not found or has no columns", FQN(schema, table))
	}

	q, args = d.Dialect().PrimaryKeySQL(schema, table)
	pkRows, err := d.Query(ctx, q, args...)
	if err != nil {
		return def, fmt.Errorf("describe %s primary key: %w", FQN(schema, table), err)
	}
	pk := make(map[string]struct{}, pkRows.Len())
	for _, r := range pkRows.Rows {
		pk[strings.ToLower(AsString(r[0]))] = struct{}{}
	}

	for _, r := range cols.Rows {
		name := AsString(r[0])
		ct, err := ddl.ParseType(AsString(r[1]))
		if err != nil {
			return def, fmt.Errorf("column %s: %w", name, err)
		}
		length, precision, scale := AsInt(r[2]), AsInt(r[3]), AsInt(r[4])
		switch ct.Name {
		case "VARCHAR", "CHAR":
			if length < 0 {
				ct = ddl.ColumnType{Name: "CLOB"}
			} else if ct.Size == 0 && length > 0 {
				ct.Size = int(length)
			}
		case "DECIMAL", "NUMERIC":
			if ct.Precision == 0 && precision > 0 {
				ct.Precision, ct.Scale = int(precision), int(scale)
			}
		}
		_, isPK := pk[strings.ToLower(name)]
		def.Columns = append(def.Columns, ddl.ColumnDef{
			Name:       name,
			Type:       ct,
			Nullable:   isNullable(r[5]),
			PrimaryKey: isPK,
		})
	}
	return def, nil
}

// CountRows returns count(*) of table within tx.
func CountRows(ctx context.Context, tx Tx, d Dialect, table string) (int64, error) {
	return tx.QueryInt(ctx, "SELECT COUNT(*) FROM "+ddl.QuoteFQN(table, d.Quote))
}

func isNullable(v any) bool {
	switch s := strings.ToUpper(AsString(v)); s {
	case "YES", "Y", "1", "TRUE":
		return true
	default:
		return false
	}
}

// AsInt converts a catalog value to int64; unparsable or NULL values are 0.
func AsInt(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		i, _ := strconv.ParseInt(strings.TrimSpace(AsString(v)), 10, 64)
		return i
	}
}

// AsString converts a catalog value to string.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}
