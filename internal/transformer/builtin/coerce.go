package builtin

import (
	"strconv"
	"strings"
	"time"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
)

// DefaultDateLayout is used when Coerce.Layout is empty.
const DefaultDateLayout = "2006-01-02"

type Coerce struct {
	Types  map[string]string // column -> one of: int, bool, date, string
	Layout string            // date layout
}

var coerceTypes = map[string]ddl.ColumnType{
	"int":  {Name: "BIGINT"},
	"bool": {Name: "BOOLEAN"},
	"date": {Name: "DATE"},
}

// Apply converts string values in place. Values that do not parse are left
// untouched, and the column type is only updated when every non-nil value
// converted.
func (c Coerce) Apply(b *batch.Batch) *batch.Batch {
	layout := c.Layout
	if layout == "" {
		layout = DefaultDateLayout
	}
	for field, typ := range c.Types {
		col := b.Index(field)
		if col < 0 {
			continue
		}
		typ = strings.ToLower(typ)
		all := true
		for _, row := range b.Rows {
			s, ok := row[col].(string)
			if !ok {
				continue
			}
			switch typ {
			case "int":
				if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
					row[col] = i
					continue
				}
			case "bool":
				if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
					row[col] = v
					continue
				}
			case "date":
				if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
					row[col] = t
					continue
				}
			default:
				continue
			}
			all = false
		}
		if ct, ok := coerceTypes[typ]; ok && all {
			b.Columns[col].Type = ct
		}
		if typ == "string" && b.Columns[col].Type.Name == "" {
			b.Columns[col].Type = ddl.ColumnType{Name: "VARCHAR", Size: 255}
		}
	}
	return b
}
