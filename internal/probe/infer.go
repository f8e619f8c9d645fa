// Package probe infers column types for sources that carry none (CSV, JSON,
// spreadsheets) and normalizes their header names into SQL identifiers.
package probe

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
)

// Inferred kinds, narrowest first.
const (
	KindEmpty     = "empty"
	KindInteger   = "integer"
	KindBoolean   = "boolean"
	KindDecimal   = "decimal"
	KindDate      = "date"
	KindTimestamp = "timestamp"
	KindText      = "text"
)

// Limits applied when a column is inferred as text.
const (
	MinVarcharSize = 255
	MaxVarcharSize = 4000
)

const maxDecimalDigits = 38

// Column is the inference result for one column.
type Column struct {
	Kind   string
	Type   ddl.ColumnType
	Layout string // time layout for date and timestamp columns
}

// InferColumn picks the narrowest kind every non-empty value satisfies.
// Values may be strings (CSV) or already-typed JSON values.
func InferColumn(values []any) Column {
	samples := make([]string, 0, len(values))
	typedBool, typedOther := 0, 0
	for _, v := range values {
		switch t := v.(type) {
		case nil:
			continue
		case bool:
			typedBool++
			samples = append(samples, strconv.FormatBool(t))
		case string:
			if s := strings.TrimSpace(t); s != "" {
				samples = append(samples, s)
			}
		case json.Number:
			samples = append(samples, t.String())
		case float64:
			typedOther++
			samples = append(samples, strconv.FormatFloat(t, 'f', -1, 64))
		case int, int32, int64:
			typedOther++
			samples = append(samples, strconv.FormatInt(asInt64(t), 10))
		default:
			typedOther++
			samples = append(samples, textOf(t))
		}
	}
	if len(samples) == 0 {
		return Column{Kind: KindEmpty, Type: ddl.ColumnType{Name: "VARCHAR", Size: MinVarcharSize}}
	}
	if typedBool == len(samples) {
		return Column{Kind: KindBoolean, Type: ddl.ColumnType{Name: "BOOLEAN"}}
	}
	if allMatch(samples, isInt) {
		return Column{Kind: KindInteger, Type: ddl.ColumnType{Name: "BIGINT"}}
	}
	if typedBool == 0 && typedOther == 0 && allMatch(samples, isBool) {
		return Column{Kind: KindBoolean, Type: ddl.ColumnType{Name: "BOOLEAN"}}
	}
	if allMatch(samples, isDecimal) {
		return Column{Kind: KindDecimal, Type: decimalType(samples)}
	}
	if typedOther == 0 {
		if lay := bestLayout(samples, timestampLayouts); lay != "" && allMatch(samples, parses(lay)) {
			return Column{Kind: KindTimestamp, Type: ddl.ColumnType{Name: "TIMESTAMP"}, Layout: lay}
		}
		if lay := bestLayout(samples, dateLayouts); lay != "" && allMatch(samples, parses(lay)) {
			return Column{Kind: KindDate, Type: ddl.ColumnType{Name: "DATE"}, Layout: lay}
		}
	}
	longest := 0
	for _, s := range samples {
		longest = max(longest, len([]rune(s)))
	}
	if longest > MaxVarcharSize {
		return Column{Kind: KindText, Type: ddl.ColumnType{Name: "CLOB"}}
	}
	return Column{Kind: KindText, Type: ddl.ColumnType{Name: "VARCHAR", Size: max(MinVarcharSize, roundUp(longest, 256)-1)}}
}

// Infer types every untyped column of b from its rows and converts values to
// the inferred Go representation (int64, bool, time.Time; decimals stay
// textual). Columns that already carry a type are left alone.
func Infer(b *batch.Batch) []Column {
	out := make([]Column, len(b.Columns))
	for i, c := range b.Columns {
		if c.Type.Name != "" {
			out[i] = Column{Kind: KindText, Type: c.Type}
			continue
		}
		vals := make([]any, len(b.Rows))
		for r, row := range b.Rows {
			vals[r] = row[i]
		}
		col := InferColumn(vals)
		out[i] = col
		b.Columns[i].Type = col.Type
		for _, row := range b.Rows {
			row[i] = Convert(col, row[i])
		}
	}
	return out
}

// Convert coerces v to the Go value matching col. Values that do not parse
// are returned unchanged.
func Convert(col Column, v any) any {
	s, ok := v.(string)
	if !ok {
		if n, isNum := v.(json.Number); isNum {
			s, ok = n.String(), true
		}
	}
	if !ok {
		if col.Kind == KindText {
			if _, isBool := v.(bool); !isBool && v != nil {
				return textOf(v)
			}
		}
		return v
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if col.Kind == KindText || col.Kind == KindEmpty {
			return v
		}
		return nil
	}
	switch col.Kind {
	case KindInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case KindBoolean:
		if b, ok := parseBool(s); ok {
			return b
		}
	case KindDecimal:
		return s
	case KindDate, KindTimestamp:
		if t, err := time.Parse(col.Layout, s); err == nil {
			return t
		}
	}
	return v
}

// NormalizeFieldName converts arbitrary header text into a lowercase ASCII
// identifier suitable for SQL schemas:
//  1. lowercase
//  2. strip accents (NFD → remove Mn → NFC)
//  3. keep [a-z0-9_]; convert space/dash/dot to underscore; drop others
//  4. fallback to "col" if empty
func NormalizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.' || r == '/':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	return truncateFieldName(name)
}

// NormalizeHeaders normalizes every header and suffixes duplicates with _2,
// _3, ... so the result can name table columns.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, h := range headers {
		n := NormalizeFieldName(h)
		seen[n]++
		if c := seen[n]; c > 1 {
			n = n + "_" + strconv.Itoa(c)
		}
		out[i] = n
	}
	return out
}

// truncateFieldName keeps names within PostgreSQL's 63-character identifier
// limit: the first 10 and last 53 characters.
func truncateFieldName(s string) string {
	if len(s) > 63 {
		return s[:10] + s[len(s)-53:]
	}
	return s
}

func allMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if !fn(v) {
			return false
		}
	}
	return true
}

func parses(layout string) func(string) bool {
	return func(s string) bool {
		_, err := time.Parse(layout, s)
		return err == nil
	}
}

// isBool accepts common textual booleans. 1/0 are integers.
func isBool(s string) bool {
	_, ok := parseBool(s)
	return ok
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// isInt requires a signed base-10 integer that fits in int64.
func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// isDecimal accepts plain decimal notation. Scientific notation and NaN/Inf
// stay text so no value changes meaning on the way into a NUMERIC column.
func isDecimal(s string) bool {
	if strings.ContainsAny(s, "eEnNiI") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// decimalType sizes a DECIMAL to hold every sample.
func decimalType(samples []string) ddl.ColumnType {
	intDigits, scale := 1, 0
	for _, s := range samples {
		s = strings.TrimLeft(s, "+-")
		whole, frac, _ := strings.Cut(s, ".")
		intDigits = max(intDigits, len(strings.TrimLeft(whole, "0")))
		scale = max(scale, len(frac))
	}
	precision := max(18, intDigits+scale)
	if precision > maxDecimalDigits {
		return ddl.ColumnType{Name: "DOUBLE"}
	}
	return ddl.ColumnType{Name: "DECIMAL", Precision: precision, Scale: scale}
}

func roundUp(n, to int) int {
	return ((n + to - 1) / to) * to
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	}
	return 0
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		b, _ := json.Marshal(t)
		return string(b)
	}
}
