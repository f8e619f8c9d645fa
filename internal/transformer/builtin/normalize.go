// Package builtin contains simple, reusable batch transforms.
package builtin

import (
	"strings"

	"mergeflow/internal/batch"
)

const nbsp = "\u00a0"

// Normalize replaces no-break spaces with ASCII spaces and trims every
// string value. Empty results become nil when EmptyAsNull is set.
type Normalize struct {
	EmptyAsNull bool
}

func (n Normalize) Apply(b *batch.Batch) *batch.Batch {
	for _, row := range b.Rows {
		for i, v := range row {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if strings.Contains(s, nbsp) {
				s = strings.ReplaceAll(s, nbsp, " ")
			}
			if HasEdgeSpace(s) {
				s = strings.TrimSpace(s)
			}
			if s == "" && n.EmptyAsNull {
				row[i] = nil
				continue
			}
			row[i] = s
		}
	}
	return b
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
