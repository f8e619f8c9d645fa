package storage

import (
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// DedupByKey collapses rows that share a key, last write wins. A collapsed
// key keeps the position of its first occurrence. keyIdx holds the key column
// positions. It returns rows unchanged when no key repeats.
func DedupByKey(rows [][]any, keyIdx []int) [][]any {
	if len(rows) < 2 || len(keyIdx) == 0 {
		return rows
	}
	seen := make(map[uint64][]int, len(rows))
	out := make([][]any, 0, len(rows))
	var buf []byte
	for _, r := range rows {
		buf = appendKey(buf[:0], r, keyIdx)
		h := xxh3.Hash(buf)
		replaced := false
		for _, j := range seen[h] {
			if sameKey(out[j], r, keyIdx) {
				out[j] = r
				replaced = true
				break
			}
		}
		if !replaced {
			seen[h] = append(seen[h], len(out))
			out = append(out, r)
		}
	}
	if len(out) == len(rows) {
		return rows
	}
	return out
}

// appendKey writes a type-tagged, length-prefixed rendering of the key
// values so ("a","bc") and ("ab","c") hash differently.
func appendKey(buf []byte, row []any, keyIdx []int) []byte {
	for _, i := range keyIdx {
		s := keyText(row[i])
		buf = fmt.Appendf(buf, "%d:%s|", len(s), s)
	}
	return buf
}

func sameKey(a, b []any, keyIdx []int) bool {
	for _, i := range keyIdx {
		if keyText(a[i]) != keyText(b[i]) {
			return false
		}
	}
	return true
}

func keyText(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
