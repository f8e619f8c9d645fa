// DeDup is the policy-driven de-duplication transform. It collapses rows
// sharing a key and chooses a winner according to a configurable policy:
//
//   - "keep-first"   : keep the earliest occurrence in the batch
//   - "keep-last"    : keep the latest occurrence in the batch (default)
//   - "most-complete": keep the row with the most non-empty values;
//     ties break by "keep-last"
//
// It runs in memory on one batch, removing intra-batch duplicates before
// they reach the database. Run it after Normalize/Coerce so that types and
// empty values are consistent.
package builtin

import (
	"slices"
	"strings"

	"mergeflow/internal/batch"
	"mergeflow/internal/fingerprint"
)

// Policies.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// DeDup implements a configurable, in-memory de-duplication policy.
type DeDup struct {
	// Keys are the columns that form the business key.
	Keys []string

	// Policy selects the winner among duplicates (default keep-last).
	Policy string

	// PreferFields add weight in most-complete scoring when non-empty.
	PreferFields []string
}

// Apply keeps one row per key. Winners stay in input order. A batch lacking
// a key column is returned unchanged.
func (d DeDup) Apply(b *batch.Batch) *batch.Batch {
	if b.Len() == 0 || len(d.Keys) == 0 {
		return b
	}
	keyIdx := make([]int, len(d.Keys))
	for i, k := range d.Keys {
		keyIdx[i] = b.Index(k)
		if keyIdx[i] < 0 {
			return b
		}
	}
	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = KeepLast
	}
	prefer := make(map[int]struct{}, len(d.PreferFields))
	for _, f := range d.PreferFields {
		if i := b.Index(f); i >= 0 {
			prefer[i] = struct{}{}
		}
	}

	type slot struct {
		index int
		score int
	}
	winners := make(map[string]slot, len(b.Rows))
	var sb strings.Builder
	keyOf := func(row []any) string {
		sb.Reset()
		for n, i := range keyIdx {
			if n > 0 {
				sb.WriteByte('\x1f')
			}
			if row[i] == nil {
				sb.WriteByte('\x00')
				continue
			}
			sb.WriteString(fingerprint.Text(row[i]))
		}
		return sb.String()
	}
	scoreOf := func(row []any) int {
		score, bonus := 0, 0
		for i, v := range row {
			if v == nil || v == "" {
				continue
			}
			score++
			if _, ok := prefer[i]; ok {
				bonus++
			}
		}
		return score*10 + bonus
	}

	for i, row := range b.Rows {
		key := keyOf(row)
		prev, exists := winners[key]
		switch policy {
		case KeepFirst:
			if !exists {
				winners[key] = slot{index: i}
			}
		case MostComplete:
			s := slot{index: i, score: scoreOf(row)}
			if !exists || s.score >= prev.score {
				winners[key] = s
			}
		default:
			winners[key] = slot{index: i}
		}
	}
	if len(winners) == len(b.Rows) {
		return b
	}

	keep := make([]int, 0, len(winners))
	for _, s := range winners {
		keep = append(keep, s.index)
	}
	slices.Sort(keep)
	out := make([][]any, len(keep))
	for n, i := range keep {
		out[n] = b.Rows[i]
	}
	b.Rows = out
	return b
}
