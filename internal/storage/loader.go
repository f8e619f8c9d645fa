package storage

import (
	"context"
	"fmt"
)

// RenderFn renders a statement for n rows.
type RenderFn func(n int) (string, error)

// ExecBatched splits rows into statements of at most per rows, renders each
// with render and executes it in tx with the flattened row values. Statements
// are rendered once per distinct row count. It returns the summed affected
// rows and stops at the first error.
func ExecBatched(ctx context.Context, tx Tx, rows [][]any, per int, render RenderFn) (int64, error) {
	if per <= 0 {
		return 0, fmt.Errorf("rows per statement must be > 0")
	}
	if render == nil {
		return 0, fmt.Errorf("render must not be nil")
	}

	var (
		total int64
		cache = map[int]string{}
	)
	for start := 0; start < len(rows); start += per {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		chunk := rows[start:min(start+per, len(rows))]
		q, ok := cache[len(chunk)]
		if !ok {
			var err error
			if q, err = render(len(chunk)); err != nil {
				return total, err
			}
			cache[len(chunk)] = q
		}
		n, err := tx.Exec(ctx, q, Flatten(chunk)...)
		total += n
		if err != nil {
			return total, fmt.Errorf("rows %d-%d: %w", start, start+len(chunk)-1, err)
		}
	}
	return total, nil
}
