package merge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"mergeflow/internal/apperr"
	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/logging"
	"mergeflow/internal/storage"
	"mergeflow/internal/template"
)

var aggregates = map[string]string{
	"max":      "MAX(%s)",
	"min":      "MIN(%s)",
	"count":    "COUNT(%s)",
	"sum":      "SUM(%s)",
	"avg":      "AVG(%s)",
	"distinct": "COUNT(DISTINCT %s)",
}

// Deltas computes the configured aggregates over the target table in one
// query. Each result becomes the parameter {type}_{column}; NULL renders as
// the empty string. A missing target yields empty values for every delta.
func Deltas(ctx context.Context, drv storage.Driver, desc Descriptor, deltas map[string]config.Delta, log *slog.Logger) (template.Params, error) {
	if len(deltas) == 0 {
		return template.Params{}, nil
	}
	if log == nil {
		log = logging.Discard()
	}
	cols := make([]string, 0, len(deltas))
	for c := range deltas {
		cols = append(cols, c)
	}
	slices.Sort(cols)

	d := drv.Dialect()
	names := make([]string, len(cols))
	exprs := make([]string, len(cols))
	for i, c := range cols {
		kind := strings.ToLower(strings.TrimSpace(deltas[c].Type))
		f, ok := aggregates[kind]
		if !ok {
			return nil, apperr.Config("merge.deltas", "deltas.%s: unknown type %q", c, deltas[c].Type)
		}
		names[i] = config.DeltaParam(kind, c)
		exprs[i] = fmt.Sprintf(f, d.Quote(c))
	}

	out := make(template.Params, len(cols))
	exists, err := tableExists(ctx, drv, desc.Schema, desc.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Warn("merge: deltas target missing, using empty values", "table", desc.FQN())
		for _, n := range names {
			out[n] = ""
		}
		return out, nil
	}

	q := "SELECT " + strings.Join(exprs, ", ") + " FROM " + ddl.QuoteFQN(desc.FQN(), d.Quote)
	b, err := drv.Query(ctx, q)
	if err != nil {
		return nil, apperr.Connection("merge.deltas", fmt.Errorf("%s: %w", q, err))
	}
	for i, n := range names {
		var v any
		if b.Len() > 0 && i < len(b.Rows[0]) {
			v = b.Rows[0][i]
		}
		out[n] = template.Stringify(v)
	}
	log.Info("merge: deltas", "table", desc.FQN(), "params", out)
	return out, nil
}
