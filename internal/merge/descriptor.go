// Package merge writes extracted batches into a target table. The Engine
// applies one of three strategies (UPSERT, BULK_INSERT, FULL_COPY), upserts
// optionally going through a staging table, and keeps the run's Metrics.
package merge

import (
	"slices"
	"strings"

	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/storage"
)

// Descriptor describes the target table of a run. Build it once with
// NewDescriptor and do not mutate it afterwards.
type Descriptor struct {
	Schema string
	Table  string
	// Columns are the target columns when known (after Describe or table
	// creation). Batch columns outside this list are not written.
	Columns []ddl.ColumnDef
	Key     []string
	Method  string
	Action  storage.ConflictAction

	StagingSchema string
	StagingTable  string

	// Control reports whether batches carry the control columns.
	Control bool
	Labels  fingerprint.Labels
}

// NewDescriptor builds the descriptor of a DATABASE target.
func NewDescriptor(p config.Pipeline) Descriptor {
	t := p.Target
	d := Descriptor{
		Schema:        t.Schema,
		Table:         t.Table,
		Key:           slices.Clone([]string(t.ConflictKey)),
		Method:        t.Method(),
		Action:        ParseAction(t.ConflictAction),
		StagingSchema: t.StagingSchema,
		StagingTable:  strings.TrimSpace(t.StagingTable),
		Control:       p.ControlColumns,
		Labels: fingerprint.Labels{
			Fingerprint: p.ControlColumnsNames.Fingerprint,
			Timestamp:   p.ControlColumnsNames.Timestamp,
		}.WithDefaults(),
	}
	if d.StagingSchema == "" {
		d.StagingSchema = d.Schema
	}
	return d
}

// ParseAction maps conflict_action onto a ConflictAction. "ignore" and
// "nothing" skip existing keys; anything else updates them.
func ParseAction(s string) storage.ConflictAction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore", "nothing", "do nothing":
		return storage.ConflictIgnore
	default:
		return storage.ConflictUpdate
	}
}

// FQN returns the target table name.
func (d Descriptor) FQN() string { return storage.FQN(d.Schema, d.Table) }

// StagingFQN returns the staging table name.
func (d Descriptor) StagingFQN() string { return storage.FQN(d.StagingSchema, d.StagingTable) }

// Staged reports whether upserts go through the staging table.
func (d Descriptor) Staged() bool {
	return d.StagingTable != "" && d.Method == config.MethodUpsert
}

// WithColumns returns a copy of d carrying the target columns.
func (d Descriptor) WithColumns(cols []ddl.ColumnDef) Descriptor {
	d.Columns = slices.Clone(cols)
	return d
}

// WithKey returns a copy of d using key as conflict key.
func (d Descriptor) WithKey(key []string) Descriptor {
	d.Key = slices.Clone(key)
	return d
}

func (d Descriptor) fingerprintColumn() string {
	if !d.Control {
		return ""
	}
	return d.Labels.Fingerprint
}
