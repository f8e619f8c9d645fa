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
)

// Inspector reports the column layout of the data about to be loaded.
// source.Source implements it.
type Inspector interface {
	Inspect(ctx context.Context) (ddl.TableDef, error)
}

// Tables is the rendered DDL of a target and its staging table.
type Tables struct {
	Target        ddl.TableDef
	TargetSQL     string
	Staging       ddl.TableDef
	StagingSQL    string
	stagingWanted bool
}

// Plan derives the target table from the source layout: overrides replace
// column types, control columns are appended, and the primary key is the
// source key or else the conflict key. The staging table repeats the columns
// without constraints. Every type must map onto the target dialect.
func Plan(d storage.Dialect, desc Descriptor, src ddl.TableDef, overrides map[string]config.ColumnOverride) (Tables, error) {
	def := ddl.TableDef{Schema: desc.Schema, Name: desc.Table, Columns: slices.Clone(src.Columns)}
	if len(def.Columns) == 0 {
		return Tables{}, apperr.Config("merge.plan", "source reports no columns for %s", desc.FQN())
	}
	if err := applyOverrides(&def, overrides); err != nil {
		return Tables{}, err
	}
	if desc.Control {
		for _, c := range desc.Labels.Columns() {
			if _, ok := def.Column(c.Name); !ok {
				def.Columns = append(def.Columns, c)
			}
		}
	}
	if len(def.PrimaryKey()) == 0 && len(desc.Key) > 0 {
		for _, k := range desc.Key {
			i := slices.IndexFunc(def.Columns, func(c ddl.ColumnDef) bool { return strings.EqualFold(c.Name, k) })
			if i < 0 {
				return Tables{}, apperr.Config("merge.plan", "conflict key column %q is not among the source columns", k)
			}
			def.Columns[i].PrimaryKey = true
			def.Columns[i].Nullable = false
		}
	}

	out := Tables{Target: def}
	var err error
	if out.TargetSQL, err = d.CreateTableSQL(def); err != nil {
		return Tables{}, fmt.Errorf("merge: plan %s: %w", desc.FQN(), err)
	}
	if desc.Staged() {
		out.stagingWanted = true
		out.Staging = def.WithoutConstraints(desc.StagingSchema, desc.StagingTable)
		if out.StagingSQL, err = d.CreateTableSQL(out.Staging); err != nil {
			return Tables{}, fmt.Errorf("merge: plan %s: %w", desc.StagingFQN(), err)
		}
	}
	return out, nil
}

// applyOverrides rewrites the types named in target_table_definition.
// Overrides for columns the source lacks add the column.
func applyOverrides(def *ddl.TableDef, overrides map[string]config.ColumnOverride) error {
	names := make([]string, 0, len(overrides))
	for n := range overrides {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, name := range names {
		o := overrides[name]
		i := slices.IndexFunc(def.Columns, func(c ddl.ColumnDef) bool { return strings.EqualFold(c.Name, name) })
		if i < 0 {
			if o.Type == "" {
				return apperr.Config("merge.plan", "target_table_definition.%s: type is required for a column the source lacks", name)
			}
			def.Columns = append(def.Columns, ddl.ColumnDef{Name: name, Nullable: true})
			i = len(def.Columns) - 1
		}
		c := &def.Columns[i]
		if o.Type != "" {
			t, err := ddl.ParseType(o.Type)
			if err != nil {
				return fmt.Errorf("target_table_definition.%s: %w", name, err)
			}
			c.Type = t
		}
		if o.Size > 0 {
			c.Type.Size = o.Size
		}
		if o.Precision > 0 {
			c.Type.Precision = o.Precision
			c.Type.Scale = o.Scale
		}
		if o.Nullable != nil {
			c.Nullable = *o.Nullable
		}
	}
	return nil
}

// EnsureTables creates the target, and the staging table of a staged
// upsert, when they are missing. The source is inspected only if something
// must be created. Nothing is created when any type fails to map. It returns
// the descriptor extended with the target columns.
func EnsureTables(ctx context.Context, drv storage.Driver, desc Descriptor, src Inspector, overrides map[string]config.ColumnOverride, log *slog.Logger) (Descriptor, error) {
	if log == nil {
		log = logging.Discard()
	}
	targetExists, err := tableExists(ctx, drv, desc.Schema, desc.Table)
	if err != nil {
		return desc, err
	}
	stagingExists := true
	if desc.Staged() {
		if stagingExists, err = tableExists(ctx, drv, desc.StagingSchema, desc.StagingTable); err != nil {
			return desc, err
		}
	}
	if targetExists && stagingExists {
		def, err := storage.Describe(ctx, drv, desc.Schema, desc.Table)
		if err != nil {
			return desc, fmt.Errorf("merge: %w", err)
		}
		return desc.WithColumns(def.Columns), nil
	}

	srcDef, err := src.Inspect(ctx)
	if err != nil {
		return desc, err
	}
	tables, err := Plan(drv.Dialect(), desc, srcDef, overrides)
	if err != nil {
		return desc, err
	}
	if !targetExists {
		if err := createTable(ctx, drv, tables.TargetSQL); err != nil {
			return desc, err
		}
		log.Info("merge: table created", "table", desc.FQN(), "columns", len(tables.Target.Columns))
	}
	if !stagingExists && tables.stagingWanted {
		if err := createTable(ctx, drv, tables.StagingSQL); err != nil {
			return desc, err
		}
		log.Info("merge: staging table created", "table", desc.StagingFQN())
	}
	if targetExists {
		def, err := storage.Describe(ctx, drv, desc.Schema, desc.Table)
		if err != nil {
			return desc, fmt.Errorf("merge: %w", err)
		}
		return desc.WithColumns(def.Columns), nil
	}
	return desc.WithColumns(tables.Target.Columns), nil
}

func tableExists(ctx context.Context, drv storage.Driver, schema, table string) (bool, error) {
	ok, err := storage.TableExists(ctx, drv, schema, table)
	if err != nil {
		return false, apperr.Connection("merge.table_exists", err)
	}
	return ok, nil
}

func createTable(ctx context.Context, drv storage.Driver, stmt string) (err error) {
	tx, err := drv.Begin(ctx)
	if err != nil {
		return apperr.Connection("merge.create_table", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("merge: create table: %s: %w", stmt, err)
	}
	return tx.Commit(ctx)
}
