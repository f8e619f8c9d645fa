package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mergeflow/internal/apperr"
	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/logging"
	"mergeflow/internal/merge"
	"mergeflow/internal/objectstore"
	"mergeflow/internal/source"
	"mergeflow/internal/storage"
)

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the source layout and the target tables a run would create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			if err := config.Errors(config.ValidatePipeline(p)); err != nil {
				return err
			}
			return inspect(cmd.Context(), cmd.OutOrStdout(), p)
		},
	}
}

func inspect(ctx context.Context, w io.Writer, p config.Pipeline) (err error) {
	if p.NoSource {
		return apperr.Config("inspect", "inspect needs a source")
	}
	env := source.Env{Pipeline: p.Name, Objects: objectstore.New(p.S3), Log: logging.Discard()}
	src, err := source.New(ctx, p.Source, env)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, src.Close()) }()

	def, err := src.Inspect(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "source %s:\n", p.Source.Kind())
	printColumns(w, def)

	if p.NoTarget || p.Target.Kind() != config.TypeDatabase {
		return nil
	}
	drv, err := storage.New(ctx, p.Target.Storage())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, drv.Close()) }()

	desc := merge.NewDescriptor(p)
	tables, err := merge.Plan(drv.Dialect(), desc, def, p.Target.TargetTableDefinition)
	if err != nil {
		return err
	}
	if err := printTable(ctx, w, drv, desc.Schema, desc.Table, tables.TargetSQL); err != nil {
		return err
	}
	if desc.Staged() {
		return printTable(ctx, w, drv, desc.StagingSchema, desc.StagingTable, tables.StagingSQL)
	}
	return nil
}

func printColumns(w io.Writer, def ddl.TableDef) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range def.Columns {
		null := "NULL"
		if !c.Nullable {
			null = "NOT NULL"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name, c.Type, null)
	}
	tw.Flush()
}

// printTable prints stmt, or notes that the table is already there.
func printTable(ctx context.Context, w io.Writer, drv storage.Driver, schema, table, stmt string) error {
	ok, err := storage.TableExists(ctx, drv, schema, table)
	if err != nil {
		return apperr.Connection("inspect", err)
	}
	fqn := storage.FQN(schema, table)
	if ok {
		fmt.Fprintf(w, "\ntarget %s exists\n", fqn)
		return nil
	}
	fmt.Fprintf(w, "\ntarget %s would be created:\n%s;\n", fqn, stmt)
	return nil
}
