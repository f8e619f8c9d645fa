// Command mergeflow runs configured extract-and-merge pipelines.
//
//	mergeflow run -c pipelines/orders.yaml
//	mergeflow validate -c pipelines/orders.yaml
//	mergeflow inspect -c pipelines/orders.yaml
//	mergeflow schedule -c pipelines/orders.yaml --cron "0 * * * *"
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mergeflow/internal/apperr"
	"mergeflow/internal/config"

	// register every source kind and storage backend; the pipeline file
	// picks which ones run.
	_ "mergeflow/internal/source/all"
)

// Exit statuses.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(execute(newRootCmd(), os.Args[1:]))
}

// execute runs root with args and maps the outcome onto an exit status.
func execute(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, apperr.ErrConfig):
		return exitConfig
	default:
		return exitFailed
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath     string
	noSource       bool
	noTarget       bool
	metricsBackend string
	metricsOut     string
	logLevel       string
}

// load reads the pipeline file and applies the command-line overrides.
func (o *options) load() (config.Pipeline, error) {
	if o.configPath == "" {
		return config.Pipeline{}, apperr.Config("cli", "a pipeline file is required (-c)")
	}
	p, err := config.Load(o.configPath)
	if err != nil {
		return p, err
	}
	if o.noSource {
		p.NoSource = true
	}
	if o.noTarget {
		p.NoTarget = true
	}
	if o.metricsBackend != "" {
		p.Metrics.Backend = o.metricsBackend
	}
	if o.metricsOut != "" {
		p.Metrics.Out = o.metricsOut
	}
	if o.logLevel != "" {
		p.Log.Level = o.logLevel
	}
	return p, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mergeflow",
		Short:         "Extract rows from a source and merge them into a target",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "pipeline file (YAML or JSON)")
	pf.BoolVar(&opts.noSource, "no-source", false, "skip building the source")
	pf.BoolVar(&opts.noTarget, "no-target", false, "skip building the target")
	pf.StringVar(&opts.metricsBackend, "metrics-backend", "", "metrics backend (none, pushgateway, datadog); overrides the file")
	pf.StringVar(&opts.metricsOut, "metrics-out", "", "write the run summary as JSON to this path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newInspectCmd(opts),
		newScheduleCmd(opts),
	)
	return root
}
