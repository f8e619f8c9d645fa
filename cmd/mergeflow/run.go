package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mergeflow/internal/config"
	"mergeflow/internal/logging"
	"mergeflow/internal/pipeline"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			log, err := logging.New(cmd.ErrOrStderr(), p.Log.Level, p.Log.Format)
			if err != nil {
				return err
			}
			c := pipeline.New(p, pipeline.WithOutput(cmd.OutOrStdout()), pipeline.WithLogger(log))
			return c.Run(cmd.Context())
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			issues := config.ValidatePipeline(p)
			for _, iss := range issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if err := config.Errors(issues); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", opts.configPath)
			return nil
		},
	}
}
