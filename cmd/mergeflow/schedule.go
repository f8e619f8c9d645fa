package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"mergeflow/internal/apperr"
	"mergeflow/internal/config"
	"mergeflow/internal/logging"
	"mergeflow/internal/pipeline"
)

func newScheduleCmd(opts *options) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			if err := config.Errors(config.ValidatePipeline(p)); err != nil {
				return err
			}
			log, err := logging.New(cmd.ErrOrStderr(), p.Log.Level, p.Log.Format)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return schedule(ctx, spec, p, cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", `cron expression, e.g. "0 * * * *" or "@every 15m"`)
	return cmd
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("schedule: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("schedule: "+msg, append(kv, "err", err)...)
}

// schedule runs p at every tick of spec until ctx is done. A tick that fires
// while the previous run is still going is skipped. Run failures are logged
// and do not stop the schedule.
func schedule(ctx context.Context, spec string, p config.Pipeline, out io.Writer, log *slog.Logger) error {
	if spec == "" {
		return apperr.Config("schedule", "--cron is required")
	}
	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(spec, func() {
		ctl := pipeline.New(p, pipeline.WithOutput(out), pipeline.WithLogger(log))
		if err := ctl.Run(ctx); err != nil {
			log.Error("schedule: run failed", "run_id", ctl.RunID(), "err", err)
		}
	})
	if err != nil {
		return apperr.Config("schedule", "invalid cron expression %q: %w", spec, err)
	}
	log.Info("schedule: started", "cron", spec, "pipeline", p.Name)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("schedule: stopped", "pipeline", p.Name)
	return nil
}
