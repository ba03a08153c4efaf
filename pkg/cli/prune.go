package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

func newPruneCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "prune",
		Description: "Remove or archive rotated audit files past the retention period",
		Flags:       flag.NewFlagSet("prune", flag.ContinueOnError),
	}
	configPath := cmd.Flags.String("config", "", "Path to a YAML configuration file")
	daemon := cmd.Flags.Bool("daemon", false, "Keep running and prune on the configured schedule")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := parseFlags(cmd.Flags, args); err != nil {
			return err
		}

		app, err := loadApp(ctx, *configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		if len(app.Rotations) == 0 {
			return fmt.Errorf("sink %q writes no rotated files: %w", app.Config.Audit.Sink, sentinel.ErrConfiguration)
		}

		janitors, err := newJanitors(ctx, app)
		if err != nil {
			return err
		}

		if !*daemon {
			for _, j := range janitors {
				for _, path := range j.RunOnce(ctx) {
					fmt.Fprintln(out, path)
				}
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		for _, j := range janitors {
			j.Start()
		}
		app.Log.WithField("schedule", app.Config.Retention.Schedule).Info("retention janitor started")

		<-ctx.Done()

		for _, j := range janitors {
			<-j.Stop().Done()
		}
		app.Log.Info("retention janitor stopped")
		return nil
	}

	return cmd
}

func newJanitors(ctx context.Context, app *App) ([]*audit.RetentionJanitor, error) {
	policy := app.Config.Retention.Policy()

	var archiver audit.Archiver
	if policy.ArchiveEnabled {
		s3, err := audit.NewS3Archiver(ctx, app.Config.Archive.S3Config())
		if err != nil {
			return nil, err
		}
		archiver = s3
	}

	janitors := make([]*audit.RetentionJanitor, 0, len(app.Rotations))
	for _, rotation := range app.Rotations {
		j, err := audit.NewRetentionJanitor(rotation, policy, archiver, app.Config.Retention.Schedule, app.Log)
		if err != nil {
			return nil, err
		}
		janitors = append(janitors, j)
	}
	return janitors, nil
}
