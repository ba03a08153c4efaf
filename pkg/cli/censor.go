package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

func newCensorCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "censor",
		Description: "Redact recorded values of an item's fields",
		Flags:       flag.NewFlagSet("censor", flag.ContinueOnError),
	}
	configPath := cmd.Flags.String("config", "", "Path to a YAML configuration file")
	itemID := cmd.Flags.String("item-id", "", "Item whose records are redacted (required)")
	fields := cmd.Flags.String("fields", "", "Comma-separated field names to redact (required)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := parseFlags(cmd.Flags, args); err != nil {
			return err
		}
		if *itemID == "" || *fields == "" {
			return fmt.Errorf("censor requires -item-id and -fields: %w", sentinel.ErrArgument)
		}

		app, err := loadApp(ctx, *configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		names := strings.Split(*fields, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}

		ids, err := audit.NewCensorshipService(app.Sink, nil, app.Log, app.Metrics).Censor(ctx, names, *itemID)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "censored %d record(s)\n", len(ids))
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	return cmd
}
