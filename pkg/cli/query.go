package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/renameio"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// queryFlags are shared by query and export
type queryFlags struct {
	config    *string
	kind      *string
	id        *string
	itemID    *string
	userID    *string
	itemType  *string
	operation *string
	since     *string
	until     *string
	limit     *int
	offset    *int
	format    *string
}

func addQueryFlags(fs *flag.FlagSet, defaultFormat string) *queryFlags {
	return &queryFlags{
		config:    fs.String("config", "", "Path to a YAML configuration file"),
		kind:      fs.String("kind", "changes", "What to query (changes, events)"),
		id:        fs.String("id", "", "Match a record or event id"),
		itemID:    fs.String("item-id", "", "Match an item id"),
		userID:    fs.String("user-id", "", "Match an event user id or a record editor id"),
		itemType:  fs.String("item-type", "", "Match an item type (AUser, AGroup, AAPIToken)"),
		operation: fs.String("operation", "", "Match an operation (Added, Edited, Removed)"),
		since:     fs.String("since", "", "Only entries at or after this RFC 3339 time"),
		until:     fs.String("until", "", "Only entries before this RFC 3339 time"),
		limit:     fs.Int("limit", 0, "Maximum number of results (0 = all)"),
		offset:    fs.Int("offset", 0, "Number of results to skip"),
		format:    fs.String("format", defaultFormat, "Output format (json, ndjson, csv)"),
	}
}

func (f *queryFlags) query() (audit.Query, error) {
	q := audit.Query{
		ID:        *f.id,
		ItemID:    *f.itemID,
		UserID:    *f.userID,
		ItemType:  audit.ItemType(*f.itemType),
		Operation: audit.Operation(*f.operation),
		Limit:     *f.limit,
		Offset:    *f.offset,
	}

	if q.ItemType != "" && !q.ItemType.Registered() {
		return q, fmt.Errorf("unknown item type %q: %w", q.ItemType, sentinel.ErrArgument)
	}
	if q.Operation != "" && !q.Operation.Valid() {
		return q, fmt.Errorf("unknown operation %q: %w", q.Operation, sentinel.ErrArgument)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return q, fmt.Errorf("limit and offset cannot be negative: %w", sentinel.ErrArgument)
	}

	var err error
	if q.Since, err = parseTime("since", *f.since); err != nil {
		return q, err
	}
	if q.Until, err = parseTime("until", *f.until); err != nil {
		return q, err
	}
	return q, nil
}

// run executes the query against the configured sink and renders the result
func (f *queryFlags) run(ctx context.Context) ([]byte, error) {
	format, err := audit.ParseExportFormat(*f.format)
	if err != nil {
		return nil, err
	}
	q, err := f.query()
	if err != nil {
		return nil, err
	}

	app, err := loadApp(ctx, *f.config)
	if err != nil {
		return nil, err
	}
	defer app.Close()

	switch *f.kind {
	case "changes":
		records, err := app.Sink.QueryChanges(ctx, q)
		if err != nil {
			return nil, err
		}
		return audit.ExportRecords(records, format)
	case "events":
		events, err := app.Sink.QueryEvents(ctx, q)
		if err != nil {
			return nil, err
		}
		return audit.ExportEvents(events, format)
	default:
		return nil, fmt.Errorf("unknown kind %q (must be changes or events): %w", *f.kind, sentinel.ErrArgument)
	}
}

func newQueryCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "query",
		Description: "Query audit records or events from the configured sink",
		Flags:       flag.NewFlagSet("query", flag.ContinueOnError),
	}
	qf := addQueryFlags(cmd.Flags, "ndjson")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := parseFlags(cmd.Flags, args); err != nil {
			return err
		}
		data, err := qf.run(ctx)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			_, err = fmt.Fprintln(out, string(data))
		}
		return err
	}

	return cmd
}

func newExportCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Export queried audit records or events to a file",
		Flags:       flag.NewFlagSet("export", flag.ContinueOnError),
	}
	qf := addQueryFlags(cmd.Flags, "json")
	output := cmd.Flags.String("out", "", "Destination file (required)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := parseFlags(cmd.Flags, args); err != nil {
			return err
		}
		if *output == "" {
			return fmt.Errorf("export requires -out: %w", sentinel.ErrArgument)
		}

		data, err := qf.run(ctx)
		if err != nil {
			return err
		}
		if err := renameio.WriteFile(*output, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}

		fmt.Fprintf(out, "exported %d bytes to %s\n", len(data), *output)
		return nil
	}

	return cmd
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid -%s time %q: %w: %w", name, value, sentinel.ErrArgument, err)
	}
	return &t, nil
}
