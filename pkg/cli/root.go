package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command. Command output goes to out.
func NewRootCommand(out io.Writer) *Command {
	root := &Command{
		Name:        "ledger",
		Description: "Ledger - audit trail and entity lifecycle tooling",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("ledger", flag.ContinueOnError),
		out:         out,
	}

	root.Subcommands["query"] = newQueryCommand(out)
	root.Subcommands["export"] = newExportCommand(out)
	root.Subcommands["censor"] = newCensorCommand(out)
	root.Subcommands["prune"] = newPruneCommand(out)
	root.Subcommands["demo"] = newDemoCommand(out)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if help := strings.ToLower(args[0]); help == "-h" || help == "--help" || help == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s: %w", args[0], sentinel.ErrArgument)
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.out
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// ExitCode maps an error to a process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, sentinel.ErrArgument), errors.Is(err, sentinel.ErrParse):
		return 2
	case errors.Is(err, sentinel.ErrConfiguration):
		return 3
	case errors.Is(err, sentinel.ErrNotImplemented):
		return 4
	case errors.Is(err, sentinel.ErrNotFound):
		return 5
	default:
		return 1
	}
}

// parseFlags parses a subcommand's flags, tagging parse failures as argument errors
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%s: %w: %w", fs.Name(), sentinel.ErrArgument, err)
	}
	return nil
}
