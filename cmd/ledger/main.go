package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/ledger/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand(os.Stdout)

	err := rootCmd.Execute(context.Background(), os.Args[1:])
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
