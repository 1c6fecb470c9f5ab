package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/dipdup-net/indexer/cmd/dipdup/commands"
	dipdup_errors "github.com/dipdup-net/indexer/internal/errors"
)

func main() {
	cmd := commands.RootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if helpful, ok := err.(dipdup_errors.HelpfulError); ok {
			fmt.Fprintln(os.Stderr, helpful.Help())
		} else {
			color.New(color.FgRed).Fprintln(os.Stderr, err)
		}
		if coder, ok := err.(dipdup_errors.ExitCoder); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}
