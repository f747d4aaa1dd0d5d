// Package main provides relayerctl, the operator CLI of the relayer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/commands"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

func main() {
	lggr, err := logger.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:          "relayerctl",
		Short:        "Inspect the configuration and stores of a relayer",
		SilenceUsage: true,
	}

	cmds := commands.New(lggr)
	root.AddCommand(cmds.Config(), cmds.Store())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
