// Package commands provides modular CLI command packages for the relayer.
//
// There are two ways to use commands from this package:
//
// 1. Via the Commands factory (recommended for most use cases):
//
//	commands := commands.New(lggr)
//	app.AddCommand(
//	    commands.Config(),
//	    commands.Store(),
//	)
//
// 2. Via direct package imports (for advanced DI/testing):
//
//	import "github.com/smartcontractkit/chainlink-relayer-framework/pkg/commands/storecmd"
//
//	app.AddCommand(storecmd.NewCommand(storecmd.Config{
//	    Logger: lggr,
//	    Deps:   &storecmd.Deps{...},  // inject fakes for testing
//	}))
package commands

import (
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/commands/configcmd"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/commands/storecmd"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// The logger will be shared across all commands created by this factory.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Config creates the config command group for checking the relayer configuration.
func (c *Commands) Config() *cobra.Command {
	return configcmd.NewCommand(configcmd.Config{Logger: c.lggr})
}

// Store creates the store command group for inspecting and repairing origin stores.
func (c *Commands) Store() *cobra.Command {
	return storecmd.NewCommand(storecmd.Config{Logger: c.lggr})
}
