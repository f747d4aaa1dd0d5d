// Package configcmd provides CLI commands to check the relayer configuration.
package configcmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/chainlink-relayer-framework/chain/evm"
	"github.com/smartcontractkit/chainlink-relayer-framework/config"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

// Config holds the configuration of the config commands.
type Config struct {
	Logger logger.Logger
	// Load loads the relayer config. Default: config.Load
	Load func(path string) (*config.Config, error)
}

// NewCommand creates a new config command with all subcommands.
//
// Usage:
//
//	rootCmd.AddCommand(configcmd.NewCommand(configcmd.Config{
//	    Logger: lggr,
//	}))
func NewCommand(cfg Config) *cobra.Command {
	if cfg.Load == nil {
		cfg.Load = config.Load
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config commands",
	}

	cmd.AddCommand(newValidateCmd(cfg), newPrintCmd(cfg))

	cmd.PersistentFlags().
		StringP("config", "c", "relayer.yml", "Relayer config file, env vars are used when it does not exist")

	return cmd
}

func newValidateCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the config can run a relayer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			relayerCfg, err := load(cmd, cfg)
			if err != nil {
				return err
			}
			if err := relayerCfg.Validate(); err != nil {
				return err
			}

			dial, err := cmd.Flags().GetBool("dial")
			if err != nil {
				return err
			}
			if dial {
				client, err := evm.NewMultiClient(cfg.Logger, relayerCfg.RPCConfig())
				if err != nil {
					return fmt.Errorf("failed to reach destination: %w", err)
				}
				defer client.Close()

				fmt.Fprintf(cmd.OutOrStdout(), "destination %s reachable through %d endpoint(s)\n",
					client.ChainName(), 1+len(client.Backups))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")

			return nil
		},
	}

	cmd.Flags().Bool("dial", false, "Also dial the destination RPC endpoints")

	return cmd
}

func newPrintCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the resolved config as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			relayerCfg, err := load(cmd, cfg)
			if err != nil {
				return err
			}

			b, err := yaml.Marshal(relayerCfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)

			return err
		},
	}
}

func load(cmd *cobra.Command, cfg Config) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg.Logger.Debugw("Loading config", "path", path)

	relayerCfg, err := cfg.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	return relayerCfg, nil
}
