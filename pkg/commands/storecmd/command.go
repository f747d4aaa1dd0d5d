package storecmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-relayer-framework/config"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/store"
)

// ErrInvalidMessageID is returned when a message id argument is not a 32 bytes hex string.
var ErrInvalidMessageID = errors.New("message id must be a 0x prefixed 32 bytes hex string")

// NewCommand creates a new store command with all subcommands.
// The command requires a config flag (-c) which is used by all subcommands.
//
// Usage:
//
//	rootCmd.AddCommand(storecmd.NewCommand(storecmd.Config{
//	    Logger: lggr,
//	}))
func NewCommand(cfg Config) *cobra.Command {
	// Apply defaults for optional dependencies
	cfg.deps()

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Origin store commands",
	}

	cmd.AddCommand(newInspectCmd(cfg), newSetStatusCmd(cfg), newReportCmd(cfg))

	cmd.PersistentFlags().
		StringP("config", "c", "", "Relayer config file (required)")
	_ = cmd.MarkPersistentFlagRequired("config")

	return cmd
}

func newInspectCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <origin-domain> <message-id>",
		Short: "Show the records persisted for a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[1])
			if err != nil {
				return err
			}

			ds, closeFn, err := openStore(cmd, cfg, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			status, found, err := ds.RetrieveStatus(id)
			if err != nil {
				return err
			}
			processed, err := ds.IsProcessed(id)
			if err != nil {
				return err
			}
			gasUsed, hasGas, err := ds.RetrieveGasUsed(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "message:   %s\n", id.Hex())
			fmt.Fprintf(out, "origin:    %s\n", ds.Domain())
			if found {
				encoded, err := status.Encode()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "status:    %s %s\n", status, encoded)
			} else {
				fmt.Fprintln(out, "status:    none")
			}
			fmt.Fprintf(out, "processed: %t\n", processed)
			if hasGas {
				fmt.Fprintf(out, "gas used:  %s\n", gasUsed.Dec())
			}

			return nil
		},
	}
}

func newSetStatusCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <origin-domain> <message-id> <status>",
		Short: "Overwrite the persisted status of a message",
		Long: `Overwrite the persisted status of a message. The status uses the store encoding, e.g.
"FirstPrepareAttempt" or {"Retry":"ErrorEstimatingGas"}. A relayer reads it back when the
message is loaded again.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[1])
			if err != nil {
				return err
			}
			status, err := operations.DecodeStatus([]byte(args[2]))
			if err != nil {
				return fmt.Errorf("invalid status %s: %w", args[2], err)
			}

			ds, closeFn, err := openStore(cmd, cfg, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			if err := ds.StoreStatus(id, status); err != nil {
				return err
			}
			cfg.Logger.Infow("Overwrote message status", "origin", ds.Domain(), "id", id.Hex(), "status", status.String())
			fmt.Fprintf(cmd.OutOrStdout(), "status of %s set to %s\n", id.Hex(), status)

			return nil
		},
	}
}

func newReportCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "report <message-id>",
		Short: "Show the latest report of a message that left a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}

			relayerCfg, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			reporter, closeReporter, err := cfg.Deps.ReporterOpener(relayerCfg, cfg.Logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeReporter(); err != nil {
					cfg.Logger.Warnw("Failed to close reporter", "error", err)
				}
			}()

			report, err := reporter.GetOperationReport(id)
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg Config) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	relayerCfg, err := cfg.Deps.ConfigLoader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	return relayerCfg, nil
}

// openStore opens the store of the origin domain using the config file given by the --config flag.
// The returned function closes the underlying database.
func openStore(cmd *cobra.Command, cfg Config, origin string) (*store.DomainStore, func(), error) {
	relayerCfg, err := loadConfig(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	db, closeDB, err := cfg.Deps.DatabaseOpener(relayerCfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := closeDB(); err != nil {
			cfg.Logger.Warnw("Failed to close database", "error", err)
		}
	}

	ds, err := store.New(origin, db)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return ds, closeFn, nil
}

func parseMessageID(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%q: %w", s, ErrInvalidMessageID)
	}

	return common.BytesToHash(b), nil
}
