// Package storecmd provides CLI commands to inspect and repair the origin domain stores.
package storecmd

import (
	"github.com/smartcontractkit/chainlink-relayer-framework/config"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
	"github.com/smartcontractkit/chainlink-relayer-framework/store"
)

// ConfigLoaderFunc loads the relayer config from the given path.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// DatabaseOpenerFunc opens the database described by the config and returns a function closing it.
type DatabaseOpenerFunc func(cfg *config.Config) (store.KeyValueStore, func() error, error)

// ReporterOpenerFunc opens the reporter described by the config and returns a function closing it.
type ReporterOpenerFunc func(cfg *config.Config, lggr logger.Logger) (operations.Reporter, func() error, error)

// defaultReporterOpener opens the SQL or in-memory reporter of the config.
func defaultReporterOpener(cfg *config.Config, lggr logger.Logger) (operations.Reporter, func() error, error) {
	return cfg.OpenReporter(lggr)
}

// defaultDatabaseOpener opens the leveldb or in-memory database of the config.
func defaultDatabaseOpener(cfg *config.Config) (store.KeyValueStore, func() error, error) {
	return cfg.OpenDatabase()
}

// Deps holds the injectable dependencies for store commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the relayer config.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// DatabaseOpener opens the database the stores are built on.
	// Default: config.Config.OpenDatabase
	DatabaseOpener DatabaseOpenerFunc

	// ReporterOpener opens the reporter drivers write reports to.
	// Default: config.Config.OpenReporter
	ReporterOpener ReporterOpenerFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.DatabaseOpener == nil {
		d.DatabaseOpener = defaultDatabaseOpener
	}
	if d.ReporterOpener == nil {
		d.ReporterOpener = defaultReporterOpener
	}
}

// Config holds the configuration of the store commands.
type Config struct {
	Logger logger.Logger
	// Deps overrides the production dependencies, e.g. in tests.
	Deps *Deps
}

func (c *Config) deps() {
	if c.Deps == nil {
		c.Deps = &Deps{}
	}
	c.Deps.applyDefaults()
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
}
