// Package config loads the relayer configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/smartcontractkit/chainlink-relayer-framework/chain/evm"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
	"github.com/smartcontractkit/chainlink-relayer-framework/reportstore"
	"github.com/smartcontractkit/chainlink-relayer-framework/store"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid relayer config")

// DestinationConfig is the configuration of the destination chain.
type DestinationConfig struct {
	Selector uint64    `mapstructure:"selector" yaml:"selector"` // The chain-selectors selector of the destination chain
	RPCs     []evm.RPC `mapstructure:"rpcs" yaml:"rpcs"`         // The RPC endpoints of the destination chain, preferred first
}

// DriverConfig is the configuration of the lifecycle driver.
type DriverConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`       // Interval between two driver steps when idle
	BackoffBase     time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`         // Delay before the first re-attempt of an operation
	BackoffMax      time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`           // Maximum delay between two attempts of an operation
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`             // Maximum number of messages submitted in one transaction
	PersistAttempts uint          `mapstructure:"persist_attempts" yaml:"persist_attempts"` // Attempts of a status write before giving up
}

// MessageConfig is the configuration of message delivery.
type MessageConfig struct {
	MaxGasLimit    uint64        `mapstructure:"max_gas_limit" yaml:"max_gas_limit"`     // Largest accepted gas estimate, 0 for no limit
	MaxRetries     uint32        `mapstructure:"max_retries" yaml:"max_retries"`         // Attempts after which a message is dropped, 0 for never
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout" yaml:"submit_timeout"`   // Timeout of a process transaction submission
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"` // Timeout of a receipt lookup and delivery check
}

// StoreConfig is the configuration of the origin domain stores.
type StoreConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`         // The leveldb directory, the store is kept in memory when empty
	CacheMB int    `mapstructure:"cache_mb" yaml:"cache_mb"` // Memory budget of the leveldb cache
	Handles int    `mapstructure:"handles" yaml:"handles"`   // Number of files leveldb may keep open
}

// ReportsConfig is the configuration of the report database.
type ReportsConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // The database/sql driver, "postgres" by default
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // The data source name, reports are kept in memory when empty
}

// LogConfig is the configuration of the logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn or error
	JSON  bool   `mapstructure:"json" yaml:"json"`   // Use the JSON encoder instead of the console one
}

// Config wraps the entire configuration of the relayer.
type Config struct {
	Destination DestinationConfig `mapstructure:"destination" yaml:"destination"`
	Driver      DriverConfig      `mapstructure:"driver" yaml:"driver"`
	Message     MessageConfig     `mapstructure:"message" yaml:"message"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Reports     ReportsConfig     `mapstructure:"reports" yaml:"reports"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// Default returns the configuration used for every value that is not set.
func Default() Config {
	settings := evm.DefaultSettings()

	return Config{
		Driver: DriverConfig{
			PollInterval:    time.Second,
			BackoffBase:     operations.DefaultBackoffBase,
			BackoffMax:      operations.DefaultBackoffMax,
			BatchSize:       1,
			PersistAttempts: 3,
		},
		Message: MessageConfig{
			SubmitTimeout:  settings.SubmitTimeout,
			ConfirmTimeout: settings.ConfirmTimeout,
		},
		Store: StoreConfig{
			CacheMB: 16,
			Handles: 16,
		},
		Reports: ReportsConfig{
			Driver: "postgres",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
// Values set nowhere take their Default.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback to using
	// environment variables
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// Validate checks that the config can run a relayer.
func (c *Config) Validate() error {
	var errs []error
	if c.Destination.Selector == 0 {
		errs = append(errs, errors.New("destination.selector is required"))
	}
	if len(c.Destination.RPCs) == 0 {
		errs = append(errs, errors.New("destination.rpcs needs at least one endpoint"))
	}
	if c.Driver.PollInterval <= 0 {
		errs = append(errs, errors.New("driver.poll_interval must be positive"))
	}
	if c.Driver.BackoffMax < c.Driver.BackoffBase {
		errs = append(errs, errors.New("driver.backoff_max must not be below driver.backoff_base"))
	}
	if c.Driver.BatchSize < 1 {
		errs = append(errs, errors.New("driver.batch_size must be at least 1"))
	}
	if c.Message.SubmitTimeout <= 0 || c.Message.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("message timeouts must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// BackoffPolicy returns the backoff policy of the driver.
func (c *Config) BackoffPolicy() operations.BackoffPolicy {
	return operations.BackoffPolicy{Base: c.Driver.BackoffBase, Max: c.Driver.BackoffMax}
}

// DriverOptions returns the options of a driver configured by c. A BatchSubmitter is only passed
// to WithBatchSubmitter when batching is enabled.
func (c *Config) DriverOptions(batcher operations.BatchSubmitter, metrics operations.MetricsRecorder) []operations.DriverOption {
	opts := []operations.DriverOption{
		operations.WithBackoff(c.BackoffPolicy()),
		operations.WithPollInterval(c.Driver.PollInterval),
		operations.WithPersistAttempts(c.Driver.PersistAttempts),
	}
	if metrics != nil {
		opts = append(opts, operations.WithMetrics(metrics))
	}
	if batcher != nil && c.Driver.BatchSize > 1 {
		opts = append(opts, operations.WithBatchSubmitter(batcher, c.Driver.BatchSize))
	}

	return opts
}

// MessageSettings returns the delivery settings of PendingMessage.
func (c *Config) MessageSettings() evm.Settings {
	return evm.Settings{
		MaxGasLimit:    c.Message.MaxGasLimit,
		MaxRetries:     c.Message.MaxRetries,
		SubmitTimeout:  c.Message.SubmitTimeout,
		ConfirmTimeout: c.Message.ConfirmTimeout,
	}
}

// RPCConfig returns the endpoints of the destination chain.
func (c *Config) RPCConfig() evm.RPCConfig {
	return evm.RPCConfig{ChainSelector: c.Destination.Selector, RPCs: c.Destination.RPCs}
}

// Logger builds the logger configured by c.
func (c *Config) Logger() (logger.Logger, error) {
	return logger.Config{Level: c.Log.Level, JSON: c.Log.JSON}.New()
}

// OpenDatabase opens the database of the origin domain stores: a leveldb database at Store.Path,
// or an in-memory one when no path is set.
func (c *Config) OpenDatabase() (store.KeyValueStore, func() error, error) {
	if c.Store.Path == "" {
		db := store.NewMemoryDB()

		return db, db.Close, nil
	}

	db, err := store.OpenLevelDB(c.Store.Path, c.Store.CacheMB, c.Store.Handles)
	if err != nil {
		return nil, nil, err
	}

	return db, db.Close, nil
}

// OpenReporter returns the reporter of the drivers: a SQLReporter over Reports.DSN, or an
// operations.MemoryReporter when no DSN is set. The returned function closes the database.
func (c *Config) OpenReporter(lggr logger.Logger) (operations.Reporter, func() error, error) {
	if c.Reports.DSN == "" {
		return operations.NewMemoryReporter(), func() error { return nil }, nil
	}

	reporter, db, err := reportstore.Open(c.Reports.Driver, c.Reports.DSN, lggr)
	if err != nil {
		return nil, nil, err
	}

	return reporter, db.Close, nil
}

var (
	// envBindings defines how environment variables map to configuration keys used by Viper.
	// Each entry maps a config key (as used in the struct, e.g. "driver.poll_interval") to a list
	// of environment variable names that can provide its value, the preferred name first.
	envBindings = map[string][]string{
		"destination.selector":    {"RELAYER_DESTINATION_SELECTOR"},
		"driver.poll_interval":    {"RELAYER_DRIVER_POLL_INTERVAL"},
		"driver.backoff_base":     {"RELAYER_DRIVER_BACKOFF_BASE"},
		"driver.backoff_max":      {"RELAYER_DRIVER_BACKOFF_MAX"},
		"driver.batch_size":       {"RELAYER_DRIVER_BATCH_SIZE"},
		"driver.persist_attempts": {"RELAYER_DRIVER_PERSIST_ATTEMPTS"},
		"message.max_gas_limit":   {"RELAYER_MESSAGE_MAX_GAS_LIMIT"},
		"message.max_retries":     {"RELAYER_MESSAGE_MAX_RETRIES"},
		"message.submit_timeout":  {"RELAYER_MESSAGE_SUBMIT_TIMEOUT"},
		"message.confirm_timeout": {"RELAYER_MESSAGE_CONFIRM_TIMEOUT"},
		"store.path":              {"RELAYER_STORE_PATH", "RELAYER_DB"},
		"store.cache_mb":          {"RELAYER_STORE_CACHE_MB"},
		"store.handles":           {"RELAYER_STORE_HANDLES"},
		"reports.driver":          {"RELAYER_REPORTS_DRIVER"},
		"reports.dsn":             {"RELAYER_REPORTS_DSN", "RELAYER_DATABASE_URL"},
		"log.level":               {"RELAYER_LOG_LEVEL", "LOG_LEVEL"},
		"log.json":                {"RELAYER_LOG_JSON"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the env key to the start of the arguments
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}

// newViper returns a viper instance carrying the Default values.
func newViper() *viper.Viper {
	v := viper.New()
	d := Default()

	defaults := map[string]any{
		"driver.poll_interval":    d.Driver.PollInterval,
		"driver.backoff_base":     d.Driver.BackoffBase,
		"driver.backoff_max":      d.Driver.BackoffMax,
		"driver.batch_size":       d.Driver.BatchSize,
		"driver.persist_attempts": d.Driver.PersistAttempts,
		"message.submit_timeout":  d.Message.SubmitTimeout,
		"message.confirm_timeout": d.Message.ConfirmTimeout,
		"store.cache_mb":          d.Store.CacheMB,
		"store.handles":           d.Store.Handles,
		"reports.driver":          d.Reports.Driver,
		"log.level":               d.Log.Level,
		"log.json":                d.Log.JSON,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode relayer config: %w", err)
	}

	return cfg, nil
}
