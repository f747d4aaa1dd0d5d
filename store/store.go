// Package store persists the per origin domain records of the relayer core: operation statuses,
// processed markers and the gas attributed to delivered operations.
package store

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/holiman/uint256"

	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
)

const (
	pendingMessageStatusPrefix = "pending_message_status"
	messageGasUsedPrefix       = "message_gas_used"
	processedPrefix            = "processed"
	schemaVersionKey           = "schema_version"
)

// SchemaVersion is the version of the record layout written by this package. Stores written with
// another major version are refused.
var SchemaVersion = semver.MustParse("1.0.0")

var (
	// ErrIncompatibleSchema is returned when a store was written with another major schema version.
	ErrIncompatibleSchema = errors.New("incompatible store schema version")
	// ErrEmptyDomain is returned when a store is opened without a domain name.
	ErrEmptyDomain = errors.New("domain name must not be empty")
)

// KeyValueStore is the key/value database a DomainStore is built on. Both go-ethereum memorydb and
// leveldb databases satisfy it, and are safe for concurrent use.
type KeyValueStore interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
}

// NewMemoryDB returns an in-memory KeyValueStore.
func NewMemoryDB() *memorydb.Database {
	return memorydb.New()
}

// OpenLevelDB opens or creates a leveldb KeyValueStore at path. cacheMB is the memory budget of
// the database cache, handles the number of open files it may keep.
func OpenLevelDB(path string, cacheMB int, handles int) (*leveldb.Database, error) {
	db, err := leveldb.New(path, cacheMB, handles, "relayer/db/", false)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return db, nil
}

// DomainStore is the store of a single origin domain. Every key is namespaced by the domain name,
// so that several domains can share one database.
type DomainStore struct {
	domain string
	db     KeyValueStore
}

// DomainStore implements operations.OriginStore interface.
var _ operations.OriginStore = &DomainStore{}

// New returns the DomainStore of domainName over db. It records the schema version on first use
// and refuses databases written with an incompatible one.
func New(domainName string, db KeyValueStore) (*DomainStore, error) {
	if domainName == "" {
		return nil, ErrEmptyDomain
	}

	s := &DomainStore{domain: domainName, db: db}
	if err := s.checkSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

// Domain returns the name of the domain the store is scoped to.
func (s *DomainStore) Domain() string {
	return s.domain
}

// StoreStatus persists the status of an operation.
func (s *DomainStore) StoreStatus(id common.Hash, status operations.Status) error {
	encoded, err := status.Encode()
	if err != nil {
		return fmt.Errorf("operation %s: %w", id.Hex(), err)
	}

	return s.put(s.key(pendingMessageStatusPrefix, id), encoded)
}

// RetrieveStatus returns the persisted status of an operation, and false if none was stored.
// A record that is not a valid status encoding fails with operations.ErrStatusDecode.
func (s *DomainStore) RetrieveStatus(id common.Hash) (operations.Status, bool, error) {
	raw, ok, err := s.get(s.key(pendingMessageStatusPrefix, id))
	if err != nil || !ok {
		return operations.Status{}, false, err
	}

	status, err := operations.DecodeStatus(raw)
	if err != nil {
		return operations.Status{}, false, fmt.Errorf("operation %s: %w", id.Hex(), err)
	}

	return status, true, nil
}

// StoreGasUsed persists the gas attributed to a delivered operation.
func (s *DomainStore) StoreGasUsed(id common.Hash, gasUsed *uint256.Int) error {
	encoded := gasUsed.Bytes32()

	return s.put(s.key(messageGasUsedPrefix, id), encoded[:])
}

// RetrieveGasUsed returns the gas attributed to a delivered operation, and false if none was stored.
func (s *DomainStore) RetrieveGasUsed(id common.Hash) (*uint256.Int, bool, error) {
	raw, ok, err := s.get(s.key(messageGasUsedPrefix, id))
	if err != nil || !ok {
		return nil, false, err
	}
	if len(raw) != 32 {
		return nil, false, fmt.Errorf("gas used record of %s has %d bytes, want 32", id.Hex(), len(raw))
	}

	return new(uint256.Int).SetBytes(raw), true, nil
}

// MarkProcessed records that an operation was delivered.
func (s *DomainStore) MarkProcessed(id common.Hash) error {
	return s.put(s.key(processedPrefix, id), []byte{1})
}

// IsProcessed reports whether an operation was marked as delivered.
func (s *DomainStore) IsProcessed(id common.Hash) (bool, error) {
	ok, err := s.db.Has(s.key(processedPrefix, id))
	if err != nil {
		return false, fmt.Errorf("failed to read %s store: %w", s.domain, err)
	}

	return ok, nil
}

func (s *DomainStore) checkSchema() error {
	key := []byte(s.domain + "/" + schemaVersionKey)
	raw, ok, err := s.get(key)
	if err != nil {
		return err
	}
	if !ok {
		return s.put(key, []byte(SchemaVersion.String()))
	}

	version, err := semver.NewVersion(string(raw))
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrIncompatibleSchema, raw, err)
	}
	if version.Major() != SchemaVersion.Major() {
		return fmt.Errorf("%w: store has %s, want %s", ErrIncompatibleSchema, version, SchemaVersion)
	}

	return nil
}

func (s *DomainStore) key(prefix string, id common.Hash) []byte {
	return []byte(s.domain + "/" + prefix + "/" + id.Hex())
}

func (s *DomainStore) get(key []byte) ([]byte, bool, error) {
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s store: %w", s.domain, err)
	}
	if !ok {
		return nil, false, nil
	}

	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s store: %w", s.domain, err)
	}

	return raw, true, nil
}

func (s *DomainStore) put(key []byte, value []byte) error {
	if err := s.db.Put(key, value); err != nil {
		return fmt.Errorf("failed to write %s store: %w", s.domain, err)
	}

	return nil
}
