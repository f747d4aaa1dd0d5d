// Package domain identifies the chains messages are relayed between.
package domain

import (
	"errors"
	"fmt"
	"strconv"

	chainsel "github.com/smartcontractkit/chain-selectors"
)

// ErrDomainIDOutOfRange is returned when a chain id does not fit in a domain id.
var ErrDomainIDOutOfRange = errors.New("chain id does not fit in a uint32 domain id")

// Domain is a chain that messages originate from or are delivered to.
type Domain struct {
	// ID is the numeric domain id carried in messages.
	ID uint32
	// Name is the human readable name, e.g. "ethereum-mainnet".
	Name string
	// Selector is the chain selector of the chain, zero when the domain was not resolved from one.
	Selector uint64
}

// New returns a Domain with the given id and name.
func New(id uint32, name string) Domain {
	return Domain{ID: id, Name: name}
}

// FromSelector resolves a Domain from a chain selector. The domain id is the chain id of the
// selected chain.
func FromSelector(selector uint64) (Domain, error) {
	chainID, err := chainsel.GetChainIDFromSelector(selector)
	if err != nil {
		return Domain{}, fmt.Errorf("failed to get chain id for selector %d: %w", selector, err)
	}
	family, err := chainsel.GetSelectorFamily(selector)
	if err != nil {
		return Domain{}, fmt.Errorf("failed to get family for selector %d: %w", selector, err)
	}
	details, err := chainsel.GetChainDetailsByChainIDAndFamily(chainID, family)
	if err != nil {
		return Domain{}, fmt.Errorf("failed to get chain details for selector %d: %w", selector, err)
	}

	id, err := strconv.ParseUint(chainID, 10, 32)
	if err != nil {
		return Domain{}, fmt.Errorf("chain id %s for selector %d: %w", chainID, selector, ErrDomainIDOutOfRange)
	}

	return Domain{
		ID:       uint32(id),
		Name:     details.ChainName,
		Selector: selector,
	}, nil
}

// Family returns the chain family of the domain, or an empty string if it was not resolved from
// a chain selector.
func (d Domain) Family() string {
	if d.Selector == 0 {
		return ""
	}
	family, err := chainsel.GetSelectorFamily(d.Selector)
	if err != nil {
		return ""
	}

	return family
}

// Equals returns true if both domains have the same id.
func (d Domain) Equals(other Domain) bool {
	return d.ID == other.ID
}

// String returns the name of the domain, falling back to the id when the name is unknown.
func (d Domain) String() string {
	if d.Name == "" {
		return strconv.FormatUint(uint64(d.ID), 10)
	}

	return d.Name
}
