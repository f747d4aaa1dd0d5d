package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
)

// Backend is the chain access a PendingMessage needs: contract code and transaction receipts.
type Backend interface {
	bind.DeployBackend
}

// TxCostEstimate is the estimated cost of processing a message.
type TxCostEstimate struct {
	// GasLimit is the estimated gas of the process call.
	GasLimit *uint256.Int
	// GasPrice is the expected price per unit of gas.
	GasPrice decimal.Decimal
}

// Mailbox is the mailbox contract of a destination chain.
type Mailbox interface {
	// Delivered reports whether the message with the given id was processed.
	Delivered(ctx context.Context, id common.Hash) (bool, error)
	// RecipientIsm returns the interchain security module used to verify messages sent to
	// recipient.
	RecipientIsm(ctx context.Context, recipient common.Address) (common.Address, error)
	// ProcessEstimateCosts estimates the cost of processing msg with metadata.
	ProcessEstimateCosts(ctx context.Context, msg Message, metadata []byte) (TxCostEstimate, error)
	// Process sends a transaction processing msg and returns its outcome.
	Process(ctx context.Context, msg Message, metadata []byte, gasLimit *uint256.Int) (operations.TxOutcome, error)
	// ProcessBatch sends a single transaction processing every item.
	ProcessBatch(ctx context.Context, items []operations.BatchItem) (operations.TxOutcome, error)
}

// MetadataBuilder builds the metadata an interchain security module needs to verify a message.
type MetadataBuilder interface {
	// Build returns the metadata of msg, and nil if it is not available yet.
	Build(ctx context.Context, ism common.Address, msg Message) ([]byte, error)
}

// MetadataBuilders picks the MetadataBuilder of an interchain security module.
type MetadataBuilders interface {
	BuilderFor(ctx context.Context, ism common.Address) (MetadataBuilder, error)
}

// GasPaymentEnforcer decides whether a message paid enough to be relayed.
type GasPaymentEnforcer interface {
	MeetsRequirement(ctx context.Context, msg Message, estimate TxCostEstimate) (bool, error)
}

// OriginStore is the store of the origin domain of a message.
type OriginStore interface {
	operations.OriginStore
	StoreGasUsed(id common.Hash, gasUsed *uint256.Int) error
	MarkProcessed(id common.Hash) error
}

// NewBatchSubmitter returns an operations.BatchSubmitter processing batches through mailbox.
func NewBatchSubmitter(mailbox Mailbox) operations.BatchSubmitter {
	return batchSubmitter{mailbox: mailbox}
}

type batchSubmitter struct {
	mailbox Mailbox
}

func (b batchSubmitter) SubmitBatch(ctx context.Context, items []operations.BatchItem) (operations.TxOutcome, error) {
	return b.mailbox.ProcessBatch(ctx, items)
}
