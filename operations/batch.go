package operations

import (
	"context"

	"github.com/holiman/uint256"
)

// BatchItem is what a batchable operation contributes to a batch transaction.
type BatchItem struct {
	// Message is the encoded message to deliver.
	Message []byte
	// Metadata is the proof metadata built during preparation.
	Metadata []byte
	// GasLimit is the estimated gas of delivering the message alone.
	GasLimit *uint256.Int
}

// Batchable is implemented by operations that can be submitted as part of a batch.
type Batchable interface {
	Operation
	// BatchItem returns the batch contribution of the operation, and false if the operation
	// cannot be batched right now, e.g. because it was not prepared.
	BatchItem() (BatchItem, bool)
}

// BatchSubmitter sends several operations in a single transaction.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, items []BatchItem) (TxOutcome, error)
}

// submitBatch submits ops in one transaction. Every member gets the transaction outcome and the
// summed estimate of the batch, so it can attribute its share of the gas with GasUsedByOperation.
func (d *Driver) submitBatch(ctx context.Context, ops []Batchable) error {
	items := make([]BatchItem, 0, len(ops))
	members := make([]Operation, 0, len(ops))
	for _, op := range ops {
		item, _ := op.BatchItem()
		items = append(items, item)
		members = append(members, op)
	}

	outcome, err := d.batcher.SubmitBatch(ctx, items)
	if err != nil {
		return err
	}

	total := TotalEstimatedCost(d.lggr, members)
	for _, op := range members {
		op.SetSubmissionOutcome(outcome)
		op.SetOperationOutcome(outcome, total)
	}

	d.lggr.Infow("Submitted batch",
		"size", len(members), "txID", outcome.TransactionID.Hex(), "executed", outcome.Executed,
		"gasUsed", outcome.GasUsed, "estimatedCost", total)

	return nil
}
