package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smartcontractkit/chainlink-relayer-framework/domain"
)

// UnknownAppContext is the app context label used for operations that do not have one.
const UnknownAppContext = "Unknown"

// OriginStore is the persistence scoped to the origin domain of an operation. Implementations
// must be safe for concurrent use.
type OriginStore interface {
	// StoreStatus persists the status of the operation with the given id.
	StoreStatus(id common.Hash, status Status) error
	// RetrieveStatus returns the persisted status of the operation, and false if none was stored.
	RetrieveStatus(id common.Hash) (Status, bool, error)
}

// Operation is a pending unit of cross-chain work that ends with a transaction on its destination
// chain. It moves through three phases:
//
//  1. Prepare is called before every submission. It checks that the operation can still be
//     delivered and builds whatever the submission needs, e.g. metadata and gas estimates.
//     It must be safe to call repeatedly.
//  2. Submit sends the transaction and records the outcome with SetSubmissionOutcome.
//  3. Confirm checks that the submitted transaction reached a point where it is safe from reorgs
//     and records the outcome with SetOperationOutcome.
//
// Only the goroutine currently driving an operation may call its methods. Status and the next
// attempt time are only changed by the Driver, interpreting the Result of Prepare and Confirm.
type Operation interface {
	// ID returns the unique identifier of the operation.
	ID() common.Hash
	// Priority orders operations of the same origin; lower runs first, e.g. a message nonce.
	// It is only consulted when neither operation has a next attempt time.
	Priority() uint32
	// OriginDomainID returns the id of the domain the operation originates from.
	OriginDomainID() uint32
	// OriginStore returns the store of the origin domain.
	OriginStore() OriginStore
	// DestinationDomain returns the domain the operation is delivered to.
	DestinationDomain() domain.Domain
	// AppContext returns the metrics grouping label of the operation, if any.
	AppContext() (string, bool)

	// Status returns the status of the operation.
	Status() Status
	// SetStatus sets the status of the operation.
	SetStatus(status Status)

	// Prepare readies the operation for submission.
	Prepare(ctx context.Context) Result
	// Submit sends the operation to the destination chain.
	Submit(ctx context.Context)
	// SetSubmissionOutcome records the outcome of Submit.
	SetSubmissionOutcome(outcome TxOutcome)
	// TxCostEstimate returns the estimated cost of submitting the operation, nil when unknown.
	TxCostEstimate() *uint256.Int
	// Confirm checks whether the submitted operation is safe from reorgs.
	Confirm(ctx context.Context) Result
	// SetOperationOutcome records the final outcome of the operation. submissionEstimatedCost is
	// the estimated cost of the whole transaction the operation was submitted in.
	SetOperationOutcome(outcome TxOutcome, submissionEstimatedCost *uint256.Int)

	// NextAttemptAfter returns the earliest time the operation should be attempted again, and
	// false if it can be attempted now. It is only used for ordering.
	NextAttemptAfter() (time.Time, bool)
	// SetNextAttemptAfter schedules the next attempt delay from now and counts an attempt.
	SetNextAttemptAfter(delay time.Duration)
	// Attempts returns the number of attempts counted since the last reset.
	Attempts() uint32
	// ResetAttempts clears the attempt count and the next attempt time, making the operation
	// eligible immediately.
	ResetAttempts()
}

// Labels returns the (destination, app context) metrics label pair of op.
func Labels(op Operation) (destination string, appContext string) {
	appContext, ok := op.AppContext()
	if !ok {
		appContext = UnknownAppContext
	}

	return op.DestinationDomain().String(), appContext
}

// Describe renders op for logs.
func Describe(op Operation) string {
	return fmt.Sprintf("QueueOperation(id: %s, origin: %d, destination: %s, priority: %d)",
		op.ID().Hex(), op.OriginDomainID(), op.DestinationDomain(), op.Priority(),
	)
}

// logFields returns the structured logging fields describing op.
func logFields(op Operation) []any {
	destination, appContext := Labels(op)

	return []any{
		"id", op.ID().Hex(),
		"origin", op.OriginDomainID(),
		"destination", destination,
		"appContext", appContext,
		"priority", op.Priority(),
		"status", op.Status().String(),
	}
}
