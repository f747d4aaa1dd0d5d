// Package optest provides utilities for operations testing.
package optest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smartcontractkit/chainlink-relayer-framework/domain"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

// DefaultDestination is the destination of operations created by NewOperation.
var DefaultDestination = domain.New(10, "optimism")

// NewDriver creates a driver for DefaultDestination that logs to t and retries immediately.
func NewDriver(t *testing.T, opts ...operations.DriverOption) *operations.Driver {
	t.Helper()

	opts = append([]operations.DriverOption{
		operations.WithBackoff(operations.BackoffPolicy{}),
	}, opts...)

	return operations.NewDriver(DefaultDestination, logger.Test(t), opts...)
}

// Operation is a scriptable in-memory operations.Operation. Prepare and Confirm return the
// queued results in order and Success once the script is exhausted.
type Operation struct {
	Identifier  common.Hash
	Prio        uint32
	Origin      uint32
	Destination domain.Domain
	App         string
	Store       operations.OriginStore
	Estimate    *uint256.Int
	Item        *operations.BatchItem

	mu                sync.Mutex
	status            operations.Status
	nextAttemptAfter  time.Time
	scheduled         bool
	attempts          uint32
	prepareResults    []operations.Result
	confirmResults    []operations.Result
	calls             []string
	submissionOutcome *operations.TxOutcome
	operationOutcome  *operations.TxOutcome
	outcomeEstimate   *uint256.Int
}

// Operation implements operations.Batchable interface.
var _ operations.Batchable = &Operation{}

// NewOperation creates an Operation with the given id byte, origin and priority, delivered to
// DefaultDestination.
func NewOperation(id byte, origin uint32, priority uint32) *Operation {
	return &Operation{
		Identifier:  common.BytesToHash([]byte{id}),
		Prio:        priority,
		Origin:      origin,
		Destination: DefaultDestination,
	}
}

// WithPrepareResults queues the results of the next Prepare calls.
func (o *Operation) WithPrepareResults(results ...operations.Result) *Operation {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.prepareResults = append(o.prepareResults, results...)

	return o
}

// WithConfirmResults queues the results of the next Confirm calls.
func (o *Operation) WithConfirmResults(results ...operations.Result) *Operation {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.confirmResults = append(o.confirmResults, results...)

	return o
}

// ScheduleAt sets the next attempt time of the operation without counting an attempt.
func (o *Operation) ScheduleAt(at time.Time) *Operation {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextAttemptAfter, o.scheduled = at, true

	return o
}

// Calls returns the lifecycle calls made on the operation, e.g. ["prepare", "submit", "confirm"].
func (o *Operation) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string{}, o.calls...)
}

// SubmissionOutcome returns the outcome recorded by SetSubmissionOutcome.
func (o *Operation) SubmissionOutcome() *operations.TxOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.submissionOutcome
}

// OperationOutcome returns the outcome and estimate recorded by SetOperationOutcome.
func (o *Operation) OperationOutcome() (*operations.TxOutcome, *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.operationOutcome, o.outcomeEstimate
}

func (o *Operation) ID() common.Hash                     { return o.Identifier }
func (o *Operation) Priority() uint32                    { return o.Prio }
func (o *Operation) OriginDomainID() uint32              { return o.Origin }
func (o *Operation) OriginStore() operations.OriginStore { return o.Store }
func (o *Operation) DestinationDomain() domain.Domain    { return o.Destination }
func (o *Operation) TxCostEstimate() *uint256.Int        { return o.Estimate }
func (o *Operation) AppContext() (string, bool)          { return o.App, o.App != "" }
func (o *Operation) SetStatus(status operations.Status)  { o.status = status }
func (o *Operation) Status() operations.Status           { return o.status }
func (o *Operation) Attempts() uint32                    { return o.attempts }
func (o *Operation) NextAttemptAfter() (time.Time, bool) { return o.nextAttemptAfter, o.scheduled }

func (o *Operation) SetSubmissionOutcome(out operations.TxOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.submissionOutcome = &out
}

func (o *Operation) SetOperationOutcome(out operations.TxOutcome, estimate *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.operationOutcome, o.outcomeEstimate = &out, estimate
}

func (o *Operation) SetNextAttemptAfter(delay time.Duration) {
	o.attempts++
	o.nextAttemptAfter, o.scheduled = time.Now().Add(delay), true
}

func (o *Operation) ResetAttempts() {
	o.attempts = 0
	o.nextAttemptAfter, o.scheduled = time.Time{}, false
}

func (o *Operation) Prepare(context.Context) operations.Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, "prepare")

	return next(&o.prepareResults)
}

func (o *Operation) Submit(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, "submit")
}

func (o *Operation) Confirm(context.Context) operations.Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, "confirm")

	return next(&o.confirmResults)
}

func (o *Operation) BatchItem() (operations.BatchItem, bool) {
	if o.Item == nil {
		return operations.BatchItem{}, false
	}

	return *o.Item, true
}

func next(results *[]operations.Result) operations.Result {
	if len(*results) == 0 {
		return operations.ResultSuccess()
	}
	r := (*results)[0]
	*results = (*results)[1:]

	return r
}
