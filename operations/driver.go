package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-relayer-framework/domain"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

// ErrWrongDestination is returned when an operation is enqueued on the driver of another domain.
var ErrWrongDestination = errors.New("operation destination does not match driver destination")

// MetricsRecorder receives the lifecycle events of a Driver.
type MetricsRecorder interface {
	// ObserveResult counts the outcome of a lifecycle call.
	ObserveResult(destination, appContext string, phase Phase, action Action)
	// SetQueueLength reports the length of a driver queue.
	SetQueueLength(destination string, phase Phase, length int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveResult(string, string, Phase, Action) {}
func (nopMetrics) SetQueueLength(string, Phase, int)          {}

// DriverOption is a functional option for configuring a Driver.
type DriverOption func(*Driver)

// WithBackoff sets the backoff policy used for operations that are not ready or reprepared.
func WithBackoff(policy BackoffPolicy) DriverOption {
	return func(d *Driver) {
		d.backoff = policy
	}
}

// WithReporter sets the Reporter that receives a report for every operation leaving the driver.
func WithReporter(reporter Reporter) DriverOption {
	return func(d *Driver) {
		d.reporter = reporter
	}
}

// WithMetrics sets the MetricsRecorder of the driver.
func WithMetrics(metrics MetricsRecorder) DriverOption {
	return func(d *Driver) {
		d.metrics = metrics
	}
}

// WithBatchSubmitter enables batch submission of up to maxSize batchable operations.
func WithBatchSubmitter(submitter BatchSubmitter, maxSize int) DriverOption {
	return func(d *Driver) {
		d.batcher = submitter
		d.maxBatchSize = maxSize
	}
}

// WithPollInterval sets the interval at which Run steps the driver.
func WithPollInterval(interval time.Duration) DriverOption {
	return func(d *Driver) {
		d.pollInterval = interval
	}
}

// WithPersistAttempts sets how many times a status write is attempted before giving up.
func WithPersistAttempts(attempts uint) DriverOption {
	return func(d *Driver) {
		d.persistAttempts = max(attempts, 1)
	}
}

// WithClock replaces the clock used to decide whether an operation is due.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		d.now = now
	}
}

// Driver runs the lifecycle of the operations delivered to one destination domain. It owns one
// queue per phase and moves operations between them according to Transition.
//
// A Driver must be the only consumer of its queues: run a single Driver per destination.
type Driver struct {
	id          uuid.UUID
	destination domain.Domain
	lggr        logger.Logger

	prepareQueue *Queue
	submitQueue  *Queue
	confirmQueue *Queue

	backoff         BackoffPolicy
	reporter        Reporter
	metrics         MetricsRecorder
	batcher         BatchSubmitter
	maxBatchSize    int
	pollInterval    time.Duration
	persistAttempts uint
	now             func() time.Time
}

// NewDriver creates a Driver for the given destination.
func NewDriver(destination domain.Domain, lggr logger.Logger, opts ...DriverOption) *Driver {
	id := uuid.New()
	d := &Driver{
		id:              id,
		destination:     destination,
		lggr:            logger.With(logger.Named(lggr, "Driver"), "driverID", id.String(), "destination", destination.String()),
		prepareQueue:    NewQueue(),
		submitQueue:     NewQueue(),
		confirmQueue:    NewQueue(),
		backoff:         DefaultBackoffPolicy(),
		reporter:        NewMemoryReporter(),
		metrics:         nopMetrics{},
		maxBatchSize:    1,
		pollInterval:    time.Second,
		persistAttempts: 3,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// ID returns the instance id of the driver, stamped on its log lines.
func (d *Driver) ID() uuid.UUID {
	return d.id
}

// Destination returns the destination domain served by the driver.
func (d *Driver) Destination() domain.Domain {
	return d.destination
}

// Reporter returns the reporter of the driver.
func (d *Driver) Reporter() Reporter {
	return d.reporter
}

// Enqueue hands op over to the driver. Operations persisted as awaiting confirmation resume
// in the confirm queue. Every other operation, including one persisted as ReadyToSubmit, is
// prepared again since the data built by a preparation is not persisted.
func (d *Driver) Enqueue(op Operation) error {
	if !op.DestinationDomain().Equals(d.destination) {
		return fmt.Errorf("operation %s to %s: %w", op.ID().Hex(), op.DestinationDomain(), ErrWrongDestination)
	}

	if op.Status().Kind() == Confirm {
		d.push(PhaseConfirm, op)
	} else {
		d.push(PhasePrepare, op)
	}

	return nil
}

// QueueLength returns the number of operations waiting in the given phase.
func (d *Driver) QueueLength(phase Phase) int {
	return d.queue(phase).Len()
}

// Snapshot returns the operations waiting in the given phase in processing order.
func (d *Driver) Snapshot(phase Phase) []Operation {
	return d.queue(phase).Snapshot()
}

// RetryNow resets the attempts of a queued operation so that it runs on the next step.
// It returns false if no queued operation has the given id.
func (d *Driver) RetryNow(id common.Hash) bool {
	for _, phase := range []Phase{PhasePrepare, PhaseSubmit, PhaseConfirm} {
		if d.queue(phase).Update(id, Operation.ResetAttempts) {
			return true
		}
	}

	return false
}

// Run steps the driver every poll interval until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	d.lggr.Infow("Starting driver", "pollInterval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		// drain everything that is due before waiting
		for d.Step(ctx) > 0 {
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.lggr.Infow("Stopping driver", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step runs at most one lifecycle call per phase, or one batch submission, on operations that are
// due. It returns the number of operations processed.
func (d *Driver) Step(ctx context.Context) int {
	processed := 0
	if d.ProcessConfirm(ctx) {
		processed++
	}
	processed += d.ProcessSubmit(ctx)
	if d.ProcessPrepare(ctx) {
		processed++
	}

	for _, phase := range []Phase{PhasePrepare, PhaseSubmit, PhaseConfirm} {
		d.metrics.SetQueueLength(d.destination.String(), phase, d.queue(phase).Len())
	}

	return processed
}

// ProcessPrepare prepares the next due operation. It returns false if none was due.
func (d *Driver) ProcessPrepare(ctx context.Context) bool {
	op, ok := d.prepareQueue.PopReady(d.now())
	if !ok {
		return false
	}

	result := op.Prepare(ctx)
	d.lggr.Debugw("Prepared operation", append(logFields(op), "result", result.String())...)
	d.apply(PhasePrepare, op, Transition(PhasePrepare, op, result, d.backoff))

	return true
}

// ProcessSubmit submits the due operations, as a batch when a BatchSubmitter is configured and
// more than one operation can be batched. It returns the number of operations submitted.
func (d *Driver) ProcessSubmit(ctx context.Context) int {
	ops := d.popSubmittable()
	if len(ops) == 0 {
		return 0
	}

	if batch, ok := asBatch(ops); ok && len(batch) > 1 {
		err := d.submitBatch(ctx, batch)
		if err == nil {
			for _, op := range ops {
				d.apply(PhaseSubmit, op, AfterSubmit(op))
			}

			return len(ops)
		}
		d.lggr.Warnw("Batch submission failed, submitting operations one by one",
			"size", len(ops), "error", err)
	}

	for _, op := range ops {
		op.Submit(ctx)
		d.apply(PhaseSubmit, op, AfterSubmit(op))
	}

	return len(ops)
}

// ProcessConfirm confirms the next due operation. It returns false if none was due.
func (d *Driver) ProcessConfirm(ctx context.Context) bool {
	op, ok := d.confirmQueue.PopReady(d.now())
	if !ok {
		return false
	}

	result := op.Confirm(ctx)
	d.lggr.Debugw("Confirmed operation", append(logFields(op), "result", result.String())...)
	d.apply(PhaseConfirm, op, Transition(PhaseConfirm, op, result, d.backoff))

	return true
}

func (d *Driver) popSubmittable() []Operation {
	limit := 1
	if d.batcher != nil && d.maxBatchSize > 1 {
		limit = d.maxBatchSize
	}

	now := d.now()
	ops := make([]Operation, 0, limit)
	for len(ops) < limit {
		op, ok := d.submitQueue.PopReady(now)
		if !ok {
			break
		}
		ops = append(ops, op)
	}

	return ops
}

func asBatch(ops []Operation) ([]Batchable, bool) {
	batch := make([]Batchable, 0, len(ops))
	for _, op := range ops {
		b, ok := op.(Batchable)
		if !ok {
			return nil, false
		}
		if _, ok := b.BatchItem(); !ok {
			return nil, false
		}
		batch = append(batch, b)
	}

	return batch, true
}

// apply moves op according to action and persists its status.
func (d *Driver) apply(phase Phase, op Operation, action Action) {
	destination, appContext := Labels(op)
	d.metrics.ObserveResult(destination, appContext, phase, action)

	switch action {
	case ActionDone:
		d.lggr.Infow("Operation delivered", logFields(op)...)
		d.report(op, DispositionDelivered)

		return
	case ActionDrop:
		d.lggr.Infow("Dropping operation", append(logFields(op), "phase", phase.String())...)
		d.report(op, DispositionDropped)

		return
	case ActionPrepare:
		d.persistStatus(op)
		d.push(PhasePrepare, op)
	case ActionSubmit:
		d.persistStatus(op)
		d.push(PhaseSubmit, op)
	case ActionConfirm:
		d.persistStatus(op)
		d.push(PhaseConfirm, op)
	}
}

func (d *Driver) push(phase Phase, op Operation) {
	d.queue(phase).Push(op)
}

func (d *Driver) queue(phase Phase) *Queue {
	switch phase {
	case PhaseSubmit:
		return d.submitQueue
	case PhaseConfirm:
		return d.confirmQueue
	default:
		return d.prepareQueue
	}
}

func (d *Driver) report(op Operation, disposition Disposition) {
	if err := d.reporter.AddReport(NewReport(op, disposition)); err != nil {
		d.lggr.Errorw("Failed to add operation report", append(logFields(op), "error", err)...)
	}
}

// persistStatus writes the status of op to its origin store. A failed write is logged and does
// not block the lifecycle: the status is written again on the next transition.
func (d *Driver) persistStatus(op Operation) {
	store := op.OriginStore()
	if store == nil {
		return
	}

	err := retry.Do(
		func() error {
			return store.StoreStatus(op.ID(), op.Status())
		},
		retry.Attempts(d.persistAttempts),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			d.lggr.Debugw("Failed to persist operation status. Retrying...",
				"id", op.ID().Hex(), "attempt", attempt, "error", err)
		}),
	)
	if err != nil {
		d.lggr.Errorw("Failed to persist operation status", append(logFields(op), "error", err)...)
	}
}
