package operations_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-relayer-framework/domain"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations/optest"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
	"github.com/smartcontractkit/chainlink-relayer-framework/store"
)

// recordingStore is an OriginStore keeping every status written to it.
type recordingStore struct {
	mu      sync.Mutex
	err     error
	writes  int
	history map[common.Hash][]operations.Status
}

func newRecordingStore() *recordingStore {
	return &recordingStore{history: map[common.Hash][]operations.Status{}}
}

func (s *recordingStore) StoreStatus(id common.Hash, status operations.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.err != nil {
		return s.err
	}
	s.history[id] = append(s.history[id], status)

	return nil
}

func (s *recordingStore) RetrieveStatus(id common.Hash) (operations.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[id]
	if len(h) == 0 {
		return operations.Status{}, false, nil
	}

	return h[len(h)-1], true, nil
}

func (s *recordingStore) History(id common.Hash) []operations.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]operations.Status{}, s.history[id]...)
}

func stepN(ctx context.Context, d *operations.Driver, n int) {
	for range n {
		d.Step(ctx)
	}
}

func prepareN(ctx context.Context, d *operations.Driver, n int) {
	for range n {
		d.ProcessPrepare(ctx)
	}
}

func TestDriver_HappyPath(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	originStore := newRecordingStore()
	op := optest.NewOperation(1, 1, 0)
	op.Store = originStore

	d := optest.NewDriver(t)
	require.NoError(t, d.Enqueue(op))
	assert.Equal(t, 1, d.QueueLength(operations.PhasePrepare))

	assert.Equal(t, 1, d.Step(ctx))
	assert.Equal(t, 1, d.QueueLength(operations.PhaseSubmit))
	assert.Equal(t, 1, d.Step(ctx))
	assert.Equal(t, 1, d.QueueLength(operations.PhaseConfirm))
	assert.Equal(t, 1, d.Step(ctx))
	assert.Equal(t, 0, d.Step(ctx))

	assert.Equal(t, []string{"prepare", "submit", "confirm"}, op.Calls())
	assert.Equal(t, []operations.Status{
		operations.StatusReadyToSubmit(),
		operations.StatusConfirm(operations.SubmittedBySelf),
	}, originStore.History(op.ID()))

	for _, phase := range []operations.Phase{operations.PhasePrepare, operations.PhaseSubmit, operations.PhaseConfirm} {
		assert.Zero(t, d.QueueLength(phase))
	}

	report, err := d.Reporter().GetOperationReport(op.ID())
	require.NoError(t, err)
	assert.Equal(t, operations.DispositionDelivered, report.Disposition)
	assert.Equal(t, operations.StatusConfirm(operations.SubmittedBySelf), report.Status)
	assert.Equal(t, optest.DefaultDestination.String(), report.Destination)
	assert.Equal(t, operations.UnknownAppContext, report.AppContext)
}

func TestDriver_ReprepareLoop(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	originStore := newRecordingStore()
	op := optest.NewOperation(1, 1, 0).WithPrepareResults(
		operations.ResultReprepare(operations.ErrorEstimatingGas),
		operations.ResultNotReady(),
	).WithConfirmResults(
		operations.ResultReprepare(operations.RevertedOrReorged),
	)
	op.Store = originStore

	d := optest.NewDriver(t)
	require.NoError(t, d.Enqueue(op))

	stepN(ctx, d, 10)

	assert.Equal(t, []string{
		"prepare", "prepare", "prepare", "submit", "confirm",
		"prepare", "submit", "confirm",
	}, op.Calls())
	assert.Equal(t, []operations.Status{
		operations.StatusRetry(operations.ErrorEstimatingGas),
		operations.StatusRetry(operations.ErrorEstimatingGas),
		operations.StatusReadyToSubmit(),
		operations.StatusConfirm(operations.SubmittedBySelf),
		operations.StatusRetry(operations.RevertedOrReorged),
		operations.StatusReadyToSubmit(),
		operations.StatusConfirm(operations.SubmittedBySelf),
	}, originStore.History(op.ID()))
	assert.Zero(t, op.Attempts())

	report, err := d.Reporter().GetOperationReport(op.ID())
	require.NoError(t, err)
	assert.Equal(t, operations.DispositionDelivered, report.Disposition)
}

func TestDriver_AlreadySubmitted(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	op := optest.NewOperation(1, 1, 0).WithPrepareResults(
		operations.ResultConfirm(operations.AlreadySubmitted),
	)

	d := optest.NewDriver(t)
	require.NoError(t, d.Enqueue(op))
	stepN(ctx, d, 3)

	assert.Equal(t, []string{"prepare", "confirm"}, op.Calls())
	assert.Nil(t, op.SubmissionOutcome())
	assert.Equal(t, operations.StatusConfirm(operations.AlreadySubmitted), op.Status())
}

func TestDriver_Drop(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	lggr, logs := logger.TestObserved(t, zapcore.InfoLevel)
	op := optest.NewOperation(1, 1, 0).WithPrepareResults(operations.ResultDrop())
	op.App = "warp-route"

	d := operations.NewDriver(optest.DefaultDestination, lggr, operations.WithBackoff(operations.BackoffPolicy{}))
	require.NoError(t, d.Enqueue(op))
	stepN(ctx, d, 3)

	assert.Equal(t, []string{"prepare"}, op.Calls())

	report, err := d.Reporter().GetOperationReport(op.ID())
	require.NoError(t, err)
	assert.Equal(t, operations.DispositionDropped, report.Disposition)
	assert.Equal(t, "warp-route", report.AppContext)

	entries := logs.FilterMessage("Dropping operation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, op.ID().Hex(), entries[0].ContextMap()["id"])
	assert.Equal(t, "prepare", entries[0].ContextMap()["phase"])
}

func TestDriver_Enqueue(t *testing.T) {
	t.Parallel()

	d := optest.NewDriver(t)

	wrong := optest.NewOperation(1, 1, 0)
	wrong.Destination = domain.New(1, "ethereum")
	require.ErrorIs(t, d.Enqueue(wrong), operations.ErrWrongDestination)

	tests := []struct {
		status operations.Status
		phase  operations.Phase
	}{
		{status: operations.StatusFirstPrepareAttempt(), phase: operations.PhasePrepare},
		{status: operations.StatusRetry(operations.ErrorBuildingMetadata), phase: operations.PhasePrepare},
		{status: operations.StatusReadyToSubmit(), phase: operations.PhasePrepare},
		{status: operations.StatusConfirm(operations.SubmittedBySelf), phase: operations.PhaseConfirm},
	}

	for i, tt := range tests {
		op := optest.NewOperation(byte(i+2), 1, 0)
		op.SetStatus(tt.status)
		require.NoError(t, d.Enqueue(op))

		snapshot := d.Snapshot(tt.phase)
		require.NotEmpty(t, snapshot)
		assert.Contains(t, snapshot, operations.Operation(op), "status %s", tt.status)
	}
}

func TestDriver_ResumeFromStore(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	originStore, err := store.New("ethereum", store.NewMemoryDB())
	require.NoError(t, err)

	op := optest.NewOperation(1, 1, 0)
	require.NoError(t, originStore.StoreStatus(op.ID(), operations.StatusReadyToSubmit()))

	// a restarted relayer loads the operation with its persisted status
	status, ok, err := originStore.RetrieveStatus(op.ID())
	require.NoError(t, err)
	require.True(t, ok)
	op.SetStatus(status)
	op.Store = originStore

	d := optest.NewDriver(t)
	require.NoError(t, d.Enqueue(op))
	assert.Equal(t, 1, d.QueueLength(operations.PhasePrepare))
	stepN(ctx, d, 3)

	// the prepared data is not persisted, so the operation is prepared again before submission
	assert.Equal(t, []string{"prepare", "submit", "confirm"}, op.Calls())

	status, ok, err = originStore.RetrieveStatus(op.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, operations.StatusConfirm(operations.SubmittedBySelf), status)
}

func TestDriver_RetryNow(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	op := optest.NewOperation(1, 1, 0).WithPrepareResults(operations.ResultNotReady())

	d := optest.NewDriver(t, operations.WithBackoff(operations.BackoffPolicy{Base: time.Hour, Max: time.Hour}))
	require.NoError(t, d.Enqueue(op))

	assert.Equal(t, 1, d.Step(ctx))
	assert.Equal(t, 0, d.Step(ctx), "operation is backed off")
	assert.Equal(t, uint32(1), op.Attempts())

	assert.True(t, d.RetryNow(op.ID()))
	assert.False(t, d.RetryNow(common.HexToHash("0xdead")))
	assert.Zero(t, op.Attempts())

	assert.Equal(t, 1, d.Step(ctx))
	assert.Equal(t, []string{"prepare", "prepare"}, op.Calls())
	assert.Equal(t, 1, d.QueueLength(operations.PhaseSubmit))
}

func TestDriver_WithClock(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	op := optest.NewOperation(1, 1, 0).WithPrepareResults(operations.ResultNotReady())

	now := time.Now()
	d := optest.NewDriver(t,
		operations.WithBackoff(operations.BackoffPolicy{Base: time.Minute, Max: time.Hour}),
		operations.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, d.Enqueue(op))

	assert.Equal(t, 1, d.Step(ctx))
	assert.Equal(t, 0, d.Step(ctx))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, d.Step(ctx))
}

func TestDriver_SubmitOrderAfterBackoff(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	first := optest.NewOperation(1, 1, 1).WithPrepareResults(operations.ResultNotReady())
	second := optest.NewOperation(2, 1, 2)

	d := optest.NewDriver(t)
	require.NoError(t, d.Enqueue(first))
	require.NoError(t, d.Enqueue(second))

	// first backs off once, second is prepared in the meantime
	prepareN(ctx, d, 3)
	assert.Equal(t, []string{"prepare", "prepare"}, first.Calls())
	assert.Equal(t, []string{"prepare"}, second.Calls())

	assert.Equal(t, []operations.Operation{first, second}, d.Snapshot(operations.PhaseSubmit))

	d.ProcessSubmit(ctx)
	assert.Equal(t, []string{"prepare", "prepare", "submit"}, first.Calls())
	assert.Equal(t, []string{"prepare"}, second.Calls())
}

func TestDriver_Priority(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := optest.NewDriver(t)

	late := optest.NewOperation(1, 1, 7)
	early := optest.NewOperation(2, 1, 3)
	require.NoError(t, d.Enqueue(late))
	require.NoError(t, d.Enqueue(early))

	d.ProcessPrepare(ctx)
	assert.Equal(t, []string{"prepare"}, early.Calls())
	assert.Empty(t, late.Calls())
}

func TestDriver_PersistFailure(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	lggr, logs := logger.TestObserved(t, zapcore.ErrorLevel)
	originStore := newRecordingStore()
	originStore.err = errors.New("disk full")
	op := optest.NewOperation(1, 1, 0)
	op.Store = originStore

	d := operations.NewDriver(optest.DefaultDestination, lggr,
		operations.WithBackoff(operations.BackoffPolicy{}),
		operations.WithPersistAttempts(2),
	)
	require.NoError(t, d.Enqueue(op))
	stepN(ctx, d, 3)

	// the lifecycle is not blocked by the store
	assert.Equal(t, []string{"prepare", "submit", "confirm"}, op.Calls())
	assert.Equal(t, 4, originStore.writes)
	assert.Len(t, logs.FilterMessage("Failed to persist operation status").All(), 2)
}

type fakeBatchSubmitter struct {
	err     error
	outcome operations.TxOutcome
	batches [][]operations.BatchItem
}

func (s *fakeBatchSubmitter) SubmitBatch(_ context.Context, items []operations.BatchItem) (operations.TxOutcome, error) {
	s.batches = append(s.batches, items)

	return s.outcome, s.err
}

func batchableOperation(id byte, estimate uint64) *optest.Operation {
	op := optest.NewOperation(id, 1, uint32(id))
	op.Estimate = uint256.NewInt(estimate)
	op.Item = &operations.BatchItem{
		Message:  []byte{id},
		Metadata: []byte{0xff, id},
		GasLimit: uint256.NewInt(estimate),
	}

	return op
}

func TestDriver_BatchSubmit(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	submitter := &fakeBatchSubmitter{
		outcome: operations.TxOutcome{
			TransactionID: common.HexToHash("0xabc"),
			Executed:      true,
			GasUsed:       uint256.NewInt(90_000),
		},
	}
	ops := []*optest.Operation{
		batchableOperation(1, 10_000),
		batchableOperation(2, 20_000),
		batchableOperation(3, 30_000),
	}

	d := optest.NewDriver(t, operations.WithBatchSubmitter(submitter, 2))
	for _, op := range ops {
		require.NoError(t, d.Enqueue(op))
	}
	prepareN(ctx, d, len(ops))

	assert.Equal(t, 2, d.ProcessSubmit(ctx))
	require.Len(t, submitter.batches, 1)
	assert.Equal(t, []byte{1}, submitter.batches[0][0].Message)
	assert.Equal(t, []byte{2}, submitter.batches[0][1].Message)

	for _, op := range ops[:2] {
		assert.Equal(t, []string{"prepare"}, op.Calls(), "batched operations are not submitted individually")
		assert.Equal(t, operations.StatusConfirm(operations.SubmittedBySelf), op.Status())
		require.NotNil(t, op.SubmissionOutcome())
		assert.Equal(t, submitter.outcome.TransactionID, op.SubmissionOutcome().TransactionID)

		outcome, total := op.OperationOutcome()
		require.NotNil(t, outcome)
		assert.Equal(t, uint256.NewInt(30_000), total)

		used, err := operations.GasUsedByOperation(*outcome, total, op.TxCostEstimate())
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(90_000*op.Estimate.Uint64()/30_000), used)
	}
	assert.Equal(t, 2, d.QueueLength(operations.PhaseConfirm))

	// a lone operation is submitted on its own
	assert.Equal(t, 1, d.ProcessSubmit(ctx))
	assert.Len(t, submitter.batches, 1)
	assert.Equal(t, []string{"prepare", "submit"}, ops[2].Calls())
}

func TestDriver_BatchSubmitFallback(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	submitter := &fakeBatchSubmitter{err: errors.New("batch reverted in simulation")}
	ops := []*optest.Operation{batchableOperation(1, 10_000), batchableOperation(2, 20_000)}

	d := optest.NewDriver(t, operations.WithBatchSubmitter(submitter, 10))
	for _, op := range ops {
		require.NoError(t, d.Enqueue(op))
	}
	prepareN(ctx, d, len(ops))

	assert.Equal(t, 2, d.ProcessSubmit(ctx))
	require.Len(t, submitter.batches, 1)
	for _, op := range ops {
		assert.Equal(t, []string{"prepare", "submit"}, op.Calls())
		assert.Equal(t, operations.StatusConfirm(operations.SubmittedBySelf), op.Status())
	}
}

func TestDriver_BatchSkipsUnbatchable(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	submitter := &fakeBatchSubmitter{}
	batchable := batchableOperation(1, 10_000)
	plain := optest.NewOperation(2, 1, 5)

	d := optest.NewDriver(t, operations.WithBatchSubmitter(submitter, 10))
	require.NoError(t, d.Enqueue(batchable))
	require.NoError(t, d.Enqueue(plain))
	prepareN(ctx, d, 2)

	assert.Equal(t, 2, d.ProcessSubmit(ctx))
	assert.Empty(t, submitter.batches)
	assert.Equal(t, []string{"prepare", "submit"}, batchable.Calls())
	assert.Equal(t, []string{"prepare", "submit"}, plain.Calls())
}

type observation struct {
	phase  operations.Phase
	action operations.Action
}

type fakeMetrics struct {
	mu           sync.Mutex
	observations []observation
	lengths      map[operations.Phase]int
}

func (m *fakeMetrics) ObserveResult(_, _ string, phase operations.Phase, action operations.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observations = append(m.observations, observation{phase: phase, action: action})
}

func (m *fakeMetrics) SetQueueLength(_ string, phase operations.Phase, length int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lengths[phase] = length
}

func TestDriver_Metrics(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	metrics := &fakeMetrics{lengths: map[operations.Phase]int{}}
	op := optest.NewOperation(1, 1, 0)
	queued := optest.NewOperation(2, 1, 1).ScheduleAt(time.Now().Add(time.Hour))

	d := optest.NewDriver(t, operations.WithMetrics(metrics))
	require.NoError(t, d.Enqueue(op))
	require.NoError(t, d.Enqueue(queued))
	stepN(ctx, d, 3)

	assert.Equal(t, []observation{
		{phase: operations.PhasePrepare, action: operations.ActionSubmit},
		{phase: operations.PhaseSubmit, action: operations.ActionConfirm},
		{phase: operations.PhaseConfirm, action: operations.ActionDone},
	}, metrics.observations)
	assert.Equal(t, map[operations.Phase]int{
		operations.PhasePrepare: 1,
		operations.PhaseSubmit:  0,
		operations.PhaseConfirm: 0,
	}, metrics.lengths)
}

func TestDriver_Run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	op := optest.NewOperation(1, 1, 0)
	d := optest.NewDriver(t, operations.WithPollInterval(5*time.Millisecond))

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx)
	}()

	require.NoError(t, d.Enqueue(op))
	require.Eventually(t, func() bool {
		_, err := d.Reporter().GetOperationReport(op.ID())
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestLabelsAndDescribe(t *testing.T) {
	t.Parallel()

	op := optest.NewOperation(1, 7, 3)

	destination, appContext := operations.Labels(op)
	assert.Equal(t, "optimism", destination)
	assert.Equal(t, operations.UnknownAppContext, appContext)

	op.App = "warp-route"
	_, appContext = operations.Labels(op)
	assert.Equal(t, "warp-route", appContext)

	assert.Equal(t,
		"QueueOperation(id: "+op.ID().Hex()+", origin: 7, destination: optimism, priority: 3)",
		operations.Describe(op),
	)
}
