package operations_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations/optest"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

func withEstimate(op *optest.Operation, estimate uint64) *optest.Operation {
	op.Estimate = uint256.NewInt(estimate)

	return op
}

func TestTotalEstimatedCost(t *testing.T) {
	t.Parallel()

	ops := []operations.Operation{
		withEstimate(optest.NewOperation(1, 1, 0), 100),
		withEstimate(optest.NewOperation(2, 1, 1), 250),
		withEstimate(optest.NewOperation(3, 2, 0), 0),
	}

	assert.Equal(t, uint256.NewInt(350), operations.TotalEstimatedCost(logger.Nop(), ops))
	assert.True(t, operations.TotalEstimatedCost(logger.Nop(), nil).IsZero())
}

func TestTotalEstimatedCost_MissingEstimate(t *testing.T) {
	t.Parallel()

	lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
	missing := optest.NewOperation(2, 1, 1)
	ops := []operations.Operation{
		withEstimate(optest.NewOperation(1, 1, 0), 100),
		missing,
	}

	assert.Equal(t, uint256.NewInt(100), operations.TotalEstimatedCost(lggr, ops))

	entries := logs.FilterMessage("No cost estimate available for operation, defaulting to 0").All()
	require.Len(t, entries, 1)
	assert.Equal(t, operations.Describe(missing), entries[0].ContextMap()["operation"])
}

func TestTotalEstimatedCost_Saturates(t *testing.T) {
	t.Parallel()

	maxOp := optest.NewOperation(1, 1, 0)
	maxOp.Estimate = new(uint256.Int).SetAllOne()
	ops := []operations.Operation{maxOp, withEstimate(optest.NewOperation(2, 1, 1), 1)}

	assert.Equal(t, new(uint256.Int).SetAllOne(), operations.TotalEstimatedCost(logger.Nop(), ops))
}

func TestGasUsedByOperation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		gasUsed    uint64
		txEstimate uint64
		opEstimate uint64
		want       uint64
		wantErr    error
	}{
		{name: "single operation", gasUsed: 80_000, txEstimate: 100_000, opEstimate: 100_000, want: 80_000},
		{name: "half of the batch", gasUsed: 80_000, txEstimate: 200_000, opEstimate: 100_000, want: 40_000},
		{name: "truncated", gasUsed: 10, txEstimate: 3, opEstimate: 1, want: 3},
		{name: "zero operation estimate", gasUsed: 10, txEstimate: 3, opEstimate: 0, want: 0},
		{name: "nothing used", gasUsed: 0, txEstimate: 3, opEstimate: 2, want: 0},
		{name: "operation estimate above tx estimate", gasUsed: 100, txEstimate: 10, opEstimate: 20, want: 200},
		{name: "zero tx estimate", gasUsed: 100, txEstimate: 0, opEstimate: 0, wantErr: operations.ErrDivisionByZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			outcome := operations.TxOutcome{GasUsed: uint256.NewInt(tt.gasUsed)}
			got, err := operations.GasUsedByOperation(outcome, uint256.NewInt(tt.txEstimate), uint256.NewInt(tt.opEstimate))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint256.NewInt(tt.want), got)
		})
	}
}

func TestGasUsedByOperation_NilEstimates(t *testing.T) {
	t.Parallel()

	outcome := operations.TxOutcome{GasUsed: uint256.NewInt(100)}

	_, err := operations.GasUsedByOperation(outcome, nil, uint256.NewInt(1))
	require.ErrorIs(t, err, operations.ErrDivisionByZero)

	got, err := operations.GasUsedByOperation(outcome, uint256.NewInt(10), nil)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestGasUsedByOperation_Overflow(t *testing.T) {
	t.Parallel()

	outcome := operations.TxOutcome{GasUsed: new(uint256.Int).SetAllOne()}

	_, err := operations.GasUsedByOperation(outcome, uint256.NewInt(1), uint256.NewInt(2))
	require.ErrorIs(t, err, operations.ErrGasOverflow)
}

func TestGasUsedByOperation_BatchAddsUp(t *testing.T) {
	t.Parallel()

	estimates := []uint64{21_000, 55_000, 130_000}
	ops := make([]operations.Operation, 0, len(estimates))
	for i, e := range estimates {
		ops = append(ops, withEstimate(optest.NewOperation(byte(i+1), 1, uint32(i)), e))
	}
	total := operations.TotalEstimatedCost(logger.Nop(), ops)
	outcome := operations.TxOutcome{GasUsed: uint256.NewInt(150_000)}

	sum := new(uint256.Int)
	for _, op := range ops {
		used, err := operations.GasUsedByOperation(outcome, total, op.TxCostEstimate())
		require.NoError(t, err)
		sum.Add(sum, used)
	}

	// truncation loses less than one unit per operation
	assert.LessOrEqual(t, sum.Uint64(), uint64(150_000))
	assert.GreaterOrEqual(t, sum.Uint64(), uint64(150_000-len(ops)))
}

func TestTxOutcomeFromReceipt(t *testing.T) {
	t.Parallel()

	receipt := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            common.HexToHash("0x01"),
		GasUsed:           42_000,
		EffectiveGasPrice: big.NewInt(3_000_000_000),
	}

	outcome := operations.TxOutcomeFromReceipt(receipt)
	assert.Equal(t, receipt.TxHash, outcome.TransactionID)
	assert.True(t, outcome.Executed)
	assert.Equal(t, uint256.NewInt(42_000), outcome.GasUsed)
	assert.True(t, decimal.NewFromInt(3_000_000_000).Equal(outcome.GasPrice))

	receipt.Status = types.ReceiptStatusFailed
	receipt.EffectiveGasPrice = nil
	outcome = operations.TxOutcomeFromReceipt(receipt)
	assert.False(t, outcome.Executed)
	assert.True(t, outcome.GasPrice.IsZero())
}
