package operations

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

var (
	// ErrDivisionByZero is returned when gas is attributed against a zero transaction estimate.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrGasOverflow is returned when an attributed amount does not fit in 256 bits.
	ErrGasOverflow = errors.New("gas amount overflows 256 bits")
)

// TxOutcome is the realized result of a submitted transaction.
type TxOutcome struct {
	// TransactionID is the hash of the transaction.
	TransactionID common.Hash
	// Executed is true if the transaction was included and did not revert.
	Executed bool
	// GasUsed is the gas consumed by the whole transaction.
	GasUsed *uint256.Int
	// GasPrice is the effective price paid per unit of gas.
	GasPrice decimal.Decimal
}

// TxOutcomeFromReceipt builds a TxOutcome from a transaction receipt.
func TxOutcomeFromReceipt(receipt *types.Receipt) TxOutcome {
	outcome := TxOutcome{
		TransactionID: receipt.TxHash,
		Executed:      receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:       uint256.NewInt(receipt.GasUsed),
		GasPrice:      decimal.Zero,
	}
	if receipt.EffectiveGasPrice != nil {
		outcome.GasPrice = decimal.NewFromBigInt(receipt.EffectiveGasPrice, 0)
	}

	return outcome
}

// TotalEstimatedCost sums the cost estimates of a batch of operations. The sum saturates instead
// of overflowing. Operations without an estimate count as zero and are reported with a warning.
func TotalEstimatedCost(lggr logger.Logger, ops []Operation) *uint256.Int {
	total := new(uint256.Int)
	for _, op := range ops {
		estimate := op.TxCostEstimate()
		if estimate == nil {
			lggr.Warnw("No cost estimate available for operation, defaulting to 0",
				"operation", Describe(op))

			continue
		}
		if _, overflow := total.AddOverflow(total, estimate); overflow {
			total.SetAllOne()
		}
	}

	return total
}

// GasUsedByOperation attributes part of the gas used by a transaction to one of the operations it
// carried, in proportion to the operation's share of the transaction's estimated cost:
//
//	gasUsedByOperation = gasUsedByTx * operationEstimatedCost / txEstimatedCost
//
// The computation is done in fixed point decimals and the result truncated to an integer. For a
// transaction carrying a single operation pass the same value for both estimates, which yields
// the gas used by the transaction.
func GasUsedByOperation(
	outcome TxOutcome, txEstimatedCost *uint256.Int, operationEstimatedCost *uint256.Int,
) (*uint256.Int, error) {
	if txEstimatedCost == nil || txEstimatedCost.IsZero() {
		return nil, ErrDivisionByZero
	}

	gasUsedByTx := toDecimal(outcome.GasUsed)
	operationEstimate := toDecimal(operationEstimatedCost)
	txEstimate := toDecimal(txEstimatedCost)

	quotient, _ := gasUsedByTx.Mul(operationEstimate).QuoRem(txEstimate, 0)

	gasUsed, overflow := uint256.FromBig(quotient.BigInt())
	if overflow {
		return nil, fmt.Errorf("gas used by operation %s: %w", quotient, ErrGasOverflow)
	}

	return gasUsed, nil
}

func toDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(v.ToBig(), 0)
}
