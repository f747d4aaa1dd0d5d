package evm

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LookupReceipt asks b once for the receipt of txHash. A transaction that is not mined yet
// returns ethereum.NotFound, also from clients that answer an unknown transaction with a nil
// receipt.
func LookupReceipt(ctx context.Context, b bind.DeployBackend, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := b.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ethereum.NotFound
	}

	return receipt, nil
}
