package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
)

// fakeBackend serves contract code and receipts from maps.
type fakeBackend struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	codeErr  error
	receipts map[common.Hash]*types.Receipt
	calls    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		code:     map[common.Address][]byte{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return receipt, nil
}

func (b *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.codeErr != nil {
		return nil, b.codeErr
	}

	return b.code[account], nil
}

func (b *fakeBackend) receiptCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

func (b *fakeBackend) mine(txHash common.Hash, gasUsed uint64, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receipts[txHash] = &types.Receipt{
		Status:            status,
		TxHash:            txHash,
		GasUsed:           gasUsed,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		BlockNumber:       big.NewInt(1),
	}
}

// fakeMailbox records deliveries. Process and ProcessBatch deliver the messages they carry unless
// revert is set, and mine a receipt on the backend unless unmined is set.
type fakeMailbox struct {
	backend *fakeBackend

	delivered    map[common.Hash]bool
	deliveredErr error
	ismErr       error
	estimate     map[common.Hash]uint64
	estimateErr  error
	processErr   error
	revert       bool
	unmined      bool
	gasUsed      uint64
	txCount      int
	processed    [][]operations.BatchItem
}

func newFakeMailbox(backend *fakeBackend) *fakeMailbox {
	return &fakeMailbox{
		backend:   backend,
		delivered: map[common.Hash]bool{},
		estimate:  map[common.Hash]uint64{},
		gasUsed:   90_000,
	}
}

func (m *fakeMailbox) Delivered(_ context.Context, id common.Hash) (bool, error) {
	return m.delivered[id], m.deliveredErr
}

func (m *fakeMailbox) RecipientIsm(context.Context, common.Address) (common.Address, error) {
	return common.HexToAddress("0x1500"), m.ismErr
}

func (m *fakeMailbox) ProcessEstimateCosts(_ context.Context, msg Message, _ []byte) (TxCostEstimate, error) {
	if m.estimateErr != nil {
		return TxCostEstimate{}, m.estimateErr
	}
	gas, ok := m.estimate[msg.ID()]
	if !ok {
		gas = 50_000
	}

	return TxCostEstimate{GasLimit: uint256.NewInt(gas), GasPrice: decimal.NewFromInt(1)}, nil
}

func (m *fakeMailbox) Process(ctx context.Context, msg Message, metadata []byte, gasLimit *uint256.Int) (operations.TxOutcome, error) {
	return m.ProcessBatch(ctx, []operations.BatchItem{{Message: msg.Encode(), Metadata: metadata, GasLimit: gasLimit}})
}

func (m *fakeMailbox) ProcessBatch(_ context.Context, items []operations.BatchItem) (operations.TxOutcome, error) {
	if m.processErr != nil {
		return operations.TxOutcome{}, m.processErr
	}

	m.txCount++
	m.processed = append(m.processed, items)
	txHash := common.BigToHash(big.NewInt(int64(m.txCount)))

	status := types.ReceiptStatusSuccessful
	if m.revert {
		status = types.ReceiptStatusFailed
	} else {
		for _, item := range items {
			msg, err := DecodeMessage(item.Message)
			if err != nil {
				return operations.TxOutcome{}, err
			}
			m.delivered[msg.ID()] = true
		}
	}
	if !m.unmined {
		m.backend.mine(txHash, m.gasUsed, status)
	}

	return operations.TxOutcome{TransactionID: txHash, Executed: !m.revert}, nil
}

type fakeMetadataBuilders struct {
	builderErr error
	buildErr   error
	metadata   []byte
}

func (f *fakeMetadataBuilders) BuilderFor(context.Context, common.Address) (MetadataBuilder, error) {
	if f.builderErr != nil {
		return nil, f.builderErr
	}

	return f, nil
}

func (f *fakeMetadataBuilders) Build(context.Context, common.Address, Message) ([]byte, error) {
	return f.metadata, f.buildErr
}

type fakeGasPayment struct {
	ok  bool
	err error
}

func (f fakeGasPayment) MeetsRequirement(context.Context, Message, TxCostEstimate) (bool, error) {
	return f.ok, f.err
}

// failingStore wraps an OriginStore and fails to record processed messages.
type failingStore struct {
	OriginStore
}

func (failingStore) MarkProcessed(common.Hash) error {
	return errors.New("disk full")
}
