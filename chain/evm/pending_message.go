package evm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smartcontractkit/chainlink-relayer-framework/domain"
	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

const (
	DefaultSubmitTimeout  = 2 * time.Minute
	DefaultConfirmTimeout = 30 * time.Second
)

// Settings tunes how messages are relayed to a destination.
type Settings struct {
	// MaxGasLimit is the largest gas estimate a message may have to be submitted. Zero means no
	// limit.
	MaxGasLimit uint64
	// MaxRetries is the number of attempts of one preparation after which a message is dropped.
	// Zero means never.
	MaxRetries uint32
	// SubmitTimeout bounds a process transaction submission, DefaultSubmitTimeout when zero.
	SubmitTimeout time.Duration
	// ConfirmTimeout bounds the receipt lookup and delivery check of a confirmation,
	// DefaultConfirmTimeout when zero.
	ConfirmTimeout time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		SubmitTimeout:  DefaultSubmitTimeout,
		ConfirmTimeout: DefaultConfirmTimeout,
	}
}

// MessageContext holds what the messages of one (origin, destination) pair share.
type MessageContext struct {
	Destination domain.Domain
	OriginStore OriginStore
	Mailbox     Mailbox
	Backend     Backend
	Metadata    MetadataBuilders
	// GasPayment is optional, messages are relayed regardless of their payment when it is nil.
	GasPayment GasPaymentEnforcer
	Settings   Settings
}

// PendingMessage is a message waiting to be processed by the mailbox of its destination chain.
type PendingMessage struct {
	id         common.Hash
	message    Message
	mctx       *MessageContext
	appContext string
	lggr       logger.Logger

	status           operations.Status
	attempts         uint32
	nextAttemptAfter time.Time
	scheduled        bool

	// set by Prepare
	metadata []byte
	gasLimit *uint256.Int

	submission         *operations.TxOutcome
	submissionEstimate *uint256.Int
	outcome            *operations.TxOutcome
}

// PendingMessage implements operations.Batchable interface.
var _ operations.Batchable = &PendingMessage{}

// NewPendingMessage creates the operation delivering msg. The status persisted in the origin store,
// if any, is restored so that a restarted relayer resumes where it left off.
func NewPendingMessage(msg Message, mctx *MessageContext, appContext string, lggr logger.Logger) (*PendingMessage, error) {
	p := &PendingMessage{
		id:         msg.ID(),
		message:    msg,
		mctx:       mctx,
		appContext: appContext,
		lggr:       logger.Named(lggr, "PendingMessage"),
	}

	status, ok, err := mctx.OriginStore.RetrieveStatus(p.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load status of message %s: %w", p.id.Hex(), err)
	}
	if ok {
		p.status = status
	}

	return p, nil
}

// Message returns the message being delivered.
func (p *PendingMessage) Message() Message { return p.message }

func (p *PendingMessage) ID() common.Hash                     { return p.id }
func (p *PendingMessage) Priority() uint32                    { return p.message.Nonce }
func (p *PendingMessage) OriginDomainID() uint32              { return p.message.Origin }
func (p *PendingMessage) OriginStore() operations.OriginStore { return p.mctx.OriginStore }
func (p *PendingMessage) DestinationDomain() domain.Domain    { return p.mctx.Destination }
func (p *PendingMessage) AppContext() (string, bool)          { return p.appContext, p.appContext != "" }
func (p *PendingMessage) Status() operations.Status           { return p.status }
func (p *PendingMessage) SetStatus(status operations.Status)  { p.status = status }
func (p *PendingMessage) TxCostEstimate() *uint256.Int        { return p.gasLimit }
func (p *PendingMessage) Attempts() uint32                    { return p.attempts }
func (p *PendingMessage) NextAttemptAfter() (time.Time, bool) { return p.nextAttemptAfter, p.scheduled }

func (p *PendingMessage) SetSubmissionOutcome(outcome operations.TxOutcome) {
	p.submission = &outcome
}

func (p *PendingMessage) SetOperationOutcome(outcome operations.TxOutcome, submissionEstimatedCost *uint256.Int) {
	p.outcome = &outcome
	p.submissionEstimate = submissionEstimatedCost
}

// OperationOutcome returns the final outcome recorded for the message, nil until it is confirmed
// or submitted in a batch.
func (p *PendingMessage) OperationOutcome() *operations.TxOutcome {
	return p.outcome
}

func (p *PendingMessage) SetNextAttemptAfter(delay time.Duration) {
	p.attempts++
	p.nextAttemptAfter, p.scheduled = time.Now().Add(delay), true
}

func (p *PendingMessage) ResetAttempts() {
	p.attempts = 0
	p.nextAttemptAfter, p.scheduled = time.Time{}, false
}

// Prepare checks that the message still has to be delivered, builds its metadata and estimates the
// cost of processing it.
func (p *PendingMessage) Prepare(ctx context.Context) operations.Result {
	settings := p.mctx.Settings
	if settings.MaxRetries > 0 && p.attempts >= settings.MaxRetries {
		p.lggr.Warnw("Message exceeded max retries, dropping", p.logFields("attempts", p.attempts)...)

		return operations.ResultDrop()
	}

	delivered, err := p.mctx.Mailbox.Delivered(ctx, p.ID())
	if err != nil {
		return p.reprepare(operations.ErrorCheckingDeliveryStatus, err)
	}
	if delivered {
		p.lggr.Debugw("Message already delivered", p.logFields()...)

		return operations.ResultConfirm(operations.AlreadySubmitted)
	}

	recipient := p.message.RecipientAddress()
	code, err := p.mctx.Backend.CodeAt(ctx, recipient, nil)
	if err != nil {
		return p.reprepare(operations.ErrorCheckingIfRecipientIsContract, err)
	}
	if len(code) == 0 {
		p.lggr.Infow("Message recipient is not a contract, dropping", p.logFields("recipient", recipient.Hex())...)

		return operations.ResultDrop()
	}

	ism, err := p.mctx.Mailbox.RecipientIsm(ctx, recipient)
	if err != nil {
		return p.reprepare(operations.ErrorFetchingIsmAddress, err)
	}

	builder, err := p.mctx.Metadata.BuilderFor(ctx, ism)
	if err != nil {
		return p.reprepare(operations.ErrorGettingMetadataBuilder, err)
	}
	metadata, err := builder.Build(ctx, ism, p.message)
	if err != nil {
		return p.reprepare(operations.ErrorBuildingMetadata, err)
	}
	if metadata == nil {
		return p.reprepare(operations.CouldNotFetchMetadata, nil)
	}

	estimate, err := p.mctx.Mailbox.ProcessEstimateCosts(ctx, p.message, metadata)
	if err != nil {
		return p.reprepare(operations.ErrorEstimatingGas, err)
	}
	if estimate.GasLimit == nil {
		return p.reprepare(operations.ErrorEstimatingGas, errors.New("estimate has no gas limit"))
	}
	if settings.MaxGasLimit > 0 && estimate.GasLimit.GtUint64(settings.MaxGasLimit) {
		return p.reprepare(operations.ExceedsMaxGasLimit,
			fmt.Errorf("estimated gas %s above %d", estimate.GasLimit, settings.MaxGasLimit))
	}

	if p.mctx.GasPayment != nil {
		ok, err := p.mctx.GasPayment.MeetsRequirement(ctx, p.message, estimate)
		if err != nil {
			return p.reprepare(operations.ErrorCheckingGasRequirement, err)
		}
		if !ok {
			return p.reprepare(operations.GasPaymentRequirementNotMet, nil)
		}
	}

	p.metadata, p.gasLimit = metadata, estimate.GasLimit
	p.submission, p.submissionEstimate, p.outcome = nil, nil, nil

	return operations.ResultSuccess()
}

// Submit sends the process transaction. A failed submission leaves no outcome behind, Confirm
// then finds the message undelivered and sends it back to preparation.
func (p *PendingMessage) Submit(ctx context.Context) {
	if p.metadata == nil || p.gasLimit == nil {
		p.lggr.Warnw("Skipping submission of a message that was not prepared", p.logFields()...)

		return
	}

	ctx, cancel := context.WithTimeout(ctx, cmp.Or(p.mctx.Settings.SubmitTimeout, DefaultSubmitTimeout))
	defer cancel()

	outcome, err := p.mctx.Mailbox.Process(ctx, p.message, p.metadata, p.gasLimit)
	if err != nil {
		p.lggr.Warnw("Failed to submit message", p.logFields("error", err)...)

		return
	}

	p.SetSubmissionOutcome(outcome)
	p.lggr.Infow("Submitted message", p.logFields("txID", outcome.TransactionID.Hex())...)
}

// Confirm looks up the receipt of the process transaction and checks that the message was
// delivered. A transaction that is not mined yet leaves the message NotReady. Delivered messages get their share of the transaction gas recorded in the origin
// store.
func (p *PendingMessage) Confirm(ctx context.Context) operations.Result {
	ctx, cancel := context.WithTimeout(ctx, cmp.Or(p.mctx.Settings.ConfirmTimeout, DefaultConfirmTimeout))
	defer cancel()

	var outcome *operations.TxOutcome
	if p.submission != nil {
		receipt, err := LookupReceipt(ctx, p.mctx.Backend, p.submission.TransactionID)
		if errors.Is(err, ethereum.NotFound) {
			p.lggr.Debugw("Process transaction not mined yet",
				p.logFields("txID", p.submission.TransactionID.Hex())...)

			return operations.ResultNotReady()
		}
		if err != nil {
			p.lggr.Warnw("Failed to get process transaction receipt",
				p.logFields("txID", p.submission.TransactionID.Hex(), "error", err)...)

			return operations.ResultConfirm(operations.ErrorConfirmingDelivery)
		}
		o := operations.TxOutcomeFromReceipt(receipt)
		outcome = &o
	}

	delivered, err := p.mctx.Mailbox.Delivered(ctx, p.ID())
	if err != nil {
		p.lggr.Warnw("Failed to check message delivery", p.logFields("error", err)...)

		return operations.ResultConfirm(operations.ErrorConfirmingDelivery)
	}
	if !delivered {
		return p.reprepare(operations.RevertedOrReorged, nil)
	}

	if err := p.recordProcessed(outcome); err != nil {
		p.lggr.Errorw("Failed to record processed message", p.logFields("error", err)...)

		return operations.ResultConfirm(operations.ErrorRecordingProcessSuccess)
	}

	return operations.ResultSuccess()
}

// BatchItem returns the message with the metadata and gas limit of its last preparation.
func (p *PendingMessage) BatchItem() (operations.BatchItem, bool) {
	if p.metadata == nil || p.gasLimit == nil {
		return operations.BatchItem{}, false
	}

	return operations.BatchItem{
		Message:  p.message.Encode(),
		Metadata: p.metadata,
		GasLimit: p.gasLimit,
	}, true
}

// recordProcessed marks the message processed and stores the gas attributed to it. Messages
// delivered by another relayer have no outcome and no gas recorded.
func (p *PendingMessage) recordProcessed(outcome *operations.TxOutcome) error {
	store := p.mctx.OriginStore
	if outcome != nil {
		txEstimate := p.submissionEstimate
		if txEstimate == nil {
			txEstimate = p.gasLimit
		}
		p.SetOperationOutcome(*outcome, txEstimate)

		gasUsed, err := operations.GasUsedByOperation(*outcome, txEstimate, p.gasLimit)
		if errors.Is(err, operations.ErrDivisionByZero) {
			gasUsed, err = outcome.GasUsed, nil
		}
		if err != nil {
			return err
		}
		if gasUsed != nil {
			if err := store.StoreGasUsed(p.ID(), gasUsed); err != nil {
				return err
			}
		}
	}

	return store.MarkProcessed(p.ID())
}

func (p *PendingMessage) reprepare(reason operations.ReprepareReason, err error) operations.Result {
	fields := p.logFields("reason", reason.String())
	if err != nil {
		fields = append(fields, "error", err)
	}
	p.lggr.Debugw("Message needs to be reprepared", fields...)

	return operations.ResultReprepare(reason)
}

func (p *PendingMessage) logFields(keysAndValues ...any) []any {
	return append([]any{
		"id", p.ID().Hex(),
		"nonce", p.message.Nonce,
		"origin", p.message.Origin,
		"destination", p.mctx.Destination.String(),
	}, keysAndValues...)
}
