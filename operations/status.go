package operations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrStatusDecode is returned when bytes read from a store are not a valid Status encoding.
// It wraps io.ErrUnexpectedEOF so callers treating it as an I/O class failure keep working.
var ErrStatusDecode = fmt.Errorf("failed to decode operation status: %w", io.ErrUnexpectedEOF)

// ErrStatusEncode is returned when a Status carries a reason outside of its closed set.
var ErrStatusEncode = errors.New("failed to encode operation status")

// ReprepareReason explains why an operation has to be prepared again.
type ReprepareReason uint8

const (
	ErrorCheckingDeliveryStatus ReprepareReason = iota + 1
	ErrorCheckingIfRecipientIsContract
	ErrorFetchingIsmAddress
	ErrorGettingMetadataBuilder
	ErrorBuildingMetadata
	CouldNotFetchMetadata
	ErrorEstimatingGas
	ErrorCheckingGasRequirement
	GasPaymentRequirementNotMet
	ExceedsMaxGasLimit
	RevertedOrReorged

	numReprepareReasons
)

// ConfirmReason explains why an operation is waiting for confirmation.
type ConfirmReason uint8

const (
	SubmittedBySelf ConfirmReason = iota + 1
	AlreadySubmitted
	ErrorConfirmingDelivery
	ErrorRecordingProcessSuccess

	numConfirmReasons
)

func _() {
	// An "invalid array index" compiler error signifies that a reason was added or removed.
	// Add its name and text below, then update these checks.
	var x [1]struct{}
	_ = x[numReprepareReasons-12]
	_ = x[numConfirmReasons-5]
}

// reprepareReasonNames are the stable identifiers written to stores. Never rename an entry.
var reprepareReasonNames = [numReprepareReasons]string{
	ErrorCheckingDeliveryStatus:        "ErrorCheckingDeliveryStatus",
	ErrorCheckingIfRecipientIsContract: "ErrorCheckingIfRecipientIsContract",
	ErrorFetchingIsmAddress:            "ErrorFetchingIsmAddress",
	ErrorGettingMetadataBuilder:        "ErrorGettingMetadataBuilder",
	ErrorBuildingMetadata:              "ErrorBuildingMetadata",
	CouldNotFetchMetadata:              "CouldNotFetchMetadata",
	ErrorEstimatingGas:                 "ErrorEstimatingGas",
	ErrorCheckingGasRequirement:        "ErrorCheckingGasRequirement",
	GasPaymentRequirementNotMet:        "GasPaymentRequirementNotMet",
	ExceedsMaxGasLimit:                 "ExceedsMaxGasLimit",
	RevertedOrReorged:                  "RevertedOrReorged",
}

var reprepareReasonTexts = [numReprepareReasons]string{
	ErrorCheckingDeliveryStatus:        "Error checking message delivery status",
	ErrorCheckingIfRecipientIsContract: "Error checking if message recipient is a contract",
	ErrorFetchingIsmAddress:            "Error fetching ISM address",
	ErrorGettingMetadataBuilder:        "Error getting message metadata builder",
	ErrorBuildingMetadata:              "Error building metadata",
	CouldNotFetchMetadata:              "Could not fetch metadata",
	ErrorEstimatingGas:                 "Error estimating costs for process call",
	ErrorCheckingGasRequirement:        "Error checking if message meets gas payment requirement",
	GasPaymentRequirementNotMet:        "Gas payment requirement not met",
	ExceedsMaxGasLimit:                 "Message delivery estimated gas exceeds max gas limit",
	RevertedOrReorged:                  "Delivery transaction reverted or reorged",
}

var confirmReasonNames = [numConfirmReasons]string{
	SubmittedBySelf:              "SubmittedBySelf",
	AlreadySubmitted:             "AlreadySubmitted",
	ErrorConfirmingDelivery:      "ErrorConfirmingDelivery",
	ErrorRecordingProcessSuccess: "ErrorRecordingProcessSuccess",
}

var confirmReasonTexts = [numConfirmReasons]string{
	SubmittedBySelf:              "Submitted by this relayer",
	AlreadySubmitted:             "Already submitted, awaiting confirmation",
	ErrorConfirmingDelivery:      "Error confirming delivery",
	ErrorRecordingProcessSuccess: "Error recording process success",
}

// ReprepareReasons returns every ReprepareReason in declaration order.
func ReprepareReasons() []ReprepareReason {
	reasons := make([]ReprepareReason, 0, numReprepareReasons-1)
	for r := ErrorCheckingDeliveryStatus; r < numReprepareReasons; r++ {
		reasons = append(reasons, r)
	}

	return reasons
}

// ConfirmReasons returns every ConfirmReason in declaration order.
func ConfirmReasons() []ConfirmReason {
	reasons := make([]ConfirmReason, 0, numConfirmReasons-1)
	for r := SubmittedBySelf; r < numConfirmReasons; r++ {
		reasons = append(reasons, r)
	}

	return reasons
}

// Valid reports whether r is one of the declared reasons.
func (r ReprepareReason) Valid() bool {
	return r > 0 && r < numReprepareReasons
}

// Name returns the stable identifier of the reason.
func (r ReprepareReason) Name() string {
	if !r.Valid() {
		return fmt.Sprintf("ReprepareReason(%d)", r)
	}

	return reprepareReasonNames[r]
}

// String returns the human readable explanation of the reason.
func (r ReprepareReason) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ReprepareReason(%d)", r)
	}

	return reprepareReasonTexts[r]
}

// Valid reports whether r is one of the declared reasons.
func (r ConfirmReason) Valid() bool {
	return r > 0 && r < numConfirmReasons
}

// Name returns the stable identifier of the reason.
func (r ConfirmReason) Name() string {
	if !r.Valid() {
		return fmt.Sprintf("ConfirmReason(%d)", r)
	}

	return confirmReasonNames[r]
}

// String returns the human readable explanation of the reason.
func (r ConfirmReason) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ConfirmReason(%d)", r)
	}

	return confirmReasonTexts[r]
}

// StatusKind is the variant of a Status.
type StatusKind uint8

const (
	// FirstPrepareAttempt is the status of an operation that was just created or loaded from a store.
	FirstPrepareAttempt StatusKind = iota
	// Retry is the status of an operation that has to be prepared again.
	Retry
	// ReadyToSubmit is the status of a prepared operation.
	ReadyToSubmit
	// Confirm is the status of an operation awaiting confirmation.
	Confirm
)

func (k StatusKind) String() string {
	switch k {
	case FirstPrepareAttempt:
		return "FirstPrepareAttempt"
	case Retry:
		return "Retry"
	case ReadyToSubmit:
		return "ReadyToSubmit"
	case Confirm:
		return "Confirm"
	default:
		return fmt.Sprintf("StatusKind(%d)", k)
	}
}

// Status explains why an operation is sitting in a queue. Retry and Confirm statuses carry the
// reason that caused them. The zero value is FirstPrepareAttempt.
//
// Status values are comparable with ==.
type Status struct {
	kind      StatusKind
	reprepare ReprepareReason
	confirm   ConfirmReason
}

// StatusFirstPrepareAttempt returns the initial status.
func StatusFirstPrepareAttempt() Status { return Status{kind: FirstPrepareAttempt} }

// StatusRetry returns a Retry status with the given reason.
func StatusRetry(reason ReprepareReason) Status { return Status{kind: Retry, reprepare: reason} }

// StatusReadyToSubmit returns the ReadyToSubmit status.
func StatusReadyToSubmit() Status { return Status{kind: ReadyToSubmit} }

// StatusConfirm returns a Confirm status with the given reason.
func StatusConfirm(reason ConfirmReason) Status { return Status{kind: Confirm, confirm: reason} }

// Kind returns the variant of the status.
func (s Status) Kind() StatusKind { return s.kind }

// ReprepareReason returns the reason of a Retry status.
func (s Status) ReprepareReason() (ReprepareReason, bool) {
	return s.reprepare, s.kind == Retry
}

// ConfirmReason returns the reason of a Confirm status.
func (s Status) ConfirmReason() (ConfirmReason, bool) {
	return s.confirm, s.kind == Confirm
}

// String renders the status for logs and metrics, e.g. "Retry(Error building metadata)".
func (s Status) String() string {
	switch s.kind {
	case Retry:
		return fmt.Sprintf("Retry(%s)", s.reprepare)
	case Confirm:
		return fmt.Sprintf("Confirm(%s)", s.confirm)
	default:
		return s.kind.String()
	}
}

func (s Status) validate() error {
	switch s.kind {
	case FirstPrepareAttempt, ReadyToSubmit:
		return nil
	case Retry:
		if !s.reprepare.Valid() {
			return fmt.Errorf("%w: invalid reprepare reason %d", ErrStatusEncode, s.reprepare)
		}

		return nil
	case Confirm:
		if !s.confirm.Valid() {
			return fmt.Errorf("%w: invalid confirm reason %d", ErrStatusEncode, s.confirm)
		}

		return nil
	default:
		return fmt.Errorf("%w: invalid kind %d", ErrStatusEncode, s.kind)
	}
}

// Encode returns the store representation of the status. Unit variants are encoded as a JSON
// string, variants with a reason as a single key JSON object:
//
//	"FirstPrepareAttempt"
//	"ReadyToSubmit"
//	{"Retry":"ErrorEstimatingGas"}
//	{"Confirm":"SubmittedBySelf"}
func (s Status) Encode() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	switch s.kind {
	case Retry:
		return fmt.Appendf(nil, `{"%s":"%s"}`, Retry, s.reprepare.Name()), nil
	case Confirm:
		return fmt.Appendf(nil, `{"%s":"%s"}`, Confirm, s.confirm.Name()), nil
	default:
		return fmt.Appendf(nil, `"%s"`, s.kind), nil
	}
}

// DecodeStatus parses bytes produced by Status.Encode. It never falls back to a default variant:
// anything outside the closed set of encodings fails with ErrStatusDecode.
func DecodeStatus(data []byte) (Status, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Status{}, fmt.Errorf("%w: empty input", ErrStatusDecode)
	}

	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return Status{}, fmt.Errorf("%w: %w", ErrStatusDecode, err)
		}
		switch name {
		case FirstPrepareAttempt.String():
			return StatusFirstPrepareAttempt(), nil
		case ReadyToSubmit.String():
			return StatusReadyToSubmit(), nil
		default:
			return Status{}, fmt.Errorf("%w: unknown variant %q", ErrStatusDecode, name)
		}
	}

	var tagged map[string]string
	if err := json.Unmarshal(data, &tagged); err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrStatusDecode, err)
	}
	if len(tagged) != 1 {
		return Status{}, fmt.Errorf("%w: expected exactly one variant, got %d", ErrStatusDecode, len(tagged))
	}

	for variant, reason := range tagged {
		switch variant {
		case Retry.String():
			for _, r := range ReprepareReasons() {
				if r.Name() == reason {
					return StatusRetry(r), nil
				}
			}

			return Status{}, fmt.Errorf("%w: unknown reprepare reason %q", ErrStatusDecode, reason)
		case Confirm.String():
			for _, r := range ConfirmReasons() {
				if r.Name() == reason {
					return StatusConfirm(r), nil
				}
			}

			return Status{}, fmt.Errorf("%w: unknown confirm reason %q", ErrStatusDecode, reason)
		default:
			return Status{}, fmt.Errorf("%w: unknown variant %q", ErrStatusDecode, variant)
		}
	}

	// unreachable, the map holds exactly one entry
	return Status{}, ErrStatusDecode
}

// MarshalJSON implements json.Marshaler using Encode.
func (s Status) MarshalJSON() ([]byte, error) {
	return s.Encode()
}

// UnmarshalJSON implements json.Unmarshaler using DecodeStatus.
func (s *Status) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeStatus(data)
	if err != nil {
		return err
	}
	*s = decoded

	return nil
}
