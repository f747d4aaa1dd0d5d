package operations

import "fmt"

// ResultKind is the variant of a Result.
type ResultKind uint8

const (
	// Success promotes the operation to its next phase.
	Success ResultKind = iota
	// NotReady leaves the operation in its phase until a later attempt.
	NotReady
	// Reprepare restarts the lifecycle from the prepare phase.
	Reprepare
	// Drop removes the operation for good.
	Drop
	// ConfirmNow sends the operation straight to the confirm phase.
	ConfirmNow
)

// Result is the outcome of a lifecycle call (Prepare or Confirm). Returning NotReady, Reprepare or
// Drop is an expected outcome, not a failure; lifecycle calls never report through an error.
type Result struct {
	kind      ResultKind
	reprepare ReprepareReason
	confirm   ConfirmReason
}

// ResultSuccess promotes the operation to its next phase.
func ResultSuccess() Result { return Result{kind: Success} }

// ResultNotReady asks for a later attempt without changing the status.
func ResultNotReady() Result { return Result{kind: NotReady} }

// ResultReprepare restarts the lifecycle from the prepare phase.
func ResultReprepare(reason ReprepareReason) Result {
	return Result{kind: Reprepare, reprepare: reason}
}

// ResultDrop forgets the operation.
func ResultDrop() Result { return Result{kind: Drop} }

// ResultConfirm sends the operation straight to the confirm phase.
func ResultConfirm(reason ConfirmReason) Result {
	return Result{kind: ConfirmNow, confirm: reason}
}

// Kind returns the variant of the result.
func (r Result) Kind() ResultKind { return r.kind }

// ReprepareReason returns the reason carried by a Reprepare result.
func (r Result) ReprepareReason() (ReprepareReason, bool) {
	return r.reprepare, r.kind == Reprepare
}

// ConfirmReason returns the reason carried by a Confirm result.
func (r Result) ConfirmReason() (ConfirmReason, bool) {
	return r.confirm, r.kind == ConfirmNow
}

func (r Result) String() string {
	switch r.kind {
	case Success:
		return "Success"
	case NotReady:
		return "NotReady"
	case Reprepare:
		return fmt.Sprintf("Reprepare(%s)", r.reprepare)
	case Drop:
		return "Drop"
	case ConfirmNow:
		return fmt.Sprintf("Confirm(%s)", r.confirm)
	default:
		return fmt.Sprintf("ResultKind(%d)", r.kind)
	}
}
