package operations

import "fmt"

// Phase is a lifecycle phase of an operation.
type Phase uint8

const (
	PhasePrepare Phase = iota
	PhaseSubmit
	PhaseConfirm
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseSubmit:
		return "submit"
	case PhaseConfirm:
		return "confirm"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// Action tells the driver where an operation goes after a lifecycle call.
type Action uint8

const (
	// ActionPrepare queues the operation for (re-)preparation.
	ActionPrepare Action = iota
	// ActionSubmit queues the operation for submission.
	ActionSubmit
	// ActionConfirm queues the operation for confirmation.
	ActionConfirm
	// ActionDrop discards the operation.
	ActionDrop
	// ActionDone discards the operation after a confirmed delivery.
	ActionDone
)

func (a Action) String() string {
	switch a {
	case ActionPrepare:
		return "prepare"
	case ActionSubmit:
		return "submit"
	case ActionConfirm:
		return "confirm"
	case ActionDrop:
		return "drop"
	case ActionDone:
		return "done"
	default:
		return fmt.Sprintf("Action(%d)", a)
	}
}

// Transition applies the result of a lifecycle call made in phase to op. It updates the status
// and the next attempt time of op and returns where op goes next. It is the only code that
// changes the status of a queued operation.
//
//	phase    result        status            action
//	prepare  Success       ReadyToSubmit     submit, attempts reset
//	confirm  Success       unchanged         done
//	any      NotReady      unchanged         same phase, backed off
//	prepare  Reprepare(r)  Retry(r)          prepare, backed off
//	confirm  Reprepare(r)  Retry(r)          prepare, attempts reset then backed off
//	any      Drop          unchanged         drop
//	prepare  Confirm(r)    Confirm(r)        confirm, attempts reset
//	confirm  Confirm(r)    Confirm(r)        confirm, backed off
//
// Leaving the prepare phase forward clears the attempts and the next attempt time, so the
// operation is ready in the submit and confirm queues and orders by priority there. A Reprepare
// outside of the prepare phase starts a new preparation cycle with attempts restarting from zero.
// Failures within one preparation cycle keep counting, which grows the backoff.
//
// Submit does not return a result; after it the operation always moves to confirm with the
// status Confirm(SubmittedBySelf), see AfterSubmit.
func Transition(phase Phase, op Operation, result Result, backoff BackoffPolicy) Action {
	switch result.Kind() {
	case Success:
		if phase == PhaseConfirm {
			return ActionDone
		}
		op.SetStatus(StatusReadyToSubmit())
		op.ResetAttempts()

		return ActionSubmit
	case NotReady:
		op.SetNextAttemptAfter(backoff.Delay(op.Attempts()))

		return phaseAction(phase)
	case Reprepare:
		reason, _ := result.ReprepareReason()
		op.SetStatus(StatusRetry(reason))
		if phase != PhasePrepare {
			op.ResetAttempts()
		}
		op.SetNextAttemptAfter(backoff.Delay(op.Attempts()))

		return ActionPrepare
	case ConfirmNow:
		reason, _ := result.ConfirmReason()
		op.SetStatus(StatusConfirm(reason))
		if phase == PhaseConfirm {
			op.SetNextAttemptAfter(backoff.Delay(op.Attempts()))
		} else {
			op.ResetAttempts()
		}

		return ActionConfirm
	case Drop:
		return ActionDrop
	default:
		return ActionDrop
	}
}

// AfterSubmit moves a submitted operation to the confirm phase.
func AfterSubmit(op Operation) Action {
	op.SetStatus(StatusConfirm(SubmittedBySelf))

	return ActionConfirm
}

func phaseAction(phase Phase) Action {
	switch phase {
	case PhaseSubmit:
		return ActionSubmit
	case PhaseConfirm:
		return ActionConfirm
	default:
		return ActionPrepare
	}
}
