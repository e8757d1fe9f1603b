package domain

import (
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
)

type LoanStatus string

// Loan status constants
const (
	LoanStatusSubmitted            LoanStatus = "SUBMITTED_PENDING_APPROVAL"
	LoanStatusApproved             LoanStatus = "APPROVED"
	LoanStatusActive               LoanStatus = "ACTIVE"
	LoanStatusTransferInProgress   LoanStatus = "TRANSFER_IN_PROGRESS"
	LoanStatusTransferOnHold       LoanStatus = "TRANSFER_ON_HOLD"
	LoanStatusWithdrawn            LoanStatus = "WITHDRAWN"
	LoanStatusRejected             LoanStatus = "REJECTED"
	LoanStatusClosedObligationsMet LoanStatus = "CLOSED_OBLIGATIONS_MET"
	LoanStatusClosedWrittenOff     LoanStatus = "CLOSED_WRITTEN_OFF"
	LoanStatusClosedRescheduled    LoanStatus = "CLOSED_RESCHEDULED"
	LoanStatusOverpaid             LoanStatus = "OVERPAID"
)

// IsClosed reports whether the loan has reached a closed state.
func (s LoanStatus) IsClosed() bool {
	switch s {
	case LoanStatusClosedObligationsMet, LoanStatusClosedWrittenOff, LoanStatusClosedRescheduled:
		return true
	}
	return false
}

// IsDisbursed reports whether money has left the lender for this loan.
func (s LoanStatus) IsDisbursed() bool {
	switch s {
	case LoanStatusActive, LoanStatusTransferInProgress, LoanStatusTransferOnHold,
		LoanStatusClosedObligationsMet, LoanStatusClosedWrittenOff, LoanStatusClosedRescheduled,
		LoanStatusOverpaid:
		return true
	}
	return false
}

type LoanEvent string

// Loan lifecycle events
const (
	EventApprove            LoanEvent = "approve"
	EventUndoApproval       LoanEvent = "undo_approval"
	EventReject             LoanEvent = "reject"
	EventWithdraw           LoanEvent = "withdraw"
	EventDisburse           LoanEvent = "disburse"
	EventUndoDisbursal      LoanEvent = "undo_disbursal"
	EventRepay              LoanEvent = "repay"
	EventWaiveInterest      LoanEvent = "waive_interest"
	EventAddCharge          LoanEvent = "add_charge"
	EventWaiveCharge        LoanEvent = "waive_charge"
	EventChargePayment      LoanEvent = "charge_payment"
	EventAccrue             LoanEvent = "accrue"
	EventAdjustTransaction  LoanEvent = "adjust_transaction"
	EventRefund             LoanEvent = "refund"
	EventWriteOff           LoanEvent = "write_off"
	EventUndoWriteOff       LoanEvent = "undo_write_off"
	EventClose              LoanEvent = "close"
	EventCloseAsRescheduled LoanEvent = "close_as_rescheduled"
	EventInitiateTransfer   LoanEvent = "initiate_transfer"
	EventAcceptTransfer     LoanEvent = "accept_transfer"
	EventWithdrawTransfer   LoanEvent = "withdraw_transfer"
	EventRejectTransfer     LoanEvent = "reject_transfer"

	// outcome events settled after a replay
	EventObligationsMet LoanEvent = "obligations_met"
	EventOverpay        LoanEvent = "overpay"
	EventReopen         LoanEvent = "reopen"
)

var transitions = map[LoanEvent]map[LoanStatus]LoanStatus{
	EventApprove: {
		LoanStatusSubmitted: LoanStatusApproved,
	},
	EventUndoApproval: {
		LoanStatusApproved: LoanStatusSubmitted,
	},
	EventReject: {
		LoanStatusSubmitted: LoanStatusRejected,
	},
	EventWithdraw: {
		LoanStatusSubmitted: LoanStatusWithdrawn,
		LoanStatusApproved:  LoanStatusWithdrawn,
	},
	EventDisburse: {
		LoanStatusApproved: LoanStatusActive,
		LoanStatusActive:   LoanStatusActive,
	},
	EventUndoDisbursal: {
		LoanStatusActive: LoanStatusApproved,
	},
	EventRepay: {
		LoanStatusActive:               LoanStatusActive,
		LoanStatusOverpaid:             LoanStatusOverpaid,
		LoanStatusClosedObligationsMet: LoanStatusClosedObligationsMet,
	},
	EventWaiveInterest: {
		LoanStatusActive: LoanStatusActive,
	},
	EventAddCharge: {
		LoanStatusSubmitted: LoanStatusSubmitted,
		LoanStatusApproved:  LoanStatusApproved,
		LoanStatusActive:    LoanStatusActive,
	},
	EventWaiveCharge: {
		LoanStatusActive: LoanStatusActive,
	},
	EventChargePayment: {
		LoanStatusActive: LoanStatusActive,
	},
	EventAccrue: {
		LoanStatusActive:               LoanStatusActive,
		LoanStatusOverpaid:             LoanStatusOverpaid,
		LoanStatusClosedObligationsMet: LoanStatusClosedObligationsMet,
	},
	EventAdjustTransaction: {
		LoanStatusActive:               LoanStatusActive,
		LoanStatusOverpaid:             LoanStatusOverpaid,
		LoanStatusClosedObligationsMet: LoanStatusClosedObligationsMet,
	},
	EventRefund: {
		LoanStatusOverpaid: LoanStatusOverpaid,
	},
	EventWriteOff: {
		LoanStatusActive: LoanStatusClosedWrittenOff,
	},
	EventUndoWriteOff: {
		LoanStatusClosedWrittenOff: LoanStatusActive,
	},
	EventClose: {
		LoanStatusActive: LoanStatusClosedObligationsMet,
	},
	EventCloseAsRescheduled: {
		LoanStatusActive: LoanStatusClosedRescheduled,
	},
	EventInitiateTransfer: {
		LoanStatusActive: LoanStatusTransferInProgress,
	},
	EventAcceptTransfer: {
		LoanStatusTransferInProgress: LoanStatusActive,
		LoanStatusTransferOnHold:     LoanStatusActive,
	},
	EventWithdrawTransfer: {
		LoanStatusTransferInProgress: LoanStatusActive,
		LoanStatusTransferOnHold:     LoanStatusActive,
	},
	EventRejectTransfer: {
		LoanStatusTransferInProgress: LoanStatusTransferOnHold,
	},
	EventObligationsMet: {
		LoanStatusActive:   LoanStatusClosedObligationsMet,
		LoanStatusOverpaid: LoanStatusClosedObligationsMet,
	},
	EventOverpay: {
		LoanStatusActive:               LoanStatusOverpaid,
		LoanStatusClosedObligationsMet: LoanStatusOverpaid,
	},
	EventReopen: {
		LoanStatusClosedObligationsMet: LoanStatusActive,
		LoanStatusOverpaid:             LoanStatusActive,
	},
}

// Transition returns the state reached by applying event in state, or an
// InvalidStateTransition error when the pair is not defined.
func Transition(state LoanStatus, event LoanEvent) (LoanStatus, error) {
	if next, ok := transitions[event][state]; ok {
		return next, nil
	}
	return state, customError.WrapInvalidStateTransition(string(event), string(state))
}

// ValidateTransition checks that event is allowed in state without applying it.
func ValidateTransition(state LoanStatus, event LoanEvent) error {
	_, err := Transition(state, event)
	return err
}
