package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors
var (
	ErrInvalidStateTransition        = errors.New("invalid state transition")
	ErrValidation                    = errors.New("validation failed")
	ErrInsufficientCollateral        = errors.New("insufficient collateral")
	ErrLinkedAccountRequired         = errors.New("linked savings account required")
	ErrAlreadyPaidOrWaived           = errors.New("already paid or waived")
	ErrCurrencyMismatch              = errors.New("currency mismatch")
	ErrReplayInconsistency           = errors.New("replay inconsistency")
	ErrDataIntegrityConflict         = errors.New("data integrity conflict")
	ErrLoanNotActive                 = errors.New("loan is not active")
	ErrAlreadyClosedWrittenOff       = errors.New("loan is already written off")
	ErrDateMismatch                  = errors.New("disbursement date mismatch")
	ErrTopupOutstandingExceedsAmount = errors.New("topup loan outstanding exceeds disbursal amount")
	ErrLoanNotFound                  = errors.New("loan not found")
	ErrTransactionNotFound           = errors.New("loan transaction not found")
	ErrChargeNotFound                = errors.New("loan charge not found")
	ErrRefundUncovered               = errors.New("refund exceeds overpaid balance")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error

	// Fatal marks a broken invariant that callers must not recover from.
	Fatal   bool
	Context map[string]string
}

func (e *BusinessError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Context[k])
		}
		msg += " [" + strings.Join(parts, " ") + "]"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// With attaches a diagnostic key/value to the error.
func (e *BusinessError) With(key, value string) *BusinessError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidStateTransition        = "INVALID_STATE_TRANSITION"
	ErrCodeValidation                    = "VALIDATION_ERROR"
	ErrCodeInsufficientCollateral        = "INSUFFICIENT_COLLATERAL"
	ErrCodeLinkedAccountRequired         = "LINKED_ACCOUNT_REQUIRED"
	ErrCodeAlreadyPaidOrWaived           = "ALREADY_PAID_OR_WAIVED"
	ErrCodeCurrencyMismatch              = "CURRENCY_MISMATCH"
	ErrCodeReplayInconsistency           = "REPLAY_INCONSISTENCY"
	ErrCodeDataIntegrityConflict         = "DATA_INTEGRITY_CONFLICT"
	ErrCodeLoanNotActive                 = "LOAN_NOT_ACTIVE"
	ErrCodeAlreadyClosedWrittenOff       = "LOAN_ALREADY_CLOSED_WRITTEN_OFF"
	ErrCodeDateMismatch                  = "DISBURSEMENT_DATE_MISMATCH"
	ErrCodeTopupOutstandingExceedsAmount = "TOPUP_OUTSTANDING_EXCEEDS_AMOUNT"
	ErrCodeLoanNotFound                  = "LOAN_NOT_FOUND"
	ErrCodeTransactionNotFound           = "TRANSACTION_NOT_FOUND"
	ErrCodeChargeNotFound                = "CHARGE_NOT_FOUND"
	ErrCodeDatabaseError                 = "DATABASE_ERROR"
	ErrCodeCacheError                    = "CACHE_ERROR"
	ErrCodeCollaboratorError             = "COLLABORATOR_ERROR"
)

// IsFatal reports whether err carries a fatal business error.
func IsFatal(err error) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Fatal
	}
	return false
}

// CodeOf returns the business error code of err, or an empty string.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// Wrap common errors with business context
func WrapInvalidStateTransition(event, state string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidStateTransition,
		fmt.Sprintf("Event %s is not allowed while loan is %s", event, state),
		ErrInvalidStateTransition,
	).With("event", event).With("state", state)
}

func WrapValidation(field, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeValidation,
		fmt.Sprintf("%s: %s", field, reason),
		ErrValidation,
	).With("field", field)
}

func WrapInsufficientCollateral(required, available string) *BusinessError {
	return NewBusinessError(
		ErrCodeInsufficientCollateral,
		fmt.Sprintf("Disbursed amount %s exceeds pledged collateral value %s", required, available),
		ErrInsufficientCollateral,
	)
}

func WrapLinkedAccountRequired(loanID int64) *BusinessError {
	return NewBusinessError(
		ErrCodeLinkedAccountRequired,
		fmt.Sprintf("Loan with ID %d has no linked savings account", loanID),
		ErrLinkedAccountRequired,
	)
}

func WrapAlreadyPaidOrWaived(what string, id int64) *BusinessError {
	return NewBusinessError(
		ErrCodeAlreadyPaidOrWaived,
		fmt.Sprintf("%s %d is already paid or waived", what, id),
		ErrAlreadyPaidOrWaived,
	)
}

func WrapCurrencyMismatch(expected, actual string) *BusinessError {
	return NewBusinessError(
		ErrCodeCurrencyMismatch,
		fmt.Sprintf("Currency %s does not match %s", actual, expected),
		ErrCurrencyMismatch,
	)
}

func WrapReplayInconsistency(transactionID int64, reason string) *BusinessError {
	e := NewBusinessError(
		ErrCodeReplayInconsistency,
		reason,
		ErrReplayInconsistency,
	).With("transaction_id", fmt.Sprintf("%d", transactionID))
	e.Fatal = true
	return e
}

// WrapRefundUncovered is the replay failure raised when a refund finds less
// overpayment than it returns. Callers replaying a user edit may downgrade
// it to a validation error.
func WrapRefundUncovered(transactionID int64, reason string) *BusinessError {
	e := WrapReplayInconsistency(transactionID, reason)
	e.Err = fmt.Errorf("%w: %w", ErrReplayInconsistency, ErrRefundUncovered)
	return e
}

func WrapDataIntegrityConflict(message string, err error) *BusinessError {
	if err == nil {
		err = ErrDataIntegrityConflict
	} else {
		err = fmt.Errorf("%w: %w", ErrDataIntegrityConflict, err)
	}
	return NewBusinessError(ErrCodeDataIntegrityConflict, message, err)
}

func WrapLoanNotActive(loanID int64, state string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotActive,
		fmt.Sprintf("Loan with ID %d is not active", loanID),
		ErrLoanNotActive,
	).With("state", state)
}

func WrapAlreadyClosedWrittenOff(loanID int64) *BusinessError {
	return NewBusinessError(
		ErrCodeAlreadyClosedWrittenOff,
		fmt.Sprintf("Loan with ID %d is closed and written off", loanID),
		ErrAlreadyClosedWrittenOff,
	)
}

func WrapDateMismatch(expected, actual string) *BusinessError {
	return NewBusinessError(
		ErrCodeDateMismatch,
		fmt.Sprintf("Actual disbursement date %s must match expected date %s", actual, expected),
		ErrDateMismatch,
	)
}

func WrapTopupOutstandingExceedsAmount(outstanding, amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeTopupOutstandingExceedsAmount,
		fmt.Sprintf("Outstanding %s of the loan to close exceeds disbursal amount %s", outstanding, amount),
		ErrTopupOutstandingExceedsAmount,
	)
}

func WrapLoanNotFound(loanID int64) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %d not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapTransactionNotFound(loanID, transactionID int64) *BusinessError {
	return NewBusinessError(
		ErrCodeTransactionNotFound,
		fmt.Sprintf("Transaction %d not found on loan %d", transactionID, loanID),
		ErrTransactionNotFound,
	)
}

func WrapChargeNotFound(loanID, chargeID int64) *BusinessError {
	return NewBusinessError(
		ErrCodeChargeNotFound,
		fmt.Sprintf("Charge %d not found on loan %d", chargeID, loanID),
		ErrChargeNotFound,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}

func WrapCollaboratorError(collaborator string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCollaboratorError,
		fmt.Sprintf("%s call failed", collaborator),
		err,
	)
}
