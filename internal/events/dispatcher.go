package events

import (
	"context"
	"errors"
	"sync"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/sirupsen/logrus"
)

// Business event types
const (
	LoanSubmitted             = "loan.submitted"
	LoanApproved              = "loan.approved"
	LoanApprovalUndone        = "loan.approval_undone"
	LoanRejected              = "loan.rejected"
	LoanWithdrawn             = "loan.withdrawn"
	LoanDisbursed             = "loan.disbursed"
	LoanDisbursalUndone       = "loan.disbursal_undone"
	LoanRepaymentMade         = "loan.repayment_made"
	LoanInterestWaived        = "loan.interest_waived"
	LoanTransactionAdjusted   = "loan.transaction_adjusted"
	LoanRefunded              = "loan.refunded"
	LoanAccrued               = "loan.accrued"
	LoanChargeAdded           = "loan.charge_added"
	LoanChargeDeleted         = "loan.charge_deleted"
	LoanChargeWaived          = "loan.charge_waived"
	LoanChargeWaiverUndone    = "loan.charge_waiver_undone"
	LoanChargePaid            = "loan.charge_paid"
	LoanWrittenOff            = "loan.written_off"
	LoanWriteOffUndone        = "loan.write_off_undone"
	LoanClosed                = "loan.closed"
	LoanClosedAsRescheduled   = "loan.closed_as_rescheduled"
	LoanTransferInitiated     = "loan.transfer_initiated"
	LoanTransferAccepted      = "loan.transfer_accepted"
	LoanTransferWithdrawn     = "loan.transfer_withdrawn"
	LoanTransferRejected      = "loan.transfer_rejected"
	LoanTopupClosedPrevious   = "loan.topup_closed_previous"
	LoanTransactionsReprocess = "loan.transactions_reprocessed"
)

// AnyEvent registers a hook for every event type.
const AnyEvent = "*"

// Hook reacts to a business event.
type Hook func(ctx context.Context, event domain.BusinessEvent) error

// Dispatcher runs registered hooks around loan operations and publishes
// post events to the broker when a publisher is set.
type Dispatcher struct {
	mu        sync.RWMutex
	pre       map[string][]Hook
	post      map[string][]Hook
	publisher Publisher
	log       logrus.FieldLogger
}

// NewDispatcher returns a dispatcher. publisher may be nil.
func NewDispatcher(publisher Publisher, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		pre:       make(map[string][]Hook),
		post:      make(map[string][]Hook),
		publisher: publisher,
		log:       log,
	}
}

// OnPre registers a hook that can veto an operation.
func (d *Dispatcher) OnPre(eventType string, h Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pre[eventType] = append(d.pre[eventType], h)
}

// OnPost registers a hook run after an operation committed.
func (d *Dispatcher) OnPost(eventType string, h Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.post[eventType] = append(d.post[eventType], h)
}

func (d *Dispatcher) hooks(set map[string][]Hook, eventType string) []Hook {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := append([]Hook(nil), set[eventType]...)
	return append(out, set[AnyEvent]...)
}

// NotifyPre stops at the first failing hook and returns its error.
func (d *Dispatcher) NotifyPre(ctx context.Context, event domain.BusinessEvent) error {
	for _, h := range d.hooks(d.pre, event.Type) {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// NotifyPost runs every hook and publishes the event. Failures are logged and
// returned together; the operation they follow has already committed.
func (d *Dispatcher) NotifyPost(ctx context.Context, event domain.BusinessEvent) error {
	var errs []error
	for _, h := range d.hooks(d.post, event.Type) {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, event.Type, event); err != nil {
			errs = append(errs, customError.WrapCollaboratorError("event publisher", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"loan_id":    event.LoanID,
			"event_id":   event.ID,
		}).Error("post-event hooks failed")
	}
	return err
}
