package domain

import (
	"context"
	"time"

	"github.com/segyhp/loan-servicing-engine/pkg/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PeriodFrequency string

const (
	FrequencyDays   PeriodFrequency = "days"
	FrequencyWeeks  PeriodFrequency = "weeks"
	FrequencyMonths PeriodFrequency = "months"
)

type InterestMethod string

const (
	InterestMethodFlat             InterestMethod = "FLAT"
	InterestMethodDecliningBalance InterestMethod = "DECLINING_BALANCE"
)

type AmortizationMethod string

const (
	AmortizationEqualInstallments AmortizationMethod = "EQUAL_INSTALLMENTS"
	AmortizationEqualPrincipal    AmortizationMethod = "EQUAL_PRINCIPAL"
)

// LoanTerms are the schedule-shaping terms agreed at approval.
type LoanTerms struct {
	NumberOfRepayments    int                `json:"number_of_repayments"`
	RepaymentEvery        int                `json:"repayment_every"`
	RepaymentFrequency    PeriodFrequency    `json:"repayment_frequency"`
	InterestRatePerPeriod decimal.Decimal    `json:"interest_rate_per_period"`
	InterestMethod        InterestMethod     `json:"interest_method"`
	AmortizationMethod    AmortizationMethod `json:"amortization_method"`
	FirstRepaymentDate    *time.Time         `json:"first_repayment_date,omitempty"`
}

type NonWorkingDayRule string

const (
	MoveToNextWorkingDay     NonWorkingDayRule = "NEXT_WORKING_DAY"
	MoveToPreviousWorkingDay NonWorkingDayRule = "PREVIOUS_WORKING_DAY"
	KeepSameDay              NonWorkingDayRule = "SAME_DAY"
)

// Calendar holds the holidays and working days due dates are adjusted against.
type Calendar struct {
	Holidays          []time.Time
	WorkingDays       []time.Weekday
	NonWorkingDayRule NonWorkingDayRule
}

func (c Calendar) IsWorkingDay(d time.Time) bool {
	for _, h := range c.Holidays {
		if h.Year() == d.Year() && h.YearDay() == d.YearDay() {
			return false
		}
	}
	if len(c.WorkingDays) == 0 {
		return true
	}
	for _, wd := range c.WorkingDays {
		if wd == d.Weekday() {
			return true
		}
	}
	return false
}

// Adjust moves d off holidays and non-working days according to the rule.
func (c Calendar) Adjust(d time.Time) time.Time {
	step := 1
	switch c.NonWorkingDayRule {
	case KeepSameDay:
		return d
	case MoveToPreviousWorkingDay:
		step = -1
	}
	// a fully blocked calendar leaves the date untouched after a year of probing
	for i := 0; i < 366; i++ {
		if c.IsWorkingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, step)
	}
	return d
}

// BalanceEvent changes the interest-bearing balance on a date.
type BalanceEvent struct {
	Date   time.Time
	Amount decimal.Decimal
}

// ScheduleRequest is everything a schedule generator needs.
type ScheduleRequest struct {
	Currency      money.Currency
	Terms         LoanTerms
	StartDate     time.Time
	Disbursements []BalanceEvent
	Calendar      Calendar

	// interest recalculation inputs
	InterestRecalculation bool
	PrincipalRepayments   []BalanceEvent
	CompoundingCharges    []BalanceEvent
	RecalculateFrom       *time.Time
	Existing              []*RepaymentInstallment
}

// ScheduleGenerator turns terms and disbursements into installments. It must
// be deterministic for identical requests.
type ScheduleGenerator interface {
	Generate(req ScheduleRequest) ([]*RepaymentInstallment, error)
}

// AllocationState is the mutable ledger a processor allocates into.
type AllocationState struct {
	Currency     money.Currency
	Installments []*RepaymentInstallment
	Charges      []*LoanCharge
	Overpaid     decimal.Decimal
}

// FindCharge returns the charge with the given id.
func (s *AllocationState) FindCharge(id int64) *LoanCharge {
	for _, c := range s.Charges {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// TransactionProcessor allocates one transaction into the state.
type TransactionProcessor interface {
	Code() string
	Apply(state *AllocationState, tx *LoanTransaction) (Allocation, error)
}

// ScheduleArchive stores a schedule before it is replaced.
type ScheduleArchive interface {
	Archive(ctx context.Context, loan *Loan, installments []*RepaymentInstallment, rescheduleRequestID *int64) error
}

// JournalTransaction is the accounting view of one loan transaction.
type JournalTransaction struct {
	ID                 int64           `json:"id"`
	Type               TransactionType `json:"type"`
	Date               time.Time       `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Principal          decimal.Decimal `json:"principal"`
	Interest           decimal.Decimal `json:"interest"`
	Fee                decimal.Decimal `json:"fee"`
	Penalty            decimal.Decimal `json:"penalty"`
	Overpayment        decimal.Decimal `json:"overpayment"`
	UnrecognizedIncome decimal.Decimal `json:"unrecognized_income"`
	Reversed           bool            `json:"reversed"`
	AccountTransfer    bool            `json:"account_transfer"`
	PaymentType        string          `json:"payment_type,omitempty"`
}

// AccountingBridgeData is what the ledger needs to post journal entries.
type AccountingBridgeData struct {
	LoanID            int64                `json:"loan_id"`
	ProductID         int64                `json:"product_id"`
	OfficeID          int64                `json:"office_id"`
	Currency          string               `json:"currency"`
	AccrualAccounting bool                 `json:"accrual_accounting"`
	IsAccountTransfer bool                 `json:"is_account_transfer"`
	Transactions      []JournalTransaction `json:"transactions"`
}

// AccountingSink posts journal entries. Errors must surface to the caller.
type AccountingSink interface {
	PostJournalEntries(ctx context.Context, data AccountingBridgeData) error
}

type AccountType string

const (
	AccountTypeLoan    AccountType = "LOAN"
	AccountTypeSavings AccountType = "SAVINGS"
)

// AccountTransfer describes a movement between two accounts.
type AccountTransfer struct {
	FromType          AccountType
	FromID            int64
	ToType            AccountType
	ToID              int64
	Amount            money.Money
	Date              time.Time
	Description       string
	LoanTransactionID int64
}

type AccountTransferDetails struct {
	ID       string          `json:"id"`
	FromType AccountType     `json:"from_type"`
	FromID   int64           `json:"from_id"`
	ToType   AccountType     `json:"to_type"`
	ToID     int64           `json:"to_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Date     time.Time       `json:"date"`
}

// AccountTransferService moves funds for loan-to-savings and loan-to-loan flows.
type AccountTransferService interface {
	TransferFunds(ctx context.Context, transfer AccountTransfer) (AccountTransferDetails, error)
}

// BusinessEvent is fired around each mutating operation.
type BusinessEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	LoanID     int64          `json:"loan_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

func NewBusinessEvent(eventType, tenantID string, loanID int64, at time.Time) BusinessEvent {
	return BusinessEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		TenantID:   tenantID,
		LoanID:     loanID,
		OccurredAt: at,
		Data:       map[string]any{},
	}
}

// Notifier fans business events out. Pre-hook failures abort the operation;
// post-hook failures are reported only.
type Notifier interface {
	NotifyPre(ctx context.Context, event BusinessEvent) error
	NotifyPost(ctx context.Context, event BusinessEvent) error
}

// OpContext replaces ambient tenant and clock state.
type OpContext struct {
	TenantID     string
	BusinessDate time.Time
	Calendar     Calendar
}
