package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

type LoanSubStatus string

const (
	LoanSubStatusNone       LoanSubStatus = ""
	LoanSubStatusForeclosed LoanSubStatus = "FORECLOSED"
)

// ProductConfig is the slice of loan product configuration the engine reads.
type ProductConfig struct {
	ProductID                        int64  `json:"product_id"`
	StrategyCode                     string `json:"strategy_code"`
	InterestRecalculationEnabled     bool   `json:"interest_recalculation_enabled"`
	FeeCompoundingOnRecalculation    bool   `json:"fee_compounding_on_recalculation"`
	AccrualAccounting                bool   `json:"accrual_accounting"`
	MultiDisburse                    bool   `json:"multi_disburse"`
	SyncExpectedWithDisbursementDate bool   `json:"sync_expected_with_disbursement_date"`
	IncludeInBorrowerCycle           bool   `json:"include_in_borrower_cycle"`
}

// Tranche is one planned disbursement of a multi-disbursement loan.
type Tranche struct {
	ID           int64           `json:"id"`
	ExpectedDate time.Time       `json:"expected_date"`
	Principal    decimal.Decimal `json:"principal"`
	ActualDate   *time.Time      `json:"actual_date,omitempty"`
}

func (t Tranche) IsDisbursed() bool { return t.ActualDate != nil }

// CollateralItem is a quantity of a client collateral pledged to the loan.
type CollateralItem struct {
	ID           int64           `json:"id"`
	CollateralID int64           `json:"collateral_id"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	BasePrice    decimal.Decimal `json:"base_price"`
	PctToBase    decimal.Decimal `json:"pct_to_base"`
	Released     bool            `json:"released"`
}

// Value is quantity x base price x pct-to-base / 100.
func (c CollateralItem) Value() decimal.Decimal {
	return utils.Percentage(c.Quantity.Mul(c.BasePrice), c.PctToBase)
}

type PostDatedCheck struct {
	ID                int64           `json:"id"`
	InstallmentNumber int             `json:"installment_number"`
	CheckNumber       string          `json:"check_number"`
	BankName          string          `json:"bank_name"`
	Amount            decimal.Decimal `json:"amount"`
}

// TopupDetails names the loan a top-up disbursement closes.
type TopupDetails struct {
	LoanIDToClose     int64           `json:"loan_id_to_close"`
	TopupAmount       decimal.Decimal `json:"topup_amount"`
	ClosedOutstanding decimal.Decimal `json:"closed_outstanding"`
}

// LoanState is the persisted shape of a loan.
type LoanState struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	ClientID   int64  `json:"client_id"`
	GroupID    int64  `json:"group_id"`
	OfficeID   int64  `json:"office_id"`

	Status    LoanStatus     `json:"status"`
	SubStatus LoanSubStatus  `json:"sub_status,omitempty"`
	Currency  money.Currency `json:"currency"`

	ProposedPrincipal  decimal.Decimal `json:"proposed_principal"`
	ApprovedPrincipal  decimal.Decimal `json:"approved_principal"`
	Principal          decimal.Decimal `json:"principal"`
	NetDisbursalAmount decimal.Decimal `json:"net_disbursal_amount"`
	TotalOverpaid      decimal.Decimal `json:"total_overpaid"`

	SubmittedOn              time.Time  `json:"submitted_on"`
	ApprovedOn               *time.Time `json:"approved_on,omitempty"`
	ExpectedDisbursementDate time.Time  `json:"expected_disbursement_date"`
	ActualDisbursementDate   *time.Time `json:"actual_disbursement_date,omitempty"`
	MaturityDate             *time.Time `json:"maturity_date,omitempty"`
	ClosedOn                 *time.Time `json:"closed_on,omitempty"`
	WrittenOffOn             *time.Time `json:"written_off_on,omitempty"`

	Product                ProductConfig `json:"product"`
	Terms                  LoanTerms     `json:"terms"`
	LinkedSavingsAccountID int64         `json:"linked_savings_account_id,omitempty"`
	Topup                  *TopupDetails `json:"topup,omitempty"`

	Tranches        []Tranche               `json:"tranches,omitempty"`
	Installments    []*RepaymentInstallment `json:"installments"`
	Charges         []*LoanCharge           `json:"charges"`
	Transactions    []*LoanTransaction      `json:"transactions"`
	Collateral      []CollateralItem        `json:"collateral,omitempty"`
	PostDatedChecks []PostDatedCheck        `json:"post_dated_checks,omitempty"`

	LoanCounter    int `json:"loan_counter"`
	ProductCounter int `json:"product_counter"`

	NextTransactionID int64 `json:"next_transaction_id"`
	NextChargeID      int64 `json:"next_charge_id"`
	Version           int64 `json:"version"`
}

func (s LoanState) clone() LoanState {
	c := s
	c.Tranches = append([]Tranche(nil), s.Tranches...)
	for i := range c.Tranches {
		if d := s.Tranches[i].ActualDate; d != nil {
			v := *d
			c.Tranches[i].ActualDate = &v
		}
	}
	c.Installments = cloneInstallments(s.Installments)
	c.Charges = make([]*LoanCharge, len(s.Charges))
	for i, ch := range s.Charges {
		c.Charges[i] = ch.Clone()
	}
	c.Transactions = cloneTransactions(s.Transactions)
	c.Collateral = append([]CollateralItem(nil), s.Collateral...)
	c.PostDatedChecks = append([]PostDatedCheck(nil), s.PostDatedChecks...)
	if s.Topup != nil {
		t := *s.Topup
		c.Topup = &t
	}
	return c
}

// Loan is the aggregate root. Collections are only mutated through its operations.
type Loan struct {
	s         LoanState
	processor TransactionProcessor
	generator ScheduleGenerator

	// schedule as it stood before the first regeneration of the current operation
	archive []*RepaymentInstallment
}

// SubmitLoanParams describes a new loan application.
type SubmitLoanParams struct {
	ExternalID               string
	ClientID                 int64
	GroupID                  int64
	OfficeID                 int64
	Currency                 money.Currency
	Principal                decimal.Decimal
	SubmittedOn              time.Time
	ExpectedDisbursementDate time.Time
	Product                  ProductConfig
	Terms                    LoanTerms
	LinkedSavingsAccountID   int64
	Topup                    *TopupDetails
	Tranches                 []Tranche
	Collateral               []CollateralItem
	PostDatedChecks          []PostDatedCheck
	Charges                  []ChargeDefinition
}

// NewLoan validates an application and returns it in SUBMITTED_PENDING_APPROVAL.
func NewLoan(p SubmitLoanParams) (*Loan, error) {
	if p.ClientID == 0 && p.GroupID == 0 {
		return nil, customError.WrapValidation("client_id", "a client or group is required")
	}
	if p.Currency.Code == "" {
		return nil, customError.WrapValidation("currency", "is required")
	}
	if !p.Principal.IsPositive() {
		return nil, customError.WrapValidation("principal", "must be greater than 0")
	}
	if p.ExpectedDisbursementDate.Before(p.SubmittedOn) {
		return nil, customError.WrapValidation("expected_disbursement_date", "cannot be before submission")
	}
	if err := validateTerms(p.Terms); err != nil {
		return nil, err
	}
	if p.Product.MultiDisburse && len(p.Tranches) > 0 {
		total := decimal.Zero
		for _, t := range p.Tranches {
			if !t.Principal.IsPositive() {
				return nil, customError.WrapValidation("tranches", "tranche principal must be greater than 0")
			}
			total = total.Add(t.Principal)
		}
		if !total.Equal(p.Principal) {
			return nil, customError.WrapValidation("tranches", "tranche principals must add up to the loan principal")
		}
	}
	if !p.Product.MultiDisburse && len(p.Tranches) > 0 {
		return nil, customError.WrapValidation("tranches", "product does not allow multiple disbursements")
	}

	l := &Loan{s: LoanState{
		ExternalID:               p.ExternalID,
		ClientID:                 p.ClientID,
		GroupID:                  p.GroupID,
		OfficeID:                 p.OfficeID,
		Status:                   LoanStatusSubmitted,
		Currency:                 p.Currency,
		ProposedPrincipal:        p.Principal,
		Principal:                p.Principal,
		SubmittedOn:              utils.TruncateDay(p.SubmittedOn),
		ExpectedDisbursementDate: utils.TruncateDay(p.ExpectedDisbursementDate),
		Product:                  p.Product,
		Terms:                    p.Terms,
		LinkedSavingsAccountID:   p.LinkedSavingsAccountID,
		Topup:                    p.Topup,
		Tranches:                 append([]Tranche(nil), p.Tranches...),
		Collateral:               append([]CollateralItem(nil), p.Collateral...),
		PostDatedChecks:          append([]PostDatedCheck(nil), p.PostDatedChecks...),
		NextTransactionID:        1,
		NextChargeID:             1,
	}}
	for i := range l.s.Tranches {
		l.s.Tranches[i].ID = int64(i + 1)
	}
	for _, def := range p.Charges {
		if _, err := l.attachCharges(def, nil, l.s.SubmittedOn); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func validateTerms(t LoanTerms) error {
	if t.NumberOfRepayments <= 0 {
		return customError.WrapValidation("number_of_repayments", "must be greater than 0")
	}
	if t.RepaymentEvery <= 0 {
		return customError.WrapValidation("repayment_every", "must be greater than 0")
	}
	switch t.RepaymentFrequency {
	case FrequencyDays, FrequencyWeeks, FrequencyMonths:
	default:
		return customError.WrapValidation("repayment_frequency", "must be days, weeks or months")
	}
	if t.InterestRatePerPeriod.IsNegative() {
		return customError.WrapValidation("interest_rate_per_period", "cannot be negative")
	}
	switch t.InterestMethod {
	case InterestMethodFlat, InterestMethodDecliningBalance:
	default:
		return customError.WrapValidation("interest_method", "unsupported interest method")
	}
	switch t.AmortizationMethod {
	case AmortizationEqualInstallments, AmortizationEqualPrincipal:
	default:
		return customError.WrapValidation("amortization_method", "unsupported amortization method")
	}
	return nil
}

// RestoreLoan rebuilds a loan from persisted state.
func RestoreLoan(state LoanState) *Loan {
	return &Loan{s: state.clone()}
}

// Bind injects the allocation strategy and schedule generator.
func (l *Loan) Bind(processor TransactionProcessor, generator ScheduleGenerator) {
	l.processor = processor
	l.generator = generator
}

// State returns a deep copy of the loan for persistence and reads.
func (l *Loan) State() LoanState { return l.s.clone() }

func (l *Loan) ID() int64 { return l.s.ID }
func (l *Loan) ClientID() int64 { return l.s.ClientID }
func (l *Loan) GroupID() int64 { return l.s.GroupID }
func (l *Loan) OfficeID() int64 { return l.s.OfficeID }
func (l *Loan) Status() LoanStatus { return l.s.Status }
func (l *Loan) SubStatus() LoanSubStatus { return l.s.SubStatus }
func (l *Loan) Currency() money.Currency { return l.s.Currency }
func (l *Loan) Product() ProductConfig { return l.s.Product }
func (l *Loan) Version() int64 { return l.s.Version }
func (l *Loan) Principal() decimal.Decimal { return l.s.Principal }
func (l *Loan) NetDisbursalAmount() decimal.Decimal { return l.s.NetDisbursalAmount }
func (l *Loan) TotalOverpaid() decimal.Decimal { return l.s.TotalOverpaid }
func (l *Loan) LinkedSavingsAccountID() int64 { return l.s.LinkedSavingsAccountID }
func (l *Loan) LoanCounter() int { return l.s.LoanCounter }
func (l *Loan) ProductCounter() int { return l.s.ProductCounter }
func (l *Loan) IsIndividual() bool { return l.s.GroupID == 0 }

func (l *Loan) ActualDisbursementDate() *time.Time {
	if l.s.ActualDisbursementDate == nil {
		return nil
	}
	d := *l.s.ActualDisbursementDate
	return &d
}

func (l *Loan) Topup() *TopupDetails {
	if l.s.Topup == nil {
		return nil
	}
	t := *l.s.Topup
	return &t
}

// Installments returns copies of the schedule.
func (l *Loan) Installments() []*RepaymentInstallment { return cloneInstallments(l.s.Installments) }

// Transactions returns copies of all transactions in insertion order.
func (l *Loan) Transactions() []*LoanTransaction { return cloneTransactions(l.s.Transactions) }

func (l *Loan) Charges() []*LoanCharge {
	out := make([]*LoanCharge, len(l.s.Charges))
	for i, c := range l.s.Charges {
		out[i] = c.Clone()
	}
	return out
}

func (l *Loan) Collateral() []CollateralItem { return append([]CollateralItem(nil), l.s.Collateral...) }

// AssignID sets the identity given by the store on first insert.
func (l *Loan) AssignID(id int64) { l.s.ID = id }

// MarkPersisted records the version the store accepted.
func (l *Loan) MarkPersisted(version int64) { l.s.Version = version }

// ApplyCycleCounters stores the borrower and product cycle position.
func (l *Loan) ApplyCycleCounters(loanCounter, productCounter int) {
	l.s.LoanCounter = loanCounter
	l.s.ProductCounter = productCounter
}

// TakeScheduleArchive returns and clears the pre-change schedule captured
// during the current operation.
func (l *Loan) TakeScheduleArchive() []*RepaymentInstallment {
	a := l.archive
	l.archive = nil
	return a
}

// TransactionByID returns a copy of the transaction.
func (l *Loan) TransactionByID(id int64) (*LoanTransaction, error) {
	tx := l.findTransaction(id)
	if tx == nil {
		return nil, customError.WrapTransactionNotFound(l.s.ID, id)
	}
	return tx.Clone(), nil
}

// Summary totals what is still owed per component.
func (l *Loan) Summary() ComponentAmounts {
	var out ComponentAmounts
	for _, inst := range l.s.Installments {
		for _, comp := range AllComponents {
			out.Add(comp, inst.Outstanding(comp))
		}
	}
	return out
}

// TotalOutstanding is everything owed across the schedule.
func (l *Loan) TotalOutstanding() decimal.Decimal { return l.Summary().Total() }

// CollateralValue sums the value of unreleased pledged collateral.
func (l *Loan) CollateralValue() decimal.Decimal {
	total := decimal.Zero
	for _, c := range l.s.Collateral {
		if !c.Released {
			total = total.Add(c.Value())
		}
	}
	return total
}

// atomically restores the loan when fn fails, so failed operations leave no trace.
func (l *Loan) atomically(fn func() error) error {
	saved := l.s.clone()
	savedArchive := l.archive
	if err := fn(); err != nil {
		l.s = saved
		l.archive = savedArchive
		return err
	}
	return nil
}

func (l *Loan) requireBound() error {
	if l.processor == nil || l.generator == nil {
		return fmt.Errorf("loan %d has no transaction processor or schedule generator bound", l.s.ID)
	}
	return nil
}

func (l *Loan) newTransaction(op OpContext, typ TransactionType, date time.Time, amount decimal.Decimal) *LoanTransaction {
	id := l.s.NextTransactionID
	l.s.NextTransactionID++
	return &LoanTransaction{
		ID:          id,
		Sequence:    id,
		Type:        typ,
		Date:        utils.TruncateDay(date),
		SubmittedOn: utils.TruncateDay(op.BusinessDate),
		Amount:      amount,
		pending:     true,
	}
}

func (l *Loan) findTransaction(id int64) *LoanTransaction {
	for _, tx := range l.s.Transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

func (l *Loan) findCharge(id int64) *LoanCharge {
	for _, c := range l.s.Charges {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// orderedActiveTransactions sorts non-reversed transactions by (date, sequence).
func (l *Loan) orderedActiveTransactions() []*LoanTransaction {
	var out []*LoanTransaction
	for _, tx := range l.s.Transactions {
		if !tx.Reversed {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func (l *Loan) latestTransactionDate() *time.Time {
	var latest *time.Time
	for _, tx := range l.s.Transactions {
		if tx.Reversed || tx.pending {
			continue
		}
		if latest == nil || tx.Date.After(*latest) {
			d := tx.Date
			latest = &d
		}
	}
	return latest
}

func (l *Loan) checkCurrency(m money.Money) error {
	return money.Zero(l.s.Currency).SameCurrency(m)
}

func (l *Loan) checkExternalID(externalID string) error {
	if externalID == "" {
		return nil
	}
	for _, tx := range l.s.Transactions {
		if !tx.Reversed && tx.ExternalID == externalID {
			return customError.WrapDataIntegrityConflict(
				fmt.Sprintf("Transaction with external id %s already exists", externalID), nil)
		}
	}
	return nil
}

// validateTransactionDate rejects future dates and dates before disbursement.
func (l *Loan) validateTransactionDate(op OpContext, date time.Time) error {
	if date.IsZero() {
		return customError.WrapValidation("transaction_date", "is required")
	}
	if utils.TruncateDay(date).After(utils.TruncateDay(op.BusinessDate)) {
		return customError.WrapValidation("transaction_date", "cannot be in the future")
	}
	if l.s.ActualDisbursementDate != nil && utils.TruncateDay(date).Before(*l.s.ActualDisbursementDate) {
		return customError.WrapValidation("transaction_date", "cannot be before the disbursement date")
	}
	return nil
}

func (l *Loan) validateAmount(m money.Money) error {
	if err := l.checkCurrency(m); err != nil {
		return err
	}
	if !m.IsPositive() {
		return customError.WrapValidation("transaction_amount", "must be greater than 0")
	}
	return l.checkScale(m)
}

func (l *Loan) checkScale(m money.Money) error {
	if !l.s.Currency.Round(m.Amount()).Equal(m.Amount()) {
		return customError.WrapValidation("transaction_amount", "exceeds currency scale")
	}
	return nil
}

// rejectUncoveredRefund turns a refund left without overpayment by a user
// edit into a validation failure. Other replay failures stay fatal.
func rejectUncoveredRefund(err error) error {
	if errors.Is(err, customError.ErrRefundUncovered) {
		return customError.WrapValidation("transaction_amount", "change leaves a later refund uncovered by overpayment")
	}
	return err
}

// transition validates and applies event.
func (l *Loan) transition(event LoanEvent) error {
	next, err := Transition(l.s.Status, event)
	if err != nil {
		return err
	}
	l.s.Status = next
	return nil
}

func (l *Loan) hasPendingTranches() bool {
	for _, t := range l.s.Tranches {
		if !t.IsDisbursed() {
			return true
		}
	}
	return false
}
