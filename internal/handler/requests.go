package handler

import (
	"reflect"
	"strings"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type SubmitLoanRequest struct {
	ExternalID               string                `json:"external_id" validate:"omitempty,max=100"`
	ClientID                 int64                 `json:"client_id" validate:"required_without=GroupID,gte=0"`
	GroupID                  int64                 `json:"group_id" validate:"gte=0"`
	OfficeID                 int64                 `json:"office_id" validate:"required,gt=0"`
	Currency                 string                `json:"currency" validate:"required,len=3,uppercase"`
	DecimalPlaces            int32                 `json:"decimal_places" validate:"gte=0,lte=6"`
	InMultiplesOf            int64                 `json:"in_multiples_of" validate:"gte=0"`
	Principal                decimal.Decimal       `json:"principal" validate:"decimal_gt0"`
	SubmittedOn              string                `json:"submitted_on" validate:"required,datetime=2006-01-02"`
	ExpectedDisbursementDate string                `json:"expected_disbursement_date" validate:"required,datetime=2006-01-02"`
	Product                  domain.ProductConfig  `json:"product"`
	Terms                    TermsRequest          `json:"terms"`
	LinkedSavingsAccountID   int64                 `json:"linked_savings_account_id" validate:"gte=0"`
	LoanIDToClose            int64                 `json:"loan_id_to_close" validate:"gte=0"`
	Tranches                 []TrancheRequest      `json:"tranches" validate:"dive"`
	Collateral               []CollateralRequest   `json:"collateral" validate:"dive"`
	PostDatedChecks          []PostDatedCheckInput `json:"post_dated_checks" validate:"dive"`
	Charges                  []ChargeRequest       `json:"charges" validate:"dive"`
}

type TermsRequest struct {
	NumberOfRepayments    int             `json:"number_of_repayments" validate:"required,gt=0"`
	RepaymentEvery        int             `json:"repayment_every" validate:"required,gt=0"`
	RepaymentFrequency    string          `json:"repayment_frequency" validate:"required,oneof=days weeks months"`
	InterestRatePerPeriod decimal.Decimal `json:"interest_rate_per_period" validate:"decimal_gte0"`
	InterestMethod        string          `json:"interest_method" validate:"required,oneof=FLAT DECLINING_BALANCE"`
	AmortizationMethod    string          `json:"amortization_method" validate:"required,oneof=EQUAL_INSTALLMENTS EQUAL_PRINCIPAL"`
	FirstRepaymentDate    string          `json:"first_repayment_date" validate:"omitempty,datetime=2006-01-02"`
}

type TrancheRequest struct {
	ExpectedDate string          `json:"expected_date" validate:"required,datetime=2006-01-02"`
	Principal    decimal.Decimal `json:"principal" validate:"decimal_gt0"`
}

type CollateralRequest struct {
	CollateralID int64           `json:"collateral_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
}

type PostDatedCheckInput struct {
	InstallmentNumber int             `json:"installment_number" validate:"required,gt=0"`
	CheckNumber       string          `json:"check_number" validate:"required"`
	BankName          string          `json:"bank_name"`
	Amount            decimal.Decimal `json:"amount" validate:"decimal_gt0"`
}

type ChargeRequest struct {
	DefinitionID    int64           `json:"charge_definition_id" validate:"gte=0"`
	Name            string          `json:"name" validate:"required,max=100"`
	CalculationType string          `json:"calculation_type" validate:"required,oneof=FLAT PERCENT_OF_AMOUNT PERCENT_OF_AMOUNT_AND_INTEREST PERCENT_OF_INTEREST PERCENT_OF_DISBURSEMENT_AMOUNT"`
	TimeType        string          `json:"time_type" validate:"required,oneof=DISBURSEMENT TRANCHE_DISBURSEMENT SPECIFIED_DUE_DATE INSTALLMENT_FEE OVERDUE_INSTALLMENT"`
	PaymentMode     string          `json:"payment_mode" validate:"omitempty,oneof=CASH ACCOUNT_TRANSFER"`
	Penalty         bool            `json:"penalty"`
	Amount          decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	DueDate         string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type ApproveRequest struct {
	ApprovedOn               string           `json:"approved_on" validate:"required,datetime=2006-01-02"`
	Amount                   *decimal.Decimal `json:"amount" validate:"omitempty,decimal_gt0"`
	ExpectedDisbursementDate string           `json:"expected_disbursement_date" validate:"omitempty,datetime=2006-01-02"`
}

type DisburseRequest struct {
	Date            string                `json:"date" validate:"required,datetime=2006-01-02"`
	TrancheID       int64                 `json:"tranche_id" validate:"gte=0"`
	Amount          *decimal.Decimal      `json:"amount" validate:"omitempty,decimal_gt0"`
	AccountTransfer bool                  `json:"account_transfer"`
	ExternalID      string                `json:"external_id" validate:"omitempty,max=100"`
	PaymentDetail   *domain.PaymentDetail `json:"payment_detail"`
}

type RepaymentRequest struct {
	Type          string                `json:"type" validate:"omitempty,oneof=REPAYMENT RECOVERY_REPAYMENT"`
	Date          string                `json:"date" validate:"required,datetime=2006-01-02"`
	Amount        decimal.Decimal       `json:"amount" validate:"decimal_gt0"`
	ExternalID    string                `json:"external_id" validate:"omitempty,max=100"`
	PaymentDetail *domain.PaymentDetail `json:"payment_detail"`
}

type WaiveInterestRequest struct {
	Date       string          `json:"date" validate:"required,datetime=2006-01-02"`
	Amount     decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	ExternalID string          `json:"external_id" validate:"omitempty,max=100"`
}

// AdjustTransactionRequest accepts a zero amount to reverse without replacement.
type AdjustTransactionRequest struct {
	Date          string                `json:"date" validate:"required,datetime=2006-01-02"`
	Amount        decimal.Decimal       `json:"amount" validate:"decimal_gte0"`
	ExternalID    string                `json:"external_id" validate:"omitempty,max=100"`
	PaymentDetail *domain.PaymentDetail `json:"payment_detail"`
}

type RefundRequest struct {
	Date          string                `json:"date" validate:"required,datetime=2006-01-02"`
	Amount        decimal.Decimal       `json:"amount" validate:"decimal_gt0"`
	ExternalID    string                `json:"external_id" validate:"omitempty,max=100"`
	PaymentDetail *domain.PaymentDetail `json:"payment_detail"`
}

type PayChargeRequest struct {
	InstallmentNumber int              `json:"installment_number" validate:"gte=0"`
	Date              string           `json:"date" validate:"required,datetime=2006-01-02"`
	Amount            *decimal.Decimal `json:"amount" validate:"omitempty,decimal_gt0"`
}

type WaiveChargeRequest struct {
	InstallmentNumber int `json:"installment_number" validate:"gte=0"`
}

// CloseRequest serves write-off, close, reject, withdraw and transfer steps.
type CloseRequest struct {
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	ExternalID string `json:"external_id" validate:"omitempty,max=100"`
	Note       string `json:"note" validate:"omitempty,max=500"`
}

// newValidator returns a validator that understands decimal amounts and
// reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("decimal_gt0", decimalCmp(func(d decimal.Decimal) bool { return d.IsPositive() }))
	_ = v.RegisterValidation("decimal_gte0", decimalCmp(func(d decimal.Decimal) bool { return !d.IsNegative() }))
	return v
}

func decimalCmp(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return ok(d)
	}
}

// validationError turns the first failed rule into a business validation error.
func validationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return customError.WrapValidation(field, reason)
	}
	return customError.WrapValidation("body", err.Error())
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func parseOptionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseDate(s)
	return &t
}

func (r SubmitLoanRequest) toParams() domain.SubmitLoanParams {
	currency := money.NewCurrency(r.Currency, r.DecimalPlaces)
	currency.InMultiplesOf = r.InMultiplesOf

	p := domain.SubmitLoanParams{
		ExternalID:               r.ExternalID,
		ClientID:                 r.ClientID,
		GroupID:                  r.GroupID,
		OfficeID:                 r.OfficeID,
		Currency:                 currency,
		Principal:                r.Principal,
		SubmittedOn:              parseDate(r.SubmittedOn),
		ExpectedDisbursementDate: parseDate(r.ExpectedDisbursementDate),
		Product:                  r.Product,
		Terms: domain.LoanTerms{
			NumberOfRepayments:    r.Terms.NumberOfRepayments,
			RepaymentEvery:        r.Terms.RepaymentEvery,
			RepaymentFrequency:    domain.PeriodFrequency(r.Terms.RepaymentFrequency),
			InterestRatePerPeriod: r.Terms.InterestRatePerPeriod,
			InterestMethod:        domain.InterestMethod(r.Terms.InterestMethod),
			AmortizationMethod:    domain.AmortizationMethod(r.Terms.AmortizationMethod),
			FirstRepaymentDate:    parseOptionalDate(r.Terms.FirstRepaymentDate),
		},
		LinkedSavingsAccountID: r.LinkedSavingsAccountID,
	}
	if r.LoanIDToClose != 0 {
		p.Topup = &domain.TopupDetails{LoanIDToClose: r.LoanIDToClose}
	}
	for i, t := range r.Tranches {
		p.Tranches = append(p.Tranches, domain.Tranche{
			ID:           int64(i + 1),
			ExpectedDate: parseDate(t.ExpectedDate),
			Principal:    t.Principal,
		})
	}
	for _, c := range r.Collateral {
		p.Collateral = append(p.Collateral, domain.CollateralItem{
			CollateralID: c.CollateralID,
			Quantity:     c.Quantity,
		})
	}
	for i, c := range r.PostDatedChecks {
		p.PostDatedChecks = append(p.PostDatedChecks, domain.PostDatedCheck{
			ID:                int64(i + 1),
			InstallmentNumber: c.InstallmentNumber,
			CheckNumber:       c.CheckNumber,
			BankName:          c.BankName,
			Amount:            c.Amount,
		})
	}
	for _, c := range r.Charges {
		p.Charges = append(p.Charges, c.toDefinition())
	}
	return p
}

func (r ChargeRequest) toDefinition() domain.ChargeDefinition {
	mode := domain.ChargePaymentModeCash
	if r.PaymentMode != "" {
		mode = domain.ChargePaymentMode(r.PaymentMode)
	}
	return domain.ChargeDefinition{
		ID:              r.DefinitionID,
		Name:            r.Name,
		CalculationType: domain.ChargeCalculationType(r.CalculationType),
		TimeType:        domain.ChargeTimeType(r.TimeType),
		PaymentMode:     mode,
		Penalty:         r.Penalty,
		Amount:          r.Amount,
	}
}

func (r CloseRequest) toCommand() domain.CloseCommand {
	return domain.CloseCommand{
		Date:       parseDate(r.Date),
		ExternalID: r.ExternalID,
		Note:       r.Note,
	}
}

// LoanResponse is the read model returned for a loan.
type LoanResponse struct {
	domain.LoanState
	Summary          domain.ComponentAmounts `json:"summary"`
	TotalOutstanding decimal.Decimal         `json:"total_outstanding"`
}

func newLoanResponse(loan *domain.Loan) *LoanResponse {
	if loan == nil {
		return nil
	}
	return &LoanResponse{
		LoanState:        loan.State(),
		Summary:          loan.Summary(),
		TotalOutstanding: loan.TotalOutstanding(),
	}
}

// CommandResponse reports what a command changed.
type CommandResponse struct {
	LoanID        int64           `json:"loan_id"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	ChargeIDs     []int64         `json:"charge_ids,omitempty"`
	Replaced      map[int64]int64 `json:"replaced_transactions,omitempty"`
	Loan          *LoanResponse   `json:"loan,omitempty"`
}
