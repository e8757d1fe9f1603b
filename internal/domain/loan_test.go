package domain_test

import (
	"testing"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/processor"
	"github.com/segyhp/loan-servicing-engine/internal/schedule"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usd = money.NewCurrency("USD", 2)

func date(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cash(s string) money.Money { return money.MustParse(usd, s) }

func op() domain.OpContext {
	return domain.OpContext{TenantID: "default", BusinessDate: date(6, 1)}
}

// flatParams is a 1000 loan repaid in two monthly installments of 500
// principal and 50 interest.
func flatParams() domain.SubmitLoanParams {
	return domain.SubmitLoanParams{
		ClientID:                 1,
		OfficeID:                 1,
		Currency:                 usd,
		Principal:                dec("1000"),
		SubmittedOn:              date(1, 1),
		ExpectedDisbursementDate: date(1, 1),
		Product:                  domain.ProductConfig{ProductID: 1},
		Terms: domain.LoanTerms{
			NumberOfRepayments:    2,
			RepaymentEvery:        1,
			RepaymentFrequency:    domain.FrequencyMonths,
			InterestRatePerPeriod: dec("5"),
			InterestMethod:        domain.InterestMethodFlat,
			AmortizationMethod:    domain.AmortizationEqualInstallments,
		},
	}
}

func submit(t *testing.T, p domain.SubmitLoanParams) *domain.Loan {
	t.Helper()
	loan, err := domain.NewLoan(p)
	require.NoError(t, err)
	registry, err := processor.NewRegistry("")
	require.NoError(t, err)
	strategy, err := registry.Get(p.Product.StrategyCode)
	require.NoError(t, err)
	loan.Bind(strategy, schedule.NewGenerator())
	return loan
}

func disbursed(t *testing.T, p domain.SubmitLoanParams) *domain.Loan {
	t.Helper()
	loan := submit(t, p)
	require.NoError(t, loan.Approve(op(), domain.ApproveCommand{ApprovedOn: p.SubmittedOn}))
	_, _, err := loan.Disburse(op(), domain.DisburseCommand{Date: p.ExpectedDisbursementDate})
	require.NoError(t, err)
	return loan
}

func repay(t *testing.T, loan *domain.Loan, on time.Time, amount string) *domain.LoanTransaction {
	t.Helper()
	tx, _, err := loan.MakeRepayment(op(), domain.RepaymentCommand{Date: on, Amount: cash(amount)})
	require.NoError(t, err)
	return tx
}

func assertConserved(t *testing.T, loan *domain.Loan) {
	t.Helper()
	var paid domain.ComponentAmounts
	for _, inst := range loan.Installments() {
		_, ok := inst.CheckConservation()
		assert.True(t, ok, "installment %d", inst.Number)
		for _, comp := range domain.AllComponents {
			paid.Add(comp, inst.Paid.Get(comp))
		}
	}
	var allocated domain.ComponentAmounts
	for _, tx := range loan.Transactions() {
		if tx.Reversed || (tx.Type != domain.TransactionRepayment && tx.Type != domain.TransactionChargePayment) {
			continue
		}
		assert.True(t, tx.Allocation().Total().Equal(tx.Amount), "transaction %d fully allocated", tx.ID)
		for _, comp := range domain.AllComponents {
			allocated.Add(comp, tx.Portions.Get(comp))
		}
	}
	assert.True(t, paid.Equal(allocated), "installments paid %+v, transactions allocated %+v", paid, allocated)
}

func TestDisburse_BuildsSchedule(t *testing.T) {
	loan := disbursed(t, flatParams())

	assert.Equal(t, domain.LoanStatusActive, loan.Status())
	insts := loan.Installments()
	require.Len(t, insts, 2)
	for i, inst := range insts {
		assert.Equal(t, date(time.Month(i+2), 1), inst.DueDate)
		assert.True(t, inst.Due.Principal.Equal(dec("500")))
		assert.True(t, inst.Due.Interest.Equal(dec("50")))
	}
	txs := loan.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionDisbursement, txs[0].Type)
	assert.True(t, txs[0].OutstandingLoanBalance.Equal(dec("1000")))
	assert.True(t, loan.NetDisbursalAmount().Equal(dec("1000")))
}

func TestMakeRepayment_PaysFirstInstallment(t *testing.T) {
	loan := disbursed(t, flatParams())

	tx := repay(t, loan, date(2, 1), "550")

	assert.True(t, tx.Portions.Principal.Equal(dec("500")))
	assert.True(t, tx.Portions.Interest.Equal(dec("50")))
	assert.True(t, tx.OutstandingLoanBalance.Equal(dec("500")))
	insts := loan.Installments()
	assert.True(t, insts[0].Paid.Principal.Equal(dec("500")))
	assert.True(t, insts[0].Paid.Interest.Equal(dec("50")))
	assert.True(t, insts[0].Completed)
	assert.Equal(t, date(2, 1), *insts[0].ObligationsMetOn)
	assert.True(t, insts[1].Paid.Total().IsZero())
	assert.False(t, insts[1].Completed)
	assertConserved(t, loan)
}

func TestWaiveInterest_BackDatedReallocatesLaterRepayment(t *testing.T) {
	loan := disbursed(t, flatParams())
	original := repay(t, loan, date(2, 1), "550")

	waiver, changed, err := loan.WaiveInterest(op(), domain.WaiveInterestCommand{Date: date(1, 15), Amount: cash("75")})

	require.NoError(t, err)
	assert.True(t, waiver.Portions.Interest.Equal(dec("75")))
	require.NotNil(t, changed)
	assert.Equal(t, []int64{original.ID}, changed.ReversedIDs())

	old, err := loan.TransactionByID(original.ID)
	require.NoError(t, err)
	assert.True(t, old.Reversed)

	repl := changed.NewTransactionMappings[original.ID]
	assert.NotEqual(t, original.ID, repl.ID)
	assert.False(t, repl.Reversed)
	assert.Equal(t, original.Date, repl.Date)
	assert.True(t, repl.Amount.Equal(dec("550")))
	assert.True(t, repl.Portions.Principal.Equal(dec("525")))
	assert.True(t, repl.Portions.Interest.Equal(dec("25")))
	assertConserved(t, loan)

	again, err := loan.ReprocessTransactions()
	require.NoError(t, err)
	assert.Nil(t, again, "a second replay must not change anything")
}

func TestWaiveInterest_SplitsUnrecognizedIncome(t *testing.T) {
	tests := []struct {
		name             string
		accrual          bool
		wantInterest     string
		wantUnrecognized string
	}{
		{"accrual accounting", true, "40", "60"},
		{"cash accounting", false, "100", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := flatParams()
			p.Product.AccrualAccounting = tt.accrual
			loan := disbursed(t, p)
			_, err := loan.RecordAccrual(op(), domain.AccrualCommand{Date: date(1, 31), Interest: dec("40")})
			require.NoError(t, err)
			assert.True(t, loan.ReceivableInterest(date(2, 1)).Equal(dec("40")))

			tx, _, err := loan.WaiveInterest(op(), domain.WaiveInterestCommand{Date: date(2, 1), Amount: cash("100")})

			require.NoError(t, err)
			assert.True(t, tx.Portions.Interest.Equal(dec(tt.wantInterest)))
			assert.True(t, tx.UnrecognizedIncomePortion.Equal(dec(tt.wantUnrecognized)))
			assert.True(t, loan.Summary().Interest.IsZero())
		})
	}
}

func TestWaiveInterest_FailureLeavesLoanUntouched(t *testing.T) {
	loan := disbursed(t, flatParams())
	before := loan.State()

	_, _, err := loan.WaiveInterest(op(), domain.WaiveInterestCommand{Date: date(2, 1), Amount: cash("500")})

	assert.ErrorIs(t, err, customError.ErrValidation)
	assert.Equal(t, before, loan.State())
}

func TestWriteOff(t *testing.T) {
	p := flatParams()
	p.Collateral = []domain.CollateralItem{{ID: 1, CollateralID: 7, Quantity: dec("1"), BasePrice: dec("2000"), PctToBase: dec("100")}}
	loan := disbursed(t, p)
	repay(t, loan, date(2, 1), "550")

	tx, changed, err := loan.WriteOff(op(), domain.CloseCommand{Date: date(3, 10)})

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusClosedWrittenOff, loan.Status())
	assert.True(t, tx.Amount.Equal(dec("550")))
	assert.True(t, tx.Portions.Principal.Equal(dec("500")))
	assert.Equal(t, tx.ID, changed.NewTransactionMappings[domain.SyntheticTransactionKey].ID)
	assert.True(t, loan.TotalOutstanding().IsZero())
	assert.True(t, loan.Collateral()[0].Released)

	t.Run("second write-off is an invalid transition", func(t *testing.T) {
		_, _, err := loan.WriteOff(op(), domain.CloseCommand{Date: date(3, 11)})
		assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)
	})

	t.Run("repayment on a written-off loan", func(t *testing.T) {
		_, _, err := loan.MakeRepayment(op(), domain.RepaymentCommand{Date: date(3, 12), Amount: cash("10")})
		assert.ErrorIs(t, err, customError.ErrAlreadyClosedWrittenOff)
	})

	t.Run("undo write-off reopens the loan", func(t *testing.T) {
		_, err := loan.UndoWriteOff(op())
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatusActive, loan.Status())
		assert.True(t, loan.TotalOutstanding().Equal(dec("550")))
		assert.False(t, loan.Collateral()[0].Released)
	})
}

func TestRecoveryRepaymentBlocksUndoWriteOff(t *testing.T) {
	loan := disbursed(t, flatParams())
	_, _, err := loan.WriteOff(op(), domain.CloseCommand{Date: date(3, 1)})
	require.NoError(t, err)

	tx, _, err := loan.MakeRepayment(op(), domain.RepaymentCommand{
		Type:   domain.TransactionRecoveryRepayment,
		Date:   date(4, 1),
		Amount: cash("100"),
	})
	require.NoError(t, err)
	assert.True(t, tx.Portions.Total().IsZero())

	_, err = loan.UndoWriteOff(op())
	assert.ErrorIs(t, err, customError.ErrValidation)
	assert.Equal(t, domain.LoanStatusClosedWrittenOff, loan.Status())
}

func TestDisburse_InsufficientCollateral(t *testing.T) {
	p := flatParams()
	p.Principal = dec("6000")
	p.Collateral = []domain.CollateralItem{{ID: 1, CollateralID: 3, Quantity: dec("10"), BasePrice: dec("500"), PctToBase: dec("100")}}
	loan := submit(t, p)
	require.NoError(t, loan.Approve(op(), domain.ApproveCommand{ApprovedOn: date(1, 1)}))

	_, _, err := loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 1)})

	assert.ErrorIs(t, err, customError.ErrInsufficientCollateral)
	assert.Empty(t, loan.Transactions())
	assert.Equal(t, domain.LoanStatusApproved, loan.Status())
}

func TestDisburse_Validation(t *testing.T) {
	t.Run("date must match expected date", func(t *testing.T) {
		p := flatParams()
		p.Product.SyncExpectedWithDisbursementDate = true
		loan := submit(t, p)
		require.NoError(t, loan.Approve(op(), domain.ApproveCommand{ApprovedOn: date(1, 1)}))

		_, _, err := loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 3)})

		assert.ErrorIs(t, err, customError.ErrDateMismatch)
	})

	t.Run("not approved", func(t *testing.T) {
		loan := submit(t, flatParams())

		_, _, err := loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 1)})

		assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)
	})

	t.Run("already disbursed", func(t *testing.T) {
		loan := disbursed(t, flatParams())

		_, _, err := loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 2)})

		assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)
	})

	t.Run("account transfer without savings account", func(t *testing.T) {
		loan := submit(t, flatParams())
		require.NoError(t, loan.Approve(op(), domain.ApproveCommand{ApprovedOn: date(1, 1)}))

		_, _, err := loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 1), AccountTransfer: true})

		assert.ErrorIs(t, err, customError.ErrLinkedAccountRequired)
	})
}

func TestDisburse_CollectsDisbursementCharges(t *testing.T) {
	p := flatParams()
	p.Charges = []domain.ChargeDefinition{{
		ID:              5,
		Name:            "processing fee",
		CalculationType: domain.ChargeCalculationPercentOfAmount,
		TimeType:        domain.ChargeTimeDisbursement,
		Amount:          dec("1"),
	}}

	loan := disbursed(t, p)

	assert.True(t, loan.NetDisbursalAmount().Equal(dec("990")))
	charges := loan.Charges()
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Amount.Equal(dec("10")))
	assert.Equal(t, domain.ChargeStatusPaid, charges[0].Status())
	txs := loan.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TransactionChargePayment, txs[1].Type)
	assert.True(t, txs[1].Portions.Fee.Equal(dec("10")))
	assertConserved(t, loan)

	t.Run("undo disbursal reverses the charge collection", func(t *testing.T) {
		reversed, err := loan.UndoDisbursal(op())

		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{txs[0].ID, txs[1].ID}, reversed)
		assert.Equal(t, domain.LoanStatusApproved, loan.Status())
		assert.Nil(t, loan.ActualDisbursementDate())
		assert.True(t, loan.NetDisbursalAmount().IsZero())
	})
}

func TestDisburse_Tranches(t *testing.T) {
	p := flatParams()
	p.Product.MultiDisburse = true
	p.Tranches = []domain.Tranche{
		{ExpectedDate: date(1, 1), Principal: dec("600")},
		{ExpectedDate: date(1, 20), Principal: dec("400")},
	}
	loan := disbursed(t, p)
	assert.Equal(t, domain.LoanStatusActive, loan.Status())

	_, txID, err := loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 20)})

	require.NoError(t, err)
	tx, err := loan.TransactionByID(txID)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(dec("400")))
	assert.True(t, tx.OutstandingLoanBalance.Equal(dec("1000")))
	assert.True(t, loan.Principal().Equal(dec("1000")))
	assert.Equal(t, date(1, 1), *loan.ActualDisbursementDate())

	_, _, err = loan.Disburse(op(), domain.DisburseCommand{Date: date(1, 21)})
	assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)
}

func TestOverpaymentAndRefund(t *testing.T) {
	loan := disbursed(t, flatParams())

	tx := repay(t, loan, date(2, 1), "1200")

	assert.True(t, tx.OverpaymentPortion.Equal(dec("100")))
	assert.Equal(t, domain.LoanStatusOverpaid, loan.Status())
	assert.True(t, loan.TotalOverpaid().Equal(dec("100")))

	_, _, err := loan.Refund(op(), domain.RefundCommand{Date: date(2, 2), Amount: cash("150")})
	assert.ErrorIs(t, err, customError.ErrValidation)

	refund, _, err := loan.Refund(op(), domain.RefundCommand{Date: date(2, 2), Amount: cash("100")})
	require.NoError(t, err)
	assert.True(t, refund.OverpaymentPortion.Equal(dec("100")))
	assert.Equal(t, domain.LoanStatusClosedObligationsMet, loan.Status())
	assert.True(t, loan.TotalOverpaid().IsZero())
}

func TestAdjustExistingTransaction_RejectsUncoveredRefund(t *testing.T) {
	// Arrange
	loan := disbursed(t, flatParams())
	original := repay(t, loan, date(2, 1), "1200")
	_, _, err := loan.Refund(op(), domain.RefundCommand{Date: date(2, 2), Amount: cash("100")})
	require.NoError(t, err)
	before := loan.State()

	// Act
	_, err = loan.AdjustExistingTransaction(op(), original.ID, domain.AdjustTransactionCommand{Amount: cash("1100")})

	// Assert
	assert.ErrorIs(t, err, customError.ErrValidation)
	assert.NotErrorIs(t, err, customError.ErrReplayInconsistency)
	assert.False(t, customError.IsFatal(err))
	assert.Equal(t, before, loan.State())
	old, err := loan.TransactionByID(original.ID)
	require.NoError(t, err)
	assert.False(t, old.Reversed)
}

func TestRepayment_ClosesLoanWhenObligationsMet(t *testing.T) {
	loan := disbursed(t, flatParams())
	repay(t, loan, date(2, 1), "550")
	repay(t, loan, date(3, 1), "550")

	assert.Equal(t, domain.LoanStatusClosedObligationsMet, loan.Status())
	assert.Equal(t, date(3, 1), *loan.State().ClosedOn)

	t.Run("reversing a repayment reopens it", func(t *testing.T) {
		last := loan.Transactions()[2]
		_, err := loan.AdjustExistingTransaction(op(), last.ID, domain.AdjustTransactionCommand{Amount: money.Zero(usd)})

		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatusActive, loan.Status())
		assert.Nil(t, loan.State().ClosedOn)
		assert.True(t, loan.TotalOutstanding().Equal(dec("550")))
	})
}

func TestAdjustExistingTransaction(t *testing.T) {
	loan := disbursed(t, flatParams())
	original := repay(t, loan, date(2, 1), "550")

	changed, err := loan.AdjustExistingTransaction(op(), original.ID, domain.AdjustTransactionCommand{
		Date:       date(2, 5),
		Amount:     cash("300"),
		ExternalID: "rcpt-2",
	})

	require.NoError(t, err)
	repl := changed.NewTransactionMappings[original.ID]
	require.NotNil(t, repl)
	assert.Equal(t, "rcpt-2", repl.ExternalID)
	assert.True(t, repl.Portions.Interest.Equal(dec("50")))
	assert.True(t, repl.Portions.Principal.Equal(dec("250")))

	old, err := loan.TransactionByID(original.ID)
	require.NoError(t, err)
	assert.True(t, old.Reversed)
	assert.True(t, old.ManuallyAdjusted)
	assertConserved(t, loan)

	_, err = loan.AdjustExistingTransaction(op(), original.ID, domain.AdjustTransactionCommand{Amount: cash("10")})
	assert.ErrorIs(t, err, customError.ErrValidation)

	_, err = loan.AdjustExistingTransaction(op(), repl.ID, domain.AdjustTransactionCommand{Amount: cash("299.999")})
	assert.ErrorIs(t, err, customError.ErrValidation)

	_, err = loan.AdjustExistingTransaction(op(), 404, domain.AdjustTransactionCommand{Amount: cash("10")})
	assert.ErrorIs(t, err, customError.ErrTransactionNotFound)
}

func TestMakeRepayment_Validation(t *testing.T) {
	loan := disbursed(t, flatParams())
	repay(t, loan, date(2, 1), "10")
	_, _, err := loan.MakeRepayment(op(), domain.RepaymentCommand{Date: date(2, 1), Amount: cash("10"), ExternalID: "ext-1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		cmd     domain.RepaymentCommand
		wantErr error
	}{
		{"future date", domain.RepaymentCommand{Date: date(7, 1), Amount: cash("10")}, customError.ErrValidation},
		{"before disbursement", domain.RepaymentCommand{Date: date(1, 1).AddDate(0, 0, -1), Amount: cash("10")}, customError.ErrValidation},
		{"zero amount", domain.RepaymentCommand{Date: date(2, 1), Amount: cash("0")}, customError.ErrValidation},
		{"finer than currency scale", domain.RepaymentCommand{Date: date(2, 1), Amount: cash("10.005")}, customError.ErrValidation},
		{"other currency", domain.RepaymentCommand{Date: date(2, 1), Amount: money.MustParse(money.NewCurrency("EUR", 2), "10")}, customError.ErrCurrencyMismatch},
		{"duplicate external id", domain.RepaymentCommand{Date: date(2, 1), Amount: cash("10"), ExternalID: "ext-1"}, customError.ErrDataIntegrityConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := loan.MakeRepayment(op(), tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRepayment_SameDayOrderIsCreationOrder(t *testing.T) {
	loan := disbursed(t, flatParams())
	first := repay(t, loan, date(2, 1), "100")
	second := repay(t, loan, date(2, 1), "100")

	_, err := loan.ReprocessTransactions()
	require.NoError(t, err)

	a, _ := loan.TransactionByID(first.ID)
	b, _ := loan.TransactionByID(second.ID)
	assert.True(t, a.Portions.Interest.Equal(dec("50")))
	assert.True(t, a.Portions.Principal.Equal(dec("50")))
	assert.True(t, b.Portions.Principal.Equal(dec("100")))
	assert.True(t, a.OutstandingLoanBalance.GreaterThan(b.OutstandingLoanBalance))
}

func TestClose_WaivesRemainingInterest(t *testing.T) {
	p := flatParams()
	p.Product.StrategyCode = processor.PrincipalInterestPenaltiesFees
	p.Collateral = []domain.CollateralItem{{ID: 1, CollateralID: 7, Quantity: dec("1"), BasePrice: dec("5000"), PctToBase: dec("100")}}
	loan := disbursed(t, p)

	_, _, err := loan.Close(op(), domain.CloseCommand{Date: date(2, 1)})
	assert.ErrorIs(t, err, customError.ErrValidation, "principal still outstanding")

	repay(t, loan, date(2, 1), "1050")
	waiver, changed, err := loan.Close(op(), domain.CloseCommand{Date: date(2, 1)})

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionWaiveInterest, waiver.Type)
	assert.True(t, waiver.Amount.Equal(dec("50")))
	assert.Equal(t, waiver.ID, changed.NewTransactionMappings[domain.SyntheticTransactionKey].ID)
	assert.Equal(t, domain.LoanStatusClosedObligationsMet, loan.Status())
	assert.Equal(t, domain.LoanSubStatusForeclosed, loan.SubStatus())
	assert.True(t, loan.Collateral()[0].Released)
}

func TestAddCharge_PrepaidInstallmentReallocates(t *testing.T) {
	// Arrange
	loan := disbursed(t, flatParams())
	prepayment := repay(t, loan, date(2, 1), "700")
	due := date(2, 20)

	// Act
	_, changed, err := loan.AddCharge(op(), domain.AddChargeCommand{
		Definition: domain.ChargeDefinition{
			ID:              3,
			Name:            "statement fee",
			CalculationType: domain.ChargeCalculationFlat,
			TimeType:        domain.ChargeTimeSpecifiedDueDate,
			Amount:          dec("20"),
		},
		DueDate: &due,
	})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, changed)
	repl := changed.NewTransactionMappings[prepayment.ID]
	require.NotNil(t, repl)
	assert.True(t, repl.Portions.Fee.Equal(dec("20")))
	assert.True(t, repl.Portions.Interest.Equal(dec("100")))
	assert.True(t, repl.Portions.Principal.Equal(dec("580")))
	assertConserved(t, loan)

	again, err := loan.ReprocessTransactions()
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestAddCharge_BackDatedReallocates(t *testing.T) {
	loan := disbursed(t, flatParams())
	original := repay(t, loan, date(2, 1), "550")
	due := date(1, 15)

	ids, changed, err := loan.AddCharge(op(), domain.AddChargeCommand{
		Definition: domain.ChargeDefinition{
			ID:              2,
			Name:            "late document fee",
			CalculationType: domain.ChargeCalculationFlat,
			TimeType:        domain.ChargeTimeSpecifiedDueDate,
			Amount:          dec("20"),
		},
		DueDate: &due,
	})

	require.NoError(t, err)
	require.Len(t, ids, 1)
	repl := changed.NewTransactionMappings[original.ID]
	require.NotNil(t, repl)
	assert.True(t, repl.Portions.Fee.Equal(dec("20")))
	assert.True(t, repl.Portions.Interest.Equal(dec("50")))
	assert.True(t, repl.Portions.Principal.Equal(dec("480")))
	assertConserved(t, loan)

	t.Run("waive and undo the waiver", func(t *testing.T) {
		loan := disbursed(t, flatParams())
		ids, _, err := loan.AddCharge(op(), domain.AddChargeCommand{
			Definition: domain.ChargeDefinition{
				CalculationType: domain.ChargeCalculationFlat,
				TimeType:        domain.ChargeTimeSpecifiedDueDate,
				Amount:          dec("20"),
			},
			DueDate: &due,
		})
		require.NoError(t, err)

		tx, _, err := loan.WaiveCharge(op(), ids[0], 0)
		require.NoError(t, err)
		assert.True(t, tx.Portions.Fee.Equal(dec("20")))
		assert.Equal(t, domain.ChargeStatusWaived, loan.Charges()[0].Status())

		_, _, err = loan.WaiveCharge(op(), ids[0], 0)
		assert.ErrorIs(t, err, customError.ErrAlreadyPaidOrWaived)

		_, err = loan.UndoWaiveCharge(op(), ids[0], 0)
		require.NoError(t, err)
		assert.Equal(t, domain.ChargeStatusPending, loan.Charges()[0].Status())
	})
}

func TestPayCharge_RequiresLinkedAccount(t *testing.T) {
	loan := disbursed(t, flatParams())
	due := date(2, 15)
	ids, _, err := loan.AddCharge(op(), domain.AddChargeCommand{
		Definition: domain.ChargeDefinition{
			CalculationType: domain.ChargeCalculationFlat,
			TimeType:        domain.ChargeTimeSpecifiedDueDate,
			PaymentMode:     domain.ChargePaymentModeAccountTransfer,
			Amount:          dec("25"),
		},
		DueDate: &due,
	})
	require.NoError(t, err)

	_, _, err = loan.PayCharge(op(), domain.PayChargeCommand{ChargeID: ids[0], Date: date(2, 15)})

	assert.ErrorIs(t, err, customError.ErrLinkedAccountRequired)
}

func TestPayCharge_FromSavings(t *testing.T) {
	p := flatParams()
	p.LinkedSavingsAccountID = 77
	loan := disbursed(t, p)
	due := date(2, 15)
	ids, _, err := loan.AddCharge(op(), domain.AddChargeCommand{
		Definition: domain.ChargeDefinition{
			CalculationType: domain.ChargeCalculationFlat,
			TimeType:        domain.ChargeTimeSpecifiedDueDate,
			PaymentMode:     domain.ChargePaymentModeAccountTransfer,
			Amount:          dec("25"),
		},
		DueDate: &due,
	})
	require.NoError(t, err)

	tx, _, err := loan.PayCharge(op(), domain.PayChargeCommand{ChargeID: ids[0], Date: date(2, 15)})

	require.NoError(t, err)
	assert.True(t, tx.AccountTransfer)
	assert.True(t, tx.Portions.Fee.Equal(dec("25")))
	assert.Equal(t, domain.ChargeStatusPaid, loan.Charges()[0].Status())
}

func TestInterestRecalculation_LowersLaterInterest(t *testing.T) {
	p := flatParams()
	p.Terms.InterestMethod = domain.InterestMethodDecliningBalance
	p.Terms.InterestRatePerPeriod = dec("10")
	p.Product.InterestRecalculationEnabled = true
	loan := disbursed(t, p)
	require.True(t, loan.Installments()[1].Due.Interest.Equal(dec("52.38")))
	assert.Nil(t, loan.TakeScheduleArchive())

	repay(t, loan, date(2, 1), "1076.19")

	insts := loan.Installments()
	assert.True(t, insts[0].Completed)
	assert.True(t, insts[1].Due.Interest.Equal(dec("7.62")), "recalculated interest %s", insts[1].Due.Interest)
	assert.True(t, insts[1].RecalculatedInterestComponent)
	assert.Len(t, loan.TakeScheduleArchive(), 2)
	assertConserved(t, loan)

	changed, err := loan.ReprocessTransactions()
	require.NoError(t, err)
	assert.Nil(t, changed)
}

func TestAccrueInterestTill(t *testing.T) {
	loan := disbursed(t, flatParams())

	tx, err := loan.AccrueInterestTill(op(), date(2, 1))
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, tx.Portions.Interest.Equal(dec("50")))

	tx, err = loan.AccrueInterestTill(op(), date(2, 10))
	require.NoError(t, err)
	assert.Nil(t, tx)
	assert.True(t, loan.ReceivableInterest(date(2, 10)).Equal(dec("50")))
}

func TestApproveAndApplicationLifecycle(t *testing.T) {
	t.Run("approved amount above proposal", func(t *testing.T) {
		loan := submit(t, flatParams())
		amount := cash("1500")
		err := loan.Approve(op(), domain.ApproveCommand{ApprovedOn: date(1, 1), Amount: &amount})
		assert.ErrorIs(t, err, customError.ErrValidation)
		assert.Equal(t, domain.LoanStatusSubmitted, loan.Status())
	})

	t.Run("approve lower amount then undo", func(t *testing.T) {
		loan := submit(t, flatParams())
		amount := cash("800")
		require.NoError(t, loan.Approve(op(), domain.ApproveCommand{ApprovedOn: date(1, 1), Amount: &amount}))
		assert.True(t, loan.Principal().Equal(dec("800")))

		require.NoError(t, loan.UndoApproval())
		assert.Equal(t, domain.LoanStatusSubmitted, loan.Status())
		assert.True(t, loan.Principal().Equal(dec("1000")))
	})

	t.Run("withdraw", func(t *testing.T) {
		loan := submit(t, flatParams())
		require.NoError(t, loan.Withdraw(op(), domain.CloseCommand{Date: date(1, 2)}))
		assert.Equal(t, domain.LoanStatusWithdrawn, loan.Status())

		err := loan.Reject(op(), domain.CloseCommand{Date: date(1, 3)})
		assert.ErrorIs(t, err, customError.ErrInvalidStateTransition)
	})

	t.Run("delete charge only before approval", func(t *testing.T) {
		p := flatParams()
		p.Charges = []domain.ChargeDefinition{{CalculationType: domain.ChargeCalculationFlat, TimeType: domain.ChargeTimeDisbursement, Amount: dec("5")}}
		loan := submit(t, p)
		require.NoError(t, loan.DeleteCharge(loan.Charges()[0].ID))
		assert.Empty(t, loan.Charges())

		err := loan.DeleteCharge(1)
		assert.ErrorIs(t, err, customError.ErrChargeNotFound)
	})
}

func TestOfficeTransfer(t *testing.T) {
	loan := disbursed(t, flatParams())

	tx, err := loan.InitiateTransfer(op(), domain.CloseCommand{Date: date(1, 10)})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusTransferInProgress, loan.Status())
	assert.True(t, tx.Amount.Equal(dec("1000")))

	_, err = loan.RejectTransfer(op(), domain.CloseCommand{Date: date(1, 11)})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusTransferOnHold, loan.Status())

	_, err = loan.AcceptTransfer(op(), domain.CloseCommand{Date: date(1, 12)})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, loan.Status())
	assert.True(t, loan.Summary().Principal.Equal(dec("1000")))
}

func TestDeriveAccountingBridgeData(t *testing.T) {
	loan := disbursed(t, flatParams())
	original := repay(t, loan, date(2, 1), "550")
	existing := loan.TransactionIDs()
	reversed := loan.ReversedTransactionIDs()

	_, _, err := loan.WaiveInterest(op(), domain.WaiveInterestCommand{Date: date(1, 15), Amount: cash("75")})
	require.NoError(t, err)

	data := loan.DeriveAccountingBridgeData(existing, reversed, false)

	assert.Equal(t, "USD", data.Currency)
	require.Len(t, data.Transactions, 3)
	byType := make(map[domain.TransactionType][]domain.JournalTransaction)
	for _, jt := range data.Transactions {
		byType[jt.Type] = append(byType[jt.Type], jt)
	}
	require.Len(t, byType[domain.TransactionRepayment], 2)
	require.Len(t, byType[domain.TransactionWaiveInterest], 1)
	for _, jt := range byType[domain.TransactionRepayment] {
		if jt.ID == original.ID {
			assert.True(t, jt.Reversed)
		} else {
			assert.False(t, jt.Reversed)
			assert.True(t, jt.Principal.Equal(dec("525")))
		}
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	build := func() *domain.Loan {
		loan := disbursed(t, flatParams())
		repay(t, loan, date(2, 1), "300")
		repay(t, loan, date(1, 20), "200")
		_, _, err := loan.WaiveInterest(op(), domain.WaiveInterestCommand{Date: date(1, 10), Amount: cash("30")})
		require.NoError(t, err)
		return loan
	}

	a, b := build(), build()

	assert.Equal(t, a.State(), b.State())
	assertConserved(t, a)
}

func TestRestoreLoanKeepsState(t *testing.T) {
	loan := disbursed(t, flatParams())
	repay(t, loan, date(2, 1), "550")

	restored := domain.RestoreLoan(loan.State())

	assert.Equal(t, loan.State(), restored.State())
	_, err := restored.ReprocessTransactions()
	assert.Error(t, err, "an unbound loan cannot replay")
}
