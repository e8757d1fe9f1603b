package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/events"
	"github.com/segyhp/loan-servicing-engine/internal/lock"
	"github.com/segyhp/loan-servicing-engine/internal/mocks"
	"github.com/segyhp/loan-servicing-engine/internal/processor"
	"github.com/segyhp/loan-servicing-engine/internal/repository"
	"github.com/segyhp/loan-servicing-engine/internal/schedule"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var usd = money.NewCurrency("USD", 2)

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	svc        *LoanService
	db         *sqlx.DB
	loans      repository.LoanRepository
	outbox     repository.JournalOutboxRepository
	transfers  repository.AccountTransferRepository
	collateral repository.CollateralRepository
	dispatcher *events.Dispatcher
	posted     []string
}

// newFixture wires the service to an in-memory database with the business
// date fixed at 1 June 2024.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.Open(repository.DriverSQLite, ":memory:", repository.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))

	registry, err := processor.NewRegistry("")
	require.NoError(t, err)

	f := &fixture{
		db:         db,
		loans:      repository.NewLoanRepository(db),
		outbox:     repository.NewJournalOutboxRepository(db, 5),
		transfers:  repository.NewAccountTransferRepository(db),
		collateral: repository.NewCollateralRepository(db),
		dispatcher: events.NewDispatcher(nil, quietLogger()),
	}
	f.dispatcher.OnPost(events.AnyEvent, func(ctx context.Context, e domain.BusinessEvent) error {
		f.posted = append(f.posted, e.Type)
		return nil
	})
	f.svc = NewLoanService(
		f.loans,
		repository.NewScheduleHistoryRepository(db),
		f.outbox,
		f.transfers,
		repository.NewCycleRepository(db),
		f.collateral,
		repository.NewCalendarRepository(db),
		repository.NewTxManager(db),
		lock.NewLocalLocker(),
		f.dispatcher,
		registry,
		schedule.NewGenerator(),
		Settings{},
		quietLogger(),
	)
	f.svc.now = func() time.Time { return day(6, 1) }
	return f
}

// loanParams is a 1000 flat loan at 5% per month over two monthly
// installments of 550.
func loanParams(clientID int64) domain.SubmitLoanParams {
	return domain.SubmitLoanParams{
		ClientID:                 clientID,
		OfficeID:                 1,
		Currency:                 usd,
		Principal:                dec(1000),
		SubmittedOn:              day(1, 1),
		ExpectedDisbursementDate: day(1, 1),
		Product:                  domain.ProductConfig{ProductID: 7},
		Terms: domain.LoanTerms{
			NumberOfRepayments:    2,
			RepaymentEvery:        1,
			RepaymentFrequency:    domain.FrequencyMonths,
			InterestRatePerPeriod: dec(5),
			InterestMethod:        domain.InterestMethodFlat,
			AmortizationMethod:    domain.AmortizationEqualInstallments,
		},
	}
}

func (f *fixture) disbursedLoan(t *testing.T, p domain.SubmitLoanParams, on time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.SubmitLoan(ctx, p)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, res.LoanID, domain.ApproveCommand{ApprovedOn: day(1, 1)})
	require.NoError(t, err)
	_, err = f.svc.Disburse(ctx, res.LoanID, domain.DisburseCommand{Date: on})
	require.NoError(t, err)
	return res.LoanID
}

func (f *fixture) repay(t *testing.T, loanID int64, on time.Time, amount string) *CommandResult {
	t.Helper()
	res, err := f.svc.MakeRepayment(context.Background(), loanID, domain.RepaymentCommand{
		Type:   domain.TransactionRepayment,
		Date:   on,
		Amount: money.MustParse(usd, amount),
	})
	require.NoError(t, err)
	return res
}

func TestLoanService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := loanParams(1)
	p.LinkedSavingsAccountID = 55
	submitted, err := f.svc.SubmitLoan(ctx, p)
	require.NoError(t, err)
	id := submitted.LoanID
	assert.NotZero(t, id)

	_, err = f.svc.Approve(ctx, id, domain.ApproveCommand{ApprovedOn: day(1, 1)})
	require.NoError(t, err)

	disbursed, err := f.svc.Disburse(ctx, id, domain.DisburseCommand{Date: day(1, 1), AccountTransfer: true})
	require.NoError(t, err)
	assert.NotZero(t, disbursed.TransactionID)
	assert.Equal(t, domain.LoanStatusActive, disbursed.Loan.Status())

	f.repay(t, id, day(2, 1), "550")

	loan, err := f.svc.GetLoan(ctx, id)
	require.NoError(t, err)
	assert.True(t, loan.TotalOutstanding().Equal(dec(550)))
	assert.Equal(t, int64(4), loan.Version())

	transfers, err := f.transfers.ListByAccount(ctx, domain.AccountTypeSavings, 55)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, domain.AccountTypeLoan, transfers[0].FromType)
	assert.True(t, transfers[0].Amount.Equal(dec(1000)))

	pending, err := f.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "one journal batch for the disbursement and one for the repayment")

	assert.Equal(t, []string{
		events.LoanSubmitted,
		events.LoanApproved,
		events.LoanDisbursed,
		events.LoanRepaymentMade,
	}, f.posted)
}

func TestLoanService_BackDatedRepaymentReportsReplacements(t *testing.T) {
	f := newFixture(t)
	id := f.disbursedLoan(t, loanParams(1), day(1, 1))

	// 100 on 1 March pays 50 interest and 50 principal of the first installment
	first := f.repay(t, id, day(3, 1), "100")

	// once 100 lands on 1 February the March payment only meets principal
	second := f.repay(t, id, day(2, 1), "100")

	require.NotNil(t, second.Changes)
	assert.Contains(t, second.Changes.ReversedIDs(), first.TransactionID)

	loan, err := f.svc.GetLoan(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, loan.TotalOutstanding().Equal(dec(900)))
}

func TestLoanService_PreHookVetoLeavesLoanUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.disbursedLoan(t, loanParams(1), day(1, 1))
	veto := errors.New("repayments are frozen")
	f.dispatcher.OnPre(events.LoanRepaymentMade, func(ctx context.Context, e domain.BusinessEvent) error {
		return veto
	})
	f.posted = nil

	_, err := f.svc.MakeRepayment(ctx, id, domain.RepaymentCommand{
		Type:   domain.TransactionRepayment,
		Date:   day(2, 1),
		Amount: money.MustParse(usd, "550"),
	})

	assert.ErrorIs(t, err, veto)
	loan, err := f.svc.GetLoan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loan.Version())
	assert.Empty(t, f.posted)
}

func TestLoanService_AccountingFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.disbursedLoan(t, loanParams(1), day(1, 1))
	f.posted = nil

	sink := &mocks.MockJournalOutboxRepository{}
	sink.On("PostJournalEntries", mock.Anything, mock.MatchedBy(func(data domain.AccountingBridgeData) bool {
		return data.LoanID == id && len(data.Transactions) == 1
	})).Return(errors.New("ledger unavailable"))
	f.svc.Accounting = sink

	_, err := f.svc.MakeRepayment(ctx, id, domain.RepaymentCommand{
		Type:   domain.TransactionRepayment,
		Date:   day(2, 1),
		Amount: money.MustParse(usd, "550"),
	})

	require.Error(t, err)
	assert.Equal(t, customError.ErrCodeCollaboratorError, customError.CodeOf(err))
	loan, err := f.svc.GetLoan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loan.Version())
	assert.True(t, loan.TotalOutstanding().Equal(dec(1100)))
	assert.Empty(t, f.posted)
	sink.AssertExpectations(t)
}

func TestLoanService_RunPeriodicAccruals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accrual := loanParams(1)
	accrual.Product.AccrualAccounting = true
	accrualID := f.disbursedLoan(t, accrual, day(1, 1))
	cashID := f.disbursedLoan(t, loanParams(2), day(1, 1))

	accrued, err := f.svc.RunPeriodicAccruals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, accrued)

	accrued, err = f.svc.RunPeriodicAccruals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, accrued, "everything due is already accrued")

	records, err := f.loans.ListTransactions(ctx, accrualID)
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, string(domain.TransactionAccrual), last.Type)
	assert.True(t, last.Interest.Equal(dec(100)))

	cash, err := f.svc.GetLoan(ctx, cashID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cash.Version(), "cash accounting loans are not touched")
}

func TestLoanService_BorrowerCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := loanParams(1)
	p.Product.IncludeInBorrowerCycle = true
	first := f.disbursedLoan(t, p, day(2, 1))
	backDated := f.disbursedLoan(t, p, day(1, 15))

	counters := func(id int64) (int, int) {
		loan, err := f.svc.GetLoan(ctx, id)
		require.NoError(t, err)
		return loan.LoanCounter(), loan.ProductCounter()
	}

	loanCounter, productCounter := counters(backDated)
	assert.Equal(t, 1, loanCounter)
	assert.Equal(t, 1, productCounter)
	loanCounter, productCounter = counters(first)
	assert.Equal(t, 2, loanCounter, "a back-dated disbursement shifts later loans up")
	assert.Equal(t, 2, productCounter)

	_, err := f.svc.UndoDisbursal(ctx, backDated)
	require.NoError(t, err)

	loanCounter, _ = counters(first)
	assert.Equal(t, 1, loanCounter)
	loanCounter, _ = counters(backDated)
	assert.Equal(t, 0, loanCounter)
}

func TestLoanService_CollateralPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool := &repository.ClientCollateral{ClientID: 1, Name: "gold", Quantity: dec(10), BasePrice: dec(200), PctToBase: dec(100)}
	require.NoError(t, f.collateral.Create(ctx, pool))

	t.Run("other client's collateral is refused", func(t *testing.T) {
		p := loanParams(2)
		p.Collateral = []domain.CollateralItem{{CollateralID: pool.ID, Quantity: dec(6)}}
		_, err := f.svc.SubmitLoan(ctx, p)
		assert.ErrorIs(t, err, customError.ErrValidation)
	})

	p := loanParams(1)
	p.Collateral = []domain.CollateralItem{{CollateralID: pool.ID, Quantity: dec(6)}}
	res, err := f.svc.SubmitLoan(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "gold", res.Loan.Collateral()[0].Name)
	assert.True(t, res.Loan.CollateralValue().Equal(dec(1200)))

	stored, err := f.collateral.GetByID(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(dec(4)))

	_, err = f.svc.Reject(ctx, res.LoanID, domain.CloseCommand{Date: day(1, 2)})
	require.NoError(t, err)

	stored, err = f.collateral.GetByID(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(dec(10)), "rejection hands the collateral back")
}

func TestLoanService_TopupClosesPreviousLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	previous := f.disbursedLoan(t, loanParams(1), day(1, 1))

	p := loanParams(1)
	p.Principal = dec(2000)
	p.SubmittedOn = day(2, 1)
	p.ExpectedDisbursementDate = day(2, 1)
	p.Topup = &domain.TopupDetails{LoanIDToClose: previous}
	res, err := f.svc.SubmitLoan(ctx, p)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, res.LoanID, domain.ApproveCommand{ApprovedOn: day(2, 1)})
	require.NoError(t, err)

	disbursed, err := f.svc.Disburse(ctx, res.LoanID, domain.DisburseCommand{Date: day(2, 1)})
	require.NoError(t, err)
	assert.True(t, disbursed.Loan.NetDisbursalAmount().Equal(dec(900)))
	assert.True(t, disbursed.Loan.Topup().ClosedOutstanding.Equal(dec(1100)))
	// the disbursement carries the full principal; the closed loan's
	// outstanding leaves through the loan-to-loan transfer below
	disbursal := disbursed.Loan.Transactions()[0]
	assert.Equal(t, domain.TransactionDisbursement, disbursal.Type)
	assert.True(t, disbursal.Amount.Equal(dec(2000)))

	closed, err := f.svc.GetLoan(ctx, previous)
	require.NoError(t, err)
	assert.True(t, closed.Status().IsClosed())
	assert.True(t, closed.TotalOutstanding().IsZero())

	transfers, err := f.transfers.ListByAccount(ctx, domain.AccountTypeLoan, previous)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.True(t, transfers[0].Amount.Equal(dec(1100)))

	_, err = f.svc.UndoDisbursal(ctx, res.LoanID)
	assert.ErrorIs(t, err, customError.ErrValidation)
}

func TestLoanService_TopupRequiresActiveLoanOfSameClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.disbursedLoan(t, loanParams(2), day(1, 1))

	p := loanParams(1)
	p.Topup = &domain.TopupDetails{LoanIDToClose: other}
	_, err := f.svc.SubmitLoan(ctx, p)
	assert.ErrorIs(t, err, customError.ErrValidation)

	p.Topup = &domain.TopupDetails{LoanIDToClose: 999}
	_, err = f.svc.SubmitLoan(ctx, p)
	assert.ErrorIs(t, err, customError.ErrLoanNotFound)
}

func TestLoanService_Transfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.disbursedLoan(t, loanParams(1), day(1, 1))

	res, err := f.svc.Transfer(ctx, id, TransferInitiate, domain.CloseCommand{Date: day(2, 1)})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusTransferInProgress, res.Loan.Status())

	res, err = f.svc.Transfer(ctx, id, TransferAccept, domain.CloseCommand{Date: day(2, 2)})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, res.Loan.Status())

	_, err = f.svc.Transfer(ctx, id, TransferAction("teleport"), domain.CloseCommand{})
	assert.ErrorIs(t, err, customError.ErrValidation)
}

func TestLoanService_ExecuteFailures(t *testing.T) {
	lockErr := customError.WrapCacheError(errors.New("redis down"))

	tests := []struct {
		name        string
		setupMocks  func(locker *mocks.MockLocker, loans *mocks.MockLoanRepository, tx *mocks.PassthroughTx, released *bool)
		wantCode    string
		wantRelease bool
	}{
		{
			name: "lock not acquired",
			setupMocks: func(locker *mocks.MockLocker, loans *mocks.MockLoanRepository, tx *mocks.PassthroughTx, released *bool) {
				locker.On("Acquire", mock.Anything, "loan:9").Return(nil, lockErr)
			},
			wantCode: customError.ErrCodeCacheError,
		},
		{
			name: "loan not found",
			setupMocks: func(locker *mocks.MockLocker, loans *mocks.MockLoanRepository, tx *mocks.PassthroughTx, released *bool) {
				locker.On("Acquire", mock.Anything, "loan:9").Return(func() { *released = true }, nil)
				tx.On("WithTransaction", mock.Anything).Return()
				loans.On("GetByID", mock.Anything, int64(9)).Return(nil, customError.WrapLoanNotFound(9))
			},
			wantCode:    customError.ErrCodeLoanNotFound,
			wantRelease: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			locker := &mocks.MockLocker{}
			loans := &mocks.MockLoanRepository{}
			tx := &mocks.PassthroughTx{}
			notifier := &mocks.MockNotifier{}
			released := false
			tt.setupMocks(locker, loans, tx, &released)

			svc := NewLoanService(loans, nil, nil, nil, nil, nil, nil, tx, locker, notifier, nil, nil, Settings{}, quietLogger())

			// Act
			_, err := svc.MakeRepayment(context.Background(), 9, domain.RepaymentCommand{})

			// Assert
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, customError.CodeOf(err))
			assert.Equal(t, tt.wantRelease, released)
			locker.AssertExpectations(t)
			loans.AssertExpectations(t)
			tx.AssertExpectations(t)
			notifier.AssertNotCalled(t, "NotifyPre", mock.Anything, mock.Anything)
		})
	}
}

func TestWithBusinessDate(t *testing.T) {
	svc := &LoanService{settings: Settings{Location: time.UTC}, now: func() time.Time {
		return time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	}}

	assert.Equal(t, day(6, 1), svc.businessDate(context.Background()))

	ctx := WithBusinessDate(context.Background(), time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, day(3, 5), svc.businessDate(ctx))

	svc.settings.Location = time.FixedZone("UTC+9", 9*60*60)
	assert.Equal(t, day(6, 2), svc.businessDate(context.Background()))
}

func TestWithTenant(t *testing.T) {
	svc := &LoanService{settings: Settings{DefaultTenant: "default"}}
	assert.Equal(t, "default", svc.tenant(context.Background()))
	assert.Equal(t, "acme", svc.tenant(WithTenant(context.Background(), "acme")))
}
