package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/processor"
	"github.com/segyhp/loan-servicing-engine/internal/schedule"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usd = money.NewCurrency("USD", 2)

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:", PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func opCtx() domain.OpContext {
	return domain.OpContext{TenantID: "default", BusinessDate: day(6, 1)}
}

func bind(t *testing.T, loan *domain.Loan) {
	t.Helper()
	registry, err := processor.NewRegistry("")
	require.NoError(t, err)
	strategy, err := registry.Get(loan.Product().StrategyCode)
	require.NoError(t, err)
	loan.Bind(strategy, schedule.NewGenerator())
}

// activeLoan is a 1000 flat loan disbursed on 1 January.
func activeLoan(t *testing.T, clientID int64) *domain.Loan {
	t.Helper()
	loan, err := domain.NewLoan(domain.SubmitLoanParams{
		ClientID:                 clientID,
		OfficeID:                 1,
		Currency:                 usd,
		Principal:                decimal.NewFromInt(1000),
		SubmittedOn:              day(1, 1),
		ExpectedDisbursementDate: day(1, 1),
		Product:                  domain.ProductConfig{ProductID: 7},
		Terms: domain.LoanTerms{
			NumberOfRepayments:    2,
			RepaymentEvery:        1,
			RepaymentFrequency:    domain.FrequencyMonths,
			InterestRatePerPeriod: decimal.NewFromInt(5),
			InterestMethod:        domain.InterestMethodFlat,
			AmortizationMethod:    domain.AmortizationEqualInstallments,
		},
	})
	require.NoError(t, err)
	bind(t, loan)
	require.NoError(t, loan.Approve(opCtx(), domain.ApproveCommand{ApprovedOn: day(1, 1)}))
	_, _, err = loan.Disburse(opCtx(), domain.DisburseCommand{Date: day(1, 1)})
	require.NoError(t, err)
	return loan
}

func TestLoanRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	loan := activeLoan(t, 1)
	require.NoError(t, repo.Create(ctx, loan))
	assert.NotZero(t, loan.ID())
	assert.Equal(t, int64(1), loan.Version())

	got, err := repo.GetByID(ctx, loan.ID())
	require.NoError(t, err)
	assert.Equal(t, loan.ID(), got.ID())
	assert.Equal(t, domain.LoanStatusActive, got.Status())
	assert.Equal(t, int64(1), got.Version())
	require.Len(t, got.Installments(), 2)
	assert.True(t, got.TotalOutstanding().Equal(decimal.NewFromInt(1100)))

	// a loaded loan keeps working once bound again
	bind(t, got)
	_, _, err = got.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(2, 1), Amount: money.MustParse(usd, "550")})
	require.NoError(t, err)
	assert.True(t, got.TotalOutstanding().Equal(decimal.NewFromInt(550)))
}

func TestLoanRepository_GetByID_NotFound(t *testing.T) {
	repo := NewLoanRepository(newTestDB(t))

	_, err := repo.GetByID(context.Background(), 42)

	assert.True(t, errors.Is(err, customError.ErrLoanNotFound))
}

func TestLoanRepository_SaveChecksVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	loan := activeLoan(t, 1)
	require.NoError(t, repo.Create(ctx, loan))

	first, err := repo.GetByID(ctx, loan.ID())
	require.NoError(t, err)
	stale, err := repo.GetByID(ctx, loan.ID())
	require.NoError(t, err)

	bind(t, first)
	_, _, err = first.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(2, 1), Amount: money.MustParse(usd, "100")})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version())

	err = repo.Save(ctx, stale)
	assert.True(t, errors.Is(err, customError.ErrDataIntegrityConflict))

	got, err := repo.GetByID(ctx, loan.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version())
	assert.Len(t, got.Transactions(), 2)
}

func TestLoanRepository_TransactionsKeepInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	loan := activeLoan(t, 1)
	_, _, err := loan.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(3, 1), Amount: money.MustParse(usd, "100")})
	require.NoError(t, err)
	// back-dated, so it sorts before the March repayment by date
	_, _, err = loan.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(2, 1), Amount: money.MustParse(usd, "50")})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, loan))

	records, err := repo.ListTransactions(ctx, loan.ID())
	require.NoError(t, err)

	// the March repayment is reallocated by the replay, so it is reversed and
	// its replacement is appended after the February one
	require.Len(t, records, 4)
	want := []struct {
		date     time.Time
		reversed bool
	}{
		{day(1, 1), false},
		{day(3, 1), true},
		{day(2, 1), false},
		{day(3, 1), false},
	}
	for i, w := range want {
		assert.True(t, records[i].Date.UTC().Equal(w.date), "record %d date %s", i, records[i].Date)
		assert.Equal(t, w.reversed, records[i].Reversed, "record %d", i)
		if i > 0 {
			assert.Greater(t, records[i].Seq, records[i-1].Seq)
		}
	}
}

func TestLoanRepository_DuplicateExternalIDAcrossLoans(t *testing.T) {
	db := newTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	first := activeLoan(t, 1)
	_, _, err := first.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(2, 1), Amount: money.MustParse(usd, "10"), ExternalID: "rcpt-1"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, first))

	second := activeLoan(t, 2)
	require.NoError(t, repo.Create(ctx, second))
	_, _, err = second.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(2, 1), Amount: money.MustParse(usd, "10"), ExternalID: "rcpt-1"})
	require.NoError(t, err)

	tm := NewTxManager(db)
	err = tm.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.Save(ctx, second)
	})

	assert.True(t, errors.Is(err, customError.ErrDataIntegrityConflict))
	got, err := repo.GetByID(ctx, second.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version(), "the failed save is rolled back")
}

func TestLoanRepository_ListIDsByStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	active := activeLoan(t, 1)
	require.NoError(t, repo.Create(ctx, active))
	closed := activeLoan(t, 2)
	_, _, err := closed.MakeRepayment(opCtx(), domain.RepaymentCommand{Date: day(2, 1), Amount: money.MustParse(usd, "1100")})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, closed))

	ids, err := repo.ListIDsByStatus(ctx, domain.LoanStatusActive, domain.LoanStatusOverpaid)
	require.NoError(t, err)
	assert.Equal(t, []int64{active.ID()}, ids)

	ids, err = repo.ListIDsByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	repo := NewLoanRepository(db)
	tm := NewTxManager(db)
	ctx := context.Background()
	boom := errors.New("boom")

	loan := activeLoan(t, 1)
	err := tm.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, loan); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	ids, err := repo.ListIDsByStatus(ctx, domain.LoanStatusActive)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
