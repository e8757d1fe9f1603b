package mocks

import (
	"context"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) GetByID(ctx context.Context, loanID int64) (*domain.Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) Save(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) ListIDsByStatus(ctx context.Context, statuses ...domain.LoanStatus) ([]int64, error) {
	args := m.Called(ctx, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockLoanRepository) ListTransactions(ctx context.Context, loanID int64) ([]repository.TransactionRecord, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.TransactionRecord), args.Error(1)
}

type MockScheduleHistoryRepository struct {
	mock.Mock
}

func (m *MockScheduleHistoryRepository) Archive(ctx context.Context, loan *domain.Loan, installments []*domain.RepaymentInstallment, rescheduleRequestID *int64) error {
	args := m.Called(ctx, loan, installments, rescheduleRequestID)
	return args.Error(0)
}

func (m *MockScheduleHistoryRepository) ListByLoan(ctx context.Context, loanID int64) ([]repository.ScheduleHistoryRecord, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ScheduleHistoryRecord), args.Error(1)
}

type MockJournalOutboxRepository struct {
	mock.Mock
}

func (m *MockJournalOutboxRepository) PostJournalEntries(ctx context.Context, data domain.AccountingBridgeData) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *MockJournalOutboxRepository) FetchPending(ctx context.Context, limit int) ([]repository.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.OutboxEntry), args.Error(1)
}

func (m *MockJournalOutboxRepository) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJournalOutboxRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	args := m.Called(ctx, id, cause)
	return args.Error(0)
}

type MockAccountTransferRepository struct {
	mock.Mock
}

func (m *MockAccountTransferRepository) TransferFunds(ctx context.Context, transfer domain.AccountTransfer) (domain.AccountTransferDetails, error) {
	args := m.Called(ctx, transfer)
	return args.Get(0).(domain.AccountTransferDetails), args.Error(1)
}

func (m *MockAccountTransferRepository) IsAccountTransfer(ctx context.Context, loanTransactionID int64, accountType domain.AccountType, accountID int64) (bool, error) {
	args := m.Called(ctx, loanTransactionID, accountType, accountID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountTransferRepository) ListByAccount(ctx context.Context, accountType domain.AccountType, accountID int64) ([]domain.AccountTransferDetails, error) {
	args := m.Called(ctx, accountType, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AccountTransferDetails), args.Error(1)
}

type MockCycleRepository struct {
	mock.Mock
}

func (m *MockCycleRepository) ListByBorrower(ctx context.Context, clientID, groupID int64) ([]domain.CycleEntry, error) {
	args := m.Called(ctx, clientID, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CycleEntry), args.Error(1)
}

func (m *MockCycleRepository) Upsert(ctx context.Context, clientID, groupID int64, entries []domain.CycleEntry) error {
	args := m.Called(ctx, clientID, groupID, entries)
	return args.Error(0)
}

func (m *MockCycleRepository) Delete(ctx context.Context, loanID int64) error {
	args := m.Called(ctx, loanID)
	return args.Error(0)
}

type MockCollateralRepository struct {
	mock.Mock
}

func (m *MockCollateralRepository) Create(ctx context.Context, c *repository.ClientCollateral) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCollateralRepository) GetByID(ctx context.Context, id int64) (*repository.ClientCollateral, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ClientCollateral), args.Error(1)
}

func (m *MockCollateralRepository) Reserve(ctx context.Context, id int64, quantity decimal.Decimal) error {
	args := m.Called(ctx, id, quantity)
	return args.Error(0)
}

func (m *MockCollateralRepository) Release(ctx context.Context, id int64, quantity decimal.Decimal) error {
	args := m.Called(ctx, id, quantity)
	return args.Error(0)
}

type MockCalendarRepository struct {
	mock.Mock
}

func (m *MockCalendarRepository) AddHoliday(ctx context.Context, officeID int64, date time.Time, name string) error {
	args := m.Called(ctx, officeID, date, name)
	return args.Error(0)
}

func (m *MockCalendarRepository) Holidays(ctx context.Context, officeID int64) ([]time.Time, error) {
	args := m.Called(ctx, officeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}
