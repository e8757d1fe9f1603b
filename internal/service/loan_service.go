package service

import (
	"context"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/lock"
	"github.com/segyhp/loan-servicing-engine/internal/repository"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProcessorResolver looks up the allocation strategy of a product.
type ProcessorResolver interface {
	Get(code string) (domain.TransactionProcessor, error)
}

// Settings are the business defaults the service runs with.
type Settings struct {
	DefaultTenant     string
	Location          *time.Location
	WorkingDays       []time.Weekday
	NonWorkingDayRule domain.NonWorkingDayRule
}

// CommandResult describes the outcome of a loan command.
type CommandResult struct {
	LoanID        int64
	TransactionID int64
	ChargeIDs     []int64
	Changes       *domain.ChangedTransactionDetail
	Loan          *domain.Loan
}

type LoanService struct {
	LoanRepo       repository.LoanRepository
	HistoryRepo    repository.ScheduleHistoryRepository
	Accounting     domain.AccountingSink
	Transfers      domain.AccountTransferService
	CycleRepo      repository.CycleRepository
	CollateralRepo repository.CollateralRepository
	CalendarRepo   repository.CalendarRepository
	Tx             TxRunner
	Locker         lock.Locker
	Notifier       domain.Notifier
	Processors     ProcessorResolver
	Generator      domain.ScheduleGenerator

	settings Settings
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewLoanService(
	loanRepo repository.LoanRepository,
	historyRepo repository.ScheduleHistoryRepository,
	accounting domain.AccountingSink,
	transfers domain.AccountTransferService,
	cycleRepo repository.CycleRepository,
	collateralRepo repository.CollateralRepository,
	calendarRepo repository.CalendarRepository,
	tx TxRunner,
	locker lock.Locker,
	notifier domain.Notifier,
	processors ProcessorResolver,
	generator domain.ScheduleGenerator,
	settings Settings,
	log logrus.FieldLogger,
) *LoanService {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.DefaultTenant == "" {
		settings.DefaultTenant = "default"
	}
	return &LoanService{
		LoanRepo:       loanRepo,
		HistoryRepo:    historyRepo,
		Accounting:     accounting,
		Transfers:      transfers,
		CycleRepo:      cycleRepo,
		CollateralRepo: collateralRepo,
		CalendarRepo:   calendarRepo,
		Tx:             tx,
		Locker:         locker,
		Notifier:       notifier,
		Processors:     processors,
		Generator:      generator,
		settings:       settings,
		log:            log,
		now:            time.Now,
	}
}

type tenantKey struct{}
type businessDateKey struct{}

// WithTenant scopes ctx to a tenant.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// WithBusinessDate overrides today's date for the commands run with ctx.
func WithBusinessDate(ctx context.Context, date time.Time) context.Context {
	return context.WithValue(ctx, businessDateKey{}, utils.TruncateDay(date))
}

// TenantFrom returns the tenant ctx is scoped to, if any.
func TenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}

func (s *LoanService) tenant(ctx context.Context) string {
	if t := TenantFrom(ctx); t != "" {
		return t
	}
	return s.settings.DefaultTenant
}

func (s *LoanService) businessDate(ctx context.Context) time.Time {
	if d, ok := ctx.Value(businessDateKey{}).(time.Time); ok {
		return d
	}
	now := s.now().In(s.settings.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *LoanService) opContext(ctx context.Context, officeID int64) (domain.OpContext, error) {
	holidays, err := s.CalendarRepo.Holidays(ctx, officeID)
	if err != nil {
		return domain.OpContext{}, err
	}
	return domain.OpContext{
		TenantID:     s.tenant(ctx),
		BusinessDate: s.businessDate(ctx),
		Calendar: domain.Calendar{
			Holidays:          holidays,
			WorkingDays:       s.settings.WorkingDays,
			NonWorkingDayRule: s.settings.NonWorkingDayRule,
		},
	}, nil
}

func (s *LoanService) bind(loan *domain.Loan) error {
	p, err := s.Processors.Get(loan.Product().StrategyCode)
	if err != nil {
		return err
	}
	loan.Bind(p, s.Generator)
	return nil
}

// outcome is what a command body reports back to execute.
type outcome struct {
	transactionID   int64
	chargeIDs       []int64
	changes         *domain.ChangedTransactionDetail
	accountTransfer bool
	data            map[string]any

	// skip leaves the loan untouched: nothing is saved or announced
	skip bool
}

type commandFunc func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error)

// snapshot is the part of a loan the side effects compare against.
type snapshot struct {
	status          domain.LoanStatus
	disbursedOn     *time.Time
	collateral      []domain.CollateralItem
	transactionIDs  []int64
	reversedIDs     []int64
	netDisbursal    decimal.Decimal
	transactionByID map[int64]*domain.LoanTransaction
}

func takeSnapshot(loan *domain.Loan) snapshot {
	byID := make(map[int64]*domain.LoanTransaction)
	for _, tx := range loan.Transactions() {
		byID[tx.ID] = tx
	}
	return snapshot{
		status:          loan.Status(),
		disbursedOn:     loan.ActualDisbursementDate(),
		collateral:      loan.Collateral(),
		transactionIDs:  loan.TransactionIDs(),
		reversedIDs:     loan.ReversedTransactionIDs(),
		netDisbursal:    loan.NetDisbursalAmount(),
		transactionByID: byID,
	}
}

// execute runs one command against a loan: lock, load, pre-hook, command,
// side effects, archive, save and journal in one transaction, then the
// post-hook.
func (s *LoanService) execute(ctx context.Context, loanID int64, eventType string, fn commandFunc) (*CommandResult, error) {
	release, err := s.Locker.Acquire(ctx, lock.LoanKey(loanID))
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		result *CommandResult
		event  domain.BusinessEvent
		out    *outcome
	)
	err = s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		loan, err := s.LoanRepo.GetByID(ctx, loanID)
		if err != nil {
			return err
		}
		if err := s.bind(loan); err != nil {
			return err
		}
		op, err := s.opContext(ctx, loan.OfficeID())
		if err != nil {
			return err
		}

		event = domain.NewBusinessEvent(eventType, op.TenantID, loanID, s.now().UTC())
		if err := s.Notifier.NotifyPre(ctx, event); err != nil {
			return err
		}

		before := takeSnapshot(loan)
		out, err = fn(ctx, loan, op)
		if err != nil {
			return err
		}
		if out == nil {
			out = &outcome{}
		}
		if out.skip {
			return nil
		}

		if err := s.applySideEffects(ctx, loan, before, out); err != nil {
			return err
		}
		if err := s.persist(ctx, loan, before, out.accountTransfer); err != nil {
			return err
		}

		result = &CommandResult{
			LoanID:        loan.ID(),
			TransactionID: out.transactionID,
			ChargeIDs:     out.chargeIDs,
			Changes:       out.changes,
			Loan:          loan,
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"loan_id": loanID,
			"command": eventType,
			"tenant":  s.tenant(ctx),
			"fatal":   customError.IsFatal(err),
		}).Warn("loan command failed")
		return nil, err
	}
	if out.skip {
		return &CommandResult{LoanID: loanID}, nil
	}

	for k, v := range out.data {
		event.Data[k] = v
	}
	event.Data["status"] = string(result.Loan.Status())
	if result.TransactionID != 0 {
		event.Data["transaction_id"] = result.TransactionID
	}
	// the command has committed; a failing post-hook cannot undo it
	_ = s.Notifier.NotifyPost(ctx, event)

	changed := 0
	if result.Changes != nil {
		changed = len(result.Changes.NewTransactionMappings)
	}
	s.log.WithFields(logrus.Fields{
		"loan_id":             loanID,
		"command":             eventType,
		"tenant":              event.TenantID,
		"status":              result.Loan.Status(),
		"transaction_id":      result.TransactionID,
		"changed_transaction": changed,
	}).Info("loan command executed")

	return result, nil
}

// persist archives the replaced schedule, saves the loan and queues the
// journal entries of everything the command booked or reversed.
func (s *LoanService) persist(ctx context.Context, loan *domain.Loan, before snapshot, accountTransfer bool) error {
	if archive := loan.TakeScheduleArchive(); len(archive) > 0 {
		if err := s.HistoryRepo.Archive(ctx, loan, archive, nil); err != nil {
			return err
		}
	}
	if err := s.LoanRepo.Save(ctx, loan); err != nil {
		return err
	}
	data := loan.DeriveAccountingBridgeData(before.transactionIDs, before.reversedIDs, accountTransfer)
	if err := s.Accounting.PostJournalEntries(ctx, data); err != nil {
		return customError.WrapCollaboratorError("accounting", err)
	}
	return nil
}

// GetLoan loads a loan with its current borrower cycle position.
func (s *LoanService) GetLoan(ctx context.Context, loanID int64) (*domain.Loan, error) {
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Product().IncludeInBorrowerCycle && loan.ActualDisbursementDate() != nil {
		entries, err := s.CycleRepo.ListByBorrower(ctx, loan.ClientID(), loan.GroupID())
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.LoanID == loan.ID() {
				loan.ApplyCycleCounters(e.LoanCounter, e.ProductCounter)
			}
		}
	}
	return loan, nil
}
