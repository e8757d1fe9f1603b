package app

import (
	"context"
	"fmt"

	"github.com/segyhp/loan-servicing-engine/internal/config"
	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/events"
	"github.com/segyhp/loan-servicing-engine/internal/lock"
	"github.com/segyhp/loan-servicing-engine/internal/processor"
	"github.com/segyhp/loan-servicing-engine/internal/repository"
	"github.com/segyhp/loan-servicing-engine/internal/schedule"
	"github.com/segyhp/loan-servicing-engine/internal/service"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// App holds the shared infrastructure of the server and scheduler binaries.
type App struct {
	Config     *config.Config
	DB         *sqlx.DB
	Redis      *redis.Client
	Publisher  events.Publisher
	Outbox     repository.JournalOutboxRepository
	Dispatcher *events.Dispatcher
	Service    *service.LoanService

	closers []func() error
}

// Build connects to the database, the optional redis and broker, and wires
// the loan service.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{Config: cfg}

	db, err := repository.Open(cfg.Database.Driver, cfg.Database.URL, repository.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.GetConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := repository.Migrate(ctx, db); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lock.NewRedisLocker(a.Redis, cfg.GetLockTTL(), log)
	} else {
		log.Warn("REDIS_URL not set, loan locks are held in process")
	}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.NewRabbitPublisher(events.RabbitConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Publisher = publisher
		a.closers = append(a.closers, publisher.Close)
	} else {
		log.Warn("RABBITMQ_URL not set, business events stay in process")
	}

	registry, err := processor.NewRegistry(cfg.Business.DefaultStrategy)
	if err != nil {
		a.Close()
		return nil, err
	}
	workingDays, err := cfg.GetWorkingDays()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Outbox = repository.NewJournalOutboxRepository(db, cfg.Business.OutboxMaxAttempts)
	a.Dispatcher = events.NewDispatcher(a.Publisher, log)
	a.Service = service.NewLoanService(
		repository.NewLoanRepository(db),
		repository.NewScheduleHistoryRepository(db),
		a.Outbox,
		repository.NewAccountTransferRepository(db),
		repository.NewCycleRepository(db),
		repository.NewCollateralRepository(db),
		repository.NewCalendarRepository(db),
		repository.NewTxManager(db),
		locker,
		a.Dispatcher,
		registry,
		schedule.NewGenerator(),
		service.Settings{
			DefaultTenant:     cfg.Business.DefaultTenant,
			Location:          cfg.GetLocation(),
			WorkingDays:       workingDays,
			NonWorkingDayRule: domain.NonWorkingDayRule(cfg.Business.NonWorkingDayRule),
		},
		log,
	)
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
