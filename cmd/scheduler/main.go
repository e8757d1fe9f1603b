package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/segyhp/loan-servicing-engine/internal/app"
	"github.com/segyhp/loan-servicing-engine/internal/config"
	"github.com/segyhp/loan-servicing-engine/internal/events"
	"github.com/segyhp/loan-servicing-engine/internal/logging"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	log.Info("Starting loan scheduler...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.GetLocation()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if err := setupCronJobs(ctx, c, a, log); err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}

	c.Start()
	log.Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	cancel()
	<-c.Stop().Done()
	log.Info("Scheduler stopped")
}

func setupCronJobs(ctx context.Context, c *cron.Cron, a *app.App, log logrus.FieldLogger) error {
	if a.Publisher != nil {
		relay := events.NewOutboxRelay(a.Outbox, a.Publisher, a.Config.RabbitMQ.JournalRoutingKey, a.Config.Scheduler.BatchSize, log)
		_, err := c.AddFunc(a.Config.Scheduler.OutboxRelaySpec, func() {
			if _, err := relay.RelayOnce(ctx); err != nil {
				log.WithError(err).Error("journal relay failed")
			}
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn("RABBITMQ_URL not set, journal entries stay in the outbox")
	}

	// accrue interest for accrual-accounted loans up to the business date
	_, err := c.AddFunc(a.Config.Scheduler.AccrualSpec, func() {
		count, err := a.Service.RunPeriodicAccruals(ctx)
		if err != nil {
			log.WithError(err).Error("periodic accrual run failed")
			return
		}
		log.WithField("loans", count).Info("periodic accrual run finished")
	})
	if err != nil {
		return err
	}

	log.Info("Cron jobs scheduled successfully")
	return nil
}
