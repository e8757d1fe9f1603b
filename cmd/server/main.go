package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/segyhp/loan-servicing-engine/internal/app"
	"github.com/segyhp/loan-servicing-engine/internal/config"
	"github.com/segyhp/loan-servicing-engine/internal/handler"
	"github.com/segyhp/loan-servicing-engine/internal/logging"
	"github.com/segyhp/loan-servicing-engine/pkg/response"

	"github.com/gorilla/mux"
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
	response.SetLogger(log)

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	loanHandler := handler.NewLoanHandler(a.Service)
	healthHandler := handler.NewHealthHandler(a.DB, a.Redis, cfg.GetHealthTimeout())

	// Setup routes
	router := setupRoutes(loanHandler, healthHandler)

	server := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}

func setupRoutes(loanHandler *handler.LoanHandler, healthHandler *handler.HealthHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware, response.CORSMiddleware)

	healthHandler.RegisterRoutes(router)
	loanHandler.RegisterRoutes(router)

	return router
}
