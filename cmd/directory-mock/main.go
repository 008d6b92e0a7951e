package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/customer-directory/internal/config"
	"github.com/jogardn/customer-directory/internal/middleware"
	"github.com/jogardn/customer-directory/internal/source"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	config.LoadDotEnv(".env", logger)
	cfg, err := config.MockFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	router := mux.NewRouter()
	source.NewHandler(store, logger).Register(router)
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logging(logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("Starting mock customer directory")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down mock customer directory...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}

	logger.Info("Mock customer directory gracefully stopped")
}

func openStore(ctx context.Context, cfg config.Mock, logger *logrus.Logger) (source.Store, func()) {
	if !cfg.UsePostgres() {
		logger.Info("DB_HOST not set, serving seeded in-memory directory")
		return source.NewMemoryStore(source.SeedCustomers()...), func() {}
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	if err := source.WaitForDatabase(ctx, db, 30, 2*time.Second, logger); err != nil {
		logger.WithError(err).Fatal("Database not ready")
	}
	if err := source.CreateTables(ctx, db); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	seeded, err := source.SeedIfEmpty(ctx, db, source.SeedCustomers())
	if err != nil {
		logger.WithError(err).Fatal("Failed to seed database")
	}
	if seeded {
		logger.Info("Seeded empty database with sample customers")
	}

	return source.NewPostgresStore(db, logger), func() { db.Close() }
}
