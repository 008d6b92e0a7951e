package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/customer-directory/internal/circuitbreaker"
	"github.com/jogardn/customer-directory/internal/config"
	"github.com/jogardn/customer-directory/internal/dashboard"
	"github.com/jogardn/customer-directory/internal/directory"
	"github.com/jogardn/customer-directory/internal/events"
	"github.com/jogardn/customer-directory/internal/metrics"
	"github.com/jogardn/customer-directory/internal/middleware"
	"github.com/jogardn/customer-directory/internal/viewmodel"
	"github.com/jogardn/customer-directory/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	config.LoadDotEnv(".env", logger)
	cfg, err := config.DashboardFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	breakers := circuitbreaker.NewManager(logger)
	clientOpts := []directory.Option{
		directory.WithTimeout(cfg.DirectoryTimeout),
		directory.WithMetrics(m),
	}
	if cfg.CircuitBreakerEnabled {
		cb := breakers.GetOrCreate("directory", circuitbreaker.Config{
			MaxFailures: cfg.CircuitBreakerMaxFailures,
			Timeout:     cfg.CircuitBreakerTimeout,
		})
		clientOpts = append(clientOpts, directory.WithCircuitBreaker(cb))
	}
	client := directory.NewClient(cfg.DirectoryURL, logger, clientOpts...)

	handler := dashboard.NewHandler(client, dashboard.Options{
		Mapper:   viewmodel.NewMapper(viewmodel.DateFormatter{Layout: cfg.DateLayout, Location: cfg.DateLocation}),
		Timeout:  cfg.DirectoryTimeout,
		Metrics:  m,
		Breakers: breakers,
	}, logger)
	defer handler.Close()

	wsHub := websocket.NewHub(m, logger)
	handler.SetWebSocketHub(wsHub)

	if cfg.KafkaEnabled() {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, fetch outcomes will not be published")
		} else {
			defer producer.Close()
			handler.SetEventPublisher(producer)
			logger.WithField("brokers", cfg.KafkaBrokers).Info("Publishing fetch outcomes to Kafka")
		}
	}

	router := mux.NewRouter()
	handler.Register(router)
	router.HandleFunc("/ws", wsHub.HandleWebSocket)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"port":      cfg.Port,
			"directory": cfg.DirectoryURL,
		}).Info("Starting customer dashboard")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	handler.LoadCustomers(gctx, nil)

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}

	logger.Info("Server gracefully stopped")
}
