package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"familybudget/internal/amqp"
	"familybudget/internal/cli"
	apphttp "familybudget/internal/http"
	"familybudget/internal/log"
	"familybudget/internal/relay"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp, os.Stdout)
	cfg := cli.LoadAndValidateConfig(logger, nil)

	opts := []relay.Option{
		relay.WithTimeout(cfg.BackendTimeout),
		relay.WithLogger(logger),
	}

	// Change events are optional: without a broker the relay still serves.
	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, expense events disabled", log.FieldError, err)
		} else {
			defer publisher.Close()
			opts = append(opts, relay.WithEventPublisher(publisher))
			logger.Info("Publishing expense events", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("Expense events disabled - no AMQP_URL provided")
	}

	rl, err := relay.New(cfg.BackendURL, opts...)
	if err != nil {
		logger.Error("Failed to create relay", log.FieldError, err, "backend", cfg.BackendURL)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, rl, apphttp.Options{
		BackendURL:     cfg.BackendURL,
		LoginRateLimit: cfg.LoginRateLimit,
		BackendTimeout: cfg.BackendTimeout,
		Logger:         logger,
	})

	ctx, cancel := cli.ShutdownContext(context.Background(), logger)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting budget relay", "port", cfg.Port, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	m := srv.Metrics()
	logger.Info("Server stopped gracefully",
		"requests", m.Requests,
		"failed_requests", m.FailedRequests,
		"login_limited", m.LoginLimited)
}
