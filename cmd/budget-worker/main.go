package main

import (
	"context"
	"errors"
	"os"
	"time"

	"familybudget/internal/amqp"
	"familybudget/internal/cache"
	"familybudget/internal/cli"
	"familybudget/internal/config"
	"familybudget/internal/log"
	"familybudget/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker, os.Stdout)
	logger.Info("Starting budget-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	journal := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer journal.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	journalWorker := worker.NewJournalWorker(journal, cfg.DedupeTTL, logger)

	caches := cache.NewManager(logger)
	caches.Register(journalWorker.DedupeCache())
	caches.StartCleanup(cfg.DedupeTTL)
	defer caches.Stop()

	ctx, cancel := cli.ShutdownContext(context.Background(), logger)
	defer cancel()

	if counts, err := journal.CountByOperation(ctx); err != nil {
		logger.Warn("Could not read journal counts", log.FieldError, err)
	} else {
		logger.Info("Journal opened", "path", cfg.SQLiteDBPath, "counts", counts)
	}

	done := make(chan error, 1)
	go func() {
		done <- amqpClient.ConsumeExpenseChanges(ctx, journalWorker.HandleExpenseChanged)
	}()

	var consumeErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down worker...")
		select {
		case consumeErr = <-done:
		case <-time.After(30 * time.Second):
			logger.Warn("Shutdown timeout reached")
		}
	case consumeErr = <-done:
	}
	if consumeErr != nil && !errors.Is(consumeErr, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, consumeErr)
	}

	stats := journalWorker.Stats()
	logger.Info("Worker stopped",
		"recorded", stats.Recorded,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed)
}
