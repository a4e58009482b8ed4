package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/partition"
)

var (
	dbURL          = flag.String("db-url", getEnv("CHRONICLE_DATABASE_URL", "postgres://localhost/chronicle?sslmode=disable"), "PostgreSQL connection URL")
	table          = flag.String("table", getEnv("CHRONICLE_AUDIT_TABLE", "audit_entries"), "Log entry table name")
	createSchedule = flag.String("create-schedule", "0 1 * * *", "Cron schedule for partition creation (default: 01:00 UTC)")
	pruneSchedule  = flag.String("prune-schedule", "30 1 1 * *", "Cron schedule for partition pruning (default: 1st day 01:30 UTC)")
	aheadMonths    = flag.Int("ahead", 1, "Number of future months to keep partitions for")
	retention      = flag.Int("retention-months", 0, "Retention window in months; 0 disables pruning")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	runOnce        = flag.Bool("run-once", false, "Run creation and pruning once and exit")
)

func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	manager, err := partition.NewManager(db, "postgres", *table,
		partition.WithAheadMonths(*aheadMonths),
		partition.WithRetentionMonths(*retention))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create partition manager")
	}

	if *runOnce {
		runCreate(logger, manager)
		if *retention > 0 {
			runPrune(logger, manager)
		}
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*createSchedule, func() { runCreate(logger, manager) }); err != nil {
		logger.WithError(err).Fatal("Failed to schedule partition creation")
	}

	if *retention > 0 {
		if _, err := c.AddFunc(*pruneSchedule, func() { runPrune(logger, manager) }); err != nil {
			logger.WithError(err).Fatal("Failed to schedule partition pruning")
		}
	} else {
		logger.Info("Retention not configured; pruning disabled")
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"create_schedule": *createSchedule,
		"prune_schedule":  *pruneSchedule,
	}).Info("Chronicle partition maintainer started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	<-c.Stop().Done()
}

func runCreate(logger *logrus.Logger, manager *partition.Manager) {
	created, err := manager.CreateAhead(context.Background(), -1)
	if err != nil {
		logger.WithError(err).Error("Partition creation failed")
		return
	}
	logger.WithField("created", created).Info("Partition creation completed")
}

func runPrune(logger *logrus.Logger, manager *partition.Manager) {
	dropped, err := manager.Prune(context.Background(), -1, false)
	if err != nil {
		logger.WithError(err).Error("Partition pruning failed")
		return
	}
	logger.WithField("dropped", len(dropped)).Info("Partition pruning completed")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
