// Package main is the one-shot reminder sweeper. It walks every open
// signature request once, schedules any due reminders, and exits. Meant
// to run from cron or a Kubernetes CronJob as an alternative to the
// in-process sweeper in the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/inkflow/internal/config"
	"github.com/onnwee/inkflow/internal/db"
	"github.com/onnwee/inkflow/internal/docstore"
	"github.com/onnwee/inkflow/internal/middleware"
	"github.com/onnwee/inkflow/internal/notify"
	"github.com/onnwee/inkflow/internal/reminder"
	"github.com/onnwee/inkflow/internal/signing"
	"github.com/onnwee/inkflow/internal/tasks"
	"github.com/onnwee/inkflow/internal/token"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to config file (optional)")
	timeout := flag.Duration("timeout", 5*time.Minute, "maximum duration for the sweep")
	flag.Parse()

	if *help {
		fmt.Println("Inkflow Reminder Sweeper")
		fmt.Println()
		fmt.Println("Usage: sweeper [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	store := signing.NewPostgresStore(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Reminders run through the same dispatcher the API server uses, so
	// the notification handler and its logging stay identical. The
	// dispatcher drains before exit.
	dispatcher := tasks.NewDispatcher(tasks.DispatcherConfig{
		Workers:   1,
		QueueSize: cfg.TaskQueueSize,
		Logger:    logger,
	})

	docs := docstore.NewMemoryStore()
	engine := signing.NewEngine(store, nil, dispatcher, token.NewIssuer(), nil, signing.EngineConfig{Logger: logger})
	followups := signing.NewFollowups(
		engine,
		store,
		notify.NewLogNotifier(logger),
		signing.NewPassthroughMutator(docs),
		signing.NewTextCertificateGenerator(docs),
		signing.FollowupConfig{BaseURL: cfg.BaseURL, Logger: logger},
	)
	followups.Register(dispatcher)

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("task dispatcher start failed", "error", err)
		os.Exit(1)
	}

	sweeper := reminder.NewSweeper(store, dispatcher, reminder.SweeperConfig{Logger: logger})
	sent, err := sweeper.RunOnce(ctx)
	if sent > 0 {
		// Stop does not drain the queue; give the worker a moment to
		// deliver the scheduled notifications.
		time.Sleep(2 * time.Second)
	}
	dispatcher.Stop()
	if err != nil {
		logger.Error("sweep failed", "reminders_sent", sent, "error", err)
		os.Exit(1)
	}

	logger.Info("sweep completed", "reminders_sent", sent)
}
