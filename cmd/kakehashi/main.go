// Package main contains the entrypoint for the chat translation service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kakehashi/internal/app"
	"kakehashi/internal/app/tasks"
	"kakehashi/internal/config"
	"kakehashi/internal/database"
	"kakehashi/internal/dispatcher"
	"kakehashi/internal/gemini"
	"kakehashi/internal/logger"
	"kakehashi/internal/messenger"
	"kakehashi/internal/poll"
	"kakehashi/internal/queue"
	"kakehashi/internal/server"
	"kakehashi/internal/translator"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, starts the application, and returns an
// exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	msgClient, err := messenger.NewClient(cfg.Messenger, log)
	if err != nil {
		log.Error("Failed to create messenger client", "error", err)
		return 1
	}
	q := queue.New(store, log, cfg.Queue.MaxDeliveries, cfg.Queue.LeaseTimeout)
	tr := translator.New(store, gemClient, log, cfg.Translator.ContextMessages)
	polls := poll.NewManager(store, log)

	disp := dispatcher.New(
		q, store, msgClient, tr, polls, log,
		cfg.Queue.PollInterval, cfg.Queue.BatchSize, cfg.Queue.Workers,
		cfg.Translator.ResultsBaseURL,
	)

	srv := server.New(store, q, msgClient, cfg.Messenger, log)

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Queue:  q,
		Config: cfg,
	}
	sched, err := app.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	application := app.New(log, cfg, srv, disp, sched)

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Application stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	// Allow logs to flush before exit.
	time.Sleep(time.Second)
	return 0
}
