package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"teams_archiver/internal/config"
	"teams_archiver/internal/publisher"
	"teams_archiver/internal/scheduler"
	"teams_archiver/internal/service"
	"teams_archiver/internal/source/graph"
	"teams_archiver/internal/storage/postgres"
	"teams_archiver/internal/storage/s3"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sync and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	store, err := s3.New(ctx, cfg.S3, logger)
	if err != nil {
		logger.Error("failed to initialize object store", "error", err)
		os.Exit(1)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	walker := graph.NewWalker(graph.NewClient(cfg.Graph, logger), logger)

	syncService := service.NewSyncService(
		walker,
		walker,
		store,
		service.IndexStores{
			Archives:   postgres.NewArchiveStore(db),
			Courses:    postgres.NewCourseStore(db),
			Offerings:  postgres.NewOfferingStore(db),
			Professors: postgres.NewProfessorStore(db),
			Students:   postgres.NewStudentStore(db),
		},
		postgres.NewTransactionManager(db),
		pub,
		service.RealClock{},
		logger,
		cfg.Sync,
	)

	logger.Info("starting archiver",
		"bucket", cfg.S3.Bucket,
		"workers", cfg.Sync.Workers,
		"interval", cfg.Sync.Interval,
	)

	if *once {
		runCtx, cancelRun := context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancelRun()
		if _, err := syncService.Sync(runCtx); err != nil {
			logger.Error("run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, cfg.Sync.RunTimeout, logger)
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
