package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/routeconf/routeconf/config"
	"github.com/routeconf/routeconf/repository"
	"github.com/routeconf/routeconf/server"
	"github.com/routeconf/routeconf/srvreg"
	"github.com/routeconf/routeconf/syncqueue"
)

var (
	configPath string
	httpPort   string
	seed       bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides config)")
	flag.BoolVar(&seed, "seed", false, "Seed the database with sample data")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}
	if seed {
		cfg.Seed = true
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Building logger: %v", err)
	}
	defer logger.Sync()

	// Connect Postgres
	repo := repository.NewRepository(logger)
	if err := repo.ConnectDB(cfg.PostgresDSN); err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	if err := repo.Migrate(); err != nil {
		logger.Fatal("migrating database", zap.Error(err))
	}
	if cfg.Seed {
		repo.Seed()
	}

	// Open the local scan queue
	queue, err := syncqueue.Open(cfg.QueueDir, repo, logger, cfg.FlushInterval)
	if err != nil {
		logger.Fatal("opening scan queue", zap.Error(err))
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error("closing scan queue", zap.Error(err))
		}
	}()

	queueCtx, stopQueue := context.WithCancel(context.Background())
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(queueCtx)
	}()

	// Service registry and web server
	serviceRegistry := srvreg.NewServiceRegistry(repo, queue, logger)
	serviceRegistry.RegisterDefaultServices()

	webserver := server.NewWebServer(cfg.HTTPPort, logger, serviceRegistry)
	webserver.Start()

	// Wait for interrupt signal to gracefully shut down
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("shutting down HTTP web server", zap.Error(err))
	}

	// Let the queue finish its final flush before the deferred Close
	// takes the database away.
	stopQueue()
	<-queueDone

	logger.Info("HTTP web server gracefully stopped")
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
