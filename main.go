package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liqstream/config"
	"liqstream/internal/api"
	"liqstream/internal/buffer"
	metrics "liqstream/internal/metrics"
	"liqstream/internal/reader/bybit"
	"liqstream/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Liqstream.Name,
		"version":     cfg.Liqstream.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting liqstream")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Prometheus {
		metrics.Init()
	}
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, logger.CloudWatchOptions{
			Region:          cw.Region,
			Namespace:       cw.Namespace,
			AccessKeyID:     cw.AccessKeyID,
			SecretAccessKey: cw.SecretAccessKey,
		})
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || strings.ToLower(os.Getenv("LOG_LEVEL")) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	// The ring is the only state shared by ingestion and queries.
	ring := buffer.NewRing(cfg.Buffer.Capacity)

	var reader *bybit.LiquidationReader
	opts := api.Options{Prometheus: cfg.Metrics.Prometheus}
	if cfg.Source.Bybit.Future.Liquidation.Enabled {
		reader = bybit.NewLiquidationReader(cfg.Source.Bybit.Future.Liquidation, ring)
		opts.Ingestor = reader
		if err := reader.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start bybit liquidation reader")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Warn("bybit liquidation stream disabled; serving an empty buffer")
	}

	server := api.NewServer(cfg.Server, ring, opts, log)

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("query server failed")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	if reader != nil {
		reader.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(10 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("liqstream stopped")
	os.Exit(exitCode)
}
