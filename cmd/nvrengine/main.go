// Package main implements the multi-camera recording engine's entry point.
//
// Startup sequence:
//  1. Load ambient bootstrap configuration (Viper + environment overrides)
//  2. Initialize structured logging
//  3. Open the durable configuration store (embedded SQLite)
//  4. Construct the FFmpeg-backed media adapter
//  5. Construct the subscription hub and engine façade
//  6. Start the engine and serve the subscription/health HTTP endpoints
//
// Graceful shutdown reverses that order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/config"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/engine"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/health"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/subscription"
)

func main() {
	dbPath := flag.String("db", "", "path to the engine's SQLite configuration database (default ./IT_RNVR.db)")
	configPath := flag.String("config", "", "optional ambient YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	loader, ambient, err := config.NewLoader(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load ambient configuration: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		ambient.DatabasePath = *dbPath
	}
	if *debug {
		ambient.Debug = true
		ambient.LogLevel = "debug"
	}

	logger := logging.NewLogger("nvrengine")
	applyLogLevel(logger, ambient)
	_ = loader.Watch(func(a Ambient) { applyLogLevel(logger, a) })

	logger.WithField("database_path", ambient.DatabasePath).Info("starting recording engine")

	store, err := configstore.Open(ambient.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open configuration store")
	}

	adapter, err := pipeline.NewFFmpegAdapter("", logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize media adapter")
	}

	hub := subscription.NewHub(16, 5*time.Second, logger)

	eng := engine.New(store, adapter, hub, logger)

	monitor := health.NewMonitor()
	eng.SetHealthMonitor(monitor)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", health.NewServer(monitor))
	mux.Handle("/subscribe", hub)

	httpServer := &http.Server{Addr: ambient.HTTPAddr, Handler: mux}
	go func() {
		logger.WithField("addr", ambient.HTTPAddr).Info("subscription/health server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping engine")
	cancel()
	eng.Stop()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// Ambient is a local alias so the fsnotify callback signature stays terse;
// it is the same type as config.Ambient.
type Ambient = config.Ambient

func applyLogLevel(logger *logging.Logger, a Ambient) {
	levelName := a.LogLevel
	if a.Debug {
		levelName = "debug"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		logger.WithError(err).Warn("invalid log level, keeping previous level")
		return
	}
	logger.SetLevel(level)
}
