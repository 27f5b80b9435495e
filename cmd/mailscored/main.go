// Command mailscored is the mailscore core's process entrypoint: loads
// configuration, builds and freezes the symbol scheduler, and serves the
// HTTP task-submission API until signaled to stop.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailscore/core/config"
	"github.com/mailscore/core/core/scheduler"
	"github.com/mailscore/core/logger"
	coreerrors "github.com/mailscore/core/pkg/errors"
	"github.com/mailscore/core/server/ingest"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	errorHandler := coreerrors.NewErrorHandler()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailscored version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		errorHandler.ConfigError(*configPath, err)
		os.Exit(errorHandler.WaitForExit())
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailscored: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			logger.Sync()
			f.Close()
		}(logFile)
	} else {
		defer logger.Sync()
	}

	logger.Infof("mailscored starting (version %s, commit: %s, built: %s)", version, commit, date)

	mapRegistry, err := buildMapRegistry(cfg)
	if err != nil {
		errorHandler.FatalError("build maps", err)
		os.Exit(errorHandler.WaitForExit())
	}

	collabs, err := buildCollaborators(cfg, mapRegistry)
	if err != nil {
		errorHandler.FatalError("build collaborators", err)
		os.Exit(errorHandler.WaitForExit())
	}

	reg, plan, freezeErrs, err := freezeScheduler(cfg, collabs)
	if err != nil {
		errorHandler.FatalError("build scheduler", err)
		os.Exit(errorHandler.WaitForExit())
	}
	for _, e := range freezeErrs {
		logger.Warn("scheduler freeze diagnostic", "error", e)
	}

	deadlines := scheduler.NewDeadlineScheduler(0, 50*time.Millisecond)
	defer deadlines.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Infof("received signal %s, shutting down", sig)
		cancel()
	}()

	errChan := make(chan error, 2)

	if cfg.Metrics.Enable {
		go startMetricsServer(ctx, cfg.Metrics.Addr, errChan)
	}

	go ingest.Start(ctx, ingest.Options{
		Addr:               cfg.Server.Addr,
		APIKey:             cfg.Server.APIKey,
		Plan:               plan,
		Deadlines:          deadlines,
		Registry:           reg,
		AccumulatorOptions: buildAccumulatorOptions(cfg),
		TaskTimeout:        30 * time.Second,
	}, errChan)

	select {
	case <-ctx.Done():
		logger.Infof("shutdown signal received, waiting for in-flight scans")
		time.Sleep(2 * time.Second)
	case err := <-errChan:
		errorHandler.FatalError("server operation", err)
		os.Exit(errorHandler.WaitForExit())
	}
}

func startMetricsServer(ctx context.Context, addr string, errChan chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
