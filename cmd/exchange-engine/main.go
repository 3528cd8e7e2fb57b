// Command exchange-engine runs the matching engine: the HTTP ingress,
// the processor manager (one goroutine per registered symbol), and the
// optional trade archival sink.
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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/archival"
	"github.com/exchangecore/matching-engine/internal/config"
	"github.com/exchangecore/matching-engine/internal/httpapi"
	"github.com/exchangecore/matching-engine/internal/logging"
	"github.com/exchangecore/matching-engine/internal/manager"
	"github.com/exchangecore/matching-engine/internal/monitor"
	"github.com/exchangecore/matching-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	envPath := flag.String("env", "", "path to a .env file (defaults to ./.env if present)")
	logLevel := flag.String("log-level", "", "overrides the configured log level (debug|info|warn|error)")
	flag.Parse()

	if err := run(*configPath, *envPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "exchange-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envPath, logLevelOverride string) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevelOverride != "" {
		cfg.Logging.Level = logLevelOverride
	}

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting exchange engine", zap.Strings("symbols", cfg.Symbols))

	st := store.New(store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("error closing store", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pingErr := st.Ping(ctx)
	cancel()
	if pingErr != nil {
		return fmt.Errorf("store unreachable at startup: %w", pingErr)
	}
	log.Info("store connection established", zap.String("addr", cfg.Redis.Addr))

	mon := monitor.New(prometheus.DefaultRegisterer)
	mgr := manager.New(st, mon, log)

	if cfg.Archival.DSN != "" {
		db, err := archival.Connect(cfg.Archival.DSN)
		if err != nil {
			return fmt.Errorf("connect archival database: %w", err)
		}
		sink, err := archival.New(db, log, 1024)
		if err != nil {
			return fmt.Errorf("start archival sink: %w", err)
		}
		defer sink.Close()
		mgr.WithArchiver(sink)
		log.Info("trade archival enabled")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if err := mgr.Start(runCtx, cfg.Symbols); err != nil {
		return fmt.Errorf("start processor manager: %w", err)
	}

	srv := httpapi.New(st, mgr, log, cfg.Server.DepthLevels)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-stop:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			runCancel()
			mgr.Stop(context.Background())
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced shutdown", zap.Error(err))
	}

	runCancel()
	mgr.Stop(shutdownCtx)
	log.Info("exchange engine stopped cleanly")
	return nil
}
