package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/23skdu/longbow-s2s/internal/config"
	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/pipeline"
	"github.com/23skdu/longbow-s2s/internal/server"
)

var (
	configPath = flag.String("config", "s2s.yaml", "Path to YAML config file (defaults apply when it does not exist)")
	bundleRef  = flag.String("bundle", "", "Bundle name[:tag] or directory, overrides resources.bundle")
	logLevel   = flag.String("log-level", "", "debug, info, warn or error, overrides log.level")
	flightAddr = flag.String("flight-addr", "", "Model server address, overrides model.flight_addr")
	addr       = flag.String("addr", "", "HTTP listen address, overrides server.addr")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	if err := run(); err != nil {
		logger.Log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if *bundleRef != "" {
		cfg.Resources.Bundle = *bundleRef
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *flightAddr != "" {
		cfg.Model.FlightAddr = *flightAddr
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	logger.Log.Info("starting s2s server", "version", server.Version, "model", cfg.Model.Name,
		"flight_addr", cfg.Model.FlightAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := pipeline.Load(ctx, cfg, pipeline.DialFlight)
	if err != nil {
		return err
	}
	defer tr.Close()

	srv := server.New(cfg.Server, tr)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
