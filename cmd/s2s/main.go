package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/23skdu/longbow-s2s/internal/config"
	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/pipeline"
)

var (
	configPath = flag.String("config", "s2s.yaml", "Path to YAML config file (defaults apply when it does not exist)")
	bundleRef  = flag.String("bundle", "", "Bundle name[:tag] or directory, overrides resources.bundle")
	logLevel   = flag.String("log-level", "", "debug, info, warn or error, overrides log.level")
	flightAddr = flag.String("flight-addr", "", "Model server address, overrides model.flight_addr")
)

func main() {
	_ = godotenv.Load()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: s2s [flags] \"<text>\"\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		logger.Log.Error("translation failed", "err", err)
		os.Exit(1)
	}
}

func run(text string) error {
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
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := pipeline.Load(ctx, cfg, pipeline.DialFlight)
	if err != nil {
		return err
	}
	defer tr.Close()

	out, err := tr.Translate(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted: %w", err)
		}
		return err
	}
	return writeResult(os.Stdout, out)
}

// writeResult prints the decoded text followed by a newline. A decode that
// ended on the stop character therefore ends with a blank line.
func writeResult(w io.Writer, out string) error {
	_, err := fmt.Fprintln(w, out)
	return err
}
