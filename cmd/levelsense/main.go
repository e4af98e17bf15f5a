package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"levelsense/internal/config"
	"levelsense/internal/monitoring"
	"levelsense/internal/web"
)

func main() {
	var configPath string
	var logSummaryPath string
	var recordPath string
	flag.StringVar(&configPath, "config", "./levelsense.yaml", "Path to YAML config")
	flag.StringVar(&logSummaryPath, "log-summary", "", "Print a summary of a sample log and exit")
	flag.StringVar(&recordPath, "record", "", "Record incoming samples to this path")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))
	monitoring.SetLogger(log.Printf)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if logSummaryPath != "" {
		profile, err := cfg.EngineProfile()
		if err != nil {
			log.Fatalf("profile invalid: %v", err)
		}
		if err := printLogSummary(os.Stdout, logSummaryPath, profile); err != nil {
			log.Fatalf("log summary failed: %v", err)
		}
		return
	}

	if recordPath != "" {
		cfg.Record.Enable = true
		cfg.Record.Path = recordPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, configPath, logs); err != nil {
		log.Fatalf("levelsense: %v", err)
	}
}

// run blocks until ctx is done or the web server or source fails.
func run(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) error {
	rt, err := newRuntime(ctx, cfg, configPath, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("levelsense starting")
	log.Printf("source=%s calibration=%s web=%s", rt.cfg.Source.Kind, rt.cfg.Calibration.Backend, rt.cfg.Web.Listen)

	srcErr := make(chan error, 1)
	go func() {
		err := rt.runSource(ctx)
		switch {
		case err == nil:
			log.Printf("source %s finished", rt.cfg.Source.Kind)
		case ctx.Err() == nil:
			log.Printf("source %s stopped: %v", rt.cfg.Source.Kind, err)
			cancel()
		}
		srcErr <- err
	}()

	webErr := web.Serve(ctx, rt.cfg.Web.Listen, web.Handler(rt.webDeps(logs)))
	cancel()
	err = <-srcErr
	log.Printf("levelsense stopping")

	if webErr != nil && !errors.Is(webErr, context.Canceled) {
		return webErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
