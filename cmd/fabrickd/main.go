package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fabrick/internal/config"
	"fabrick/internal/daemon"
	"fabrick/internal/logging"
	"fabrick/internal/provider"
	"fabrick/internal/queue"
	"fabrick/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	cfg, path, exists, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: filepath.Join(cfg.Paths.LogDir, "fabrickd.log"),
	})
	if err != nil {
		return err
	}
	if exists {
		logger.Info("configuration loaded", logging.String("path", path))
	} else {
		logger.Info("no configuration file found, using defaults", logging.String("path", path))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry(cfg)
	wf, err := workflow.NewManager(cfg, store, registry, logger)
	if err != nil {
		store.Close()
		return err
	}

	d, err := daemon.New(cfg, store, logger, wf)
	if err != nil {
		store.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		_ = d.Close()
		return err
	}

	<-ctx.Done()
	return d.Close()
}
