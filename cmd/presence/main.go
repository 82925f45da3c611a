package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presence/internal/client"
	"presence/internal/config"
	"presence/internal/outbox"
)

var logger *log.Logger

func main() {
	os.Exit(run())
}

func run() int {
	logger = log.New(os.Stderr, "PRESENCE : ", log.LstdFlags)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	token, err := client.ResolveToken(cfg.APIToken, cfg.TokenPath, time.Now())
	if err != nil && !errors.Is(err, client.ErrNoSession) {
		logger.Printf("session: %v", err)
	}
	api := client.New(cfg.APIURL, token)

	stores, err := outbox.OpenStores(ctx, outbox.StoreConfig{
		Backend:   cfg.OutboxBackend,
		Path:      cfg.OutboxPath,
		Redis:     cfg.Redis(),
		Key:       cfg.OutboxKey,
	})
	if err != nil {
		logger.Printf("outbox store: %v", err)
		return 1
	}
	defer stores.Close()

	monitor := outbox.NewProbeMonitor(api.Health, cfg.ProbeInterval)
	q, err := outbox.New(ctx, outbox.Config{
		Store:       stores.Pending,
		DeadLetters: stores.DeadLetters,
		Replayer:    client.Replayer{Client: api},
		Monitor:     monitor,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})
	if err != nil {
		logger.Printf("outbox: %v", err)
		return 1
	}

	cli := commandLine{
		api:       api,
		queue:     q,
		monitor:   monitor,
		tokenPath: cfg.TokenPath,
		out:       os.Stdout,
		now:       time.Now,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			logger.Printf("error: %s", err)
		}
		return 1
	}
	return 0
}
