package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"presence/internal/client"
	"presence/internal/config"
	"presence/internal/outbox"
)

// Worker replays the local outbox whenever the API becomes reachable, and
// on a schedule as a safety net.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := client.ResolveToken(cfg.APIToken, cfg.TokenPath, time.Now()); err != nil {
		log.Printf("WARNING: no session (%v); replays are held until `presence login`", err)
	}
	api := client.New(cfg.APIURL, "")
	api.TokenSource = client.SessionToken(cfg.APIToken, cfg.TokenPath)

	stores, err := outbox.OpenStores(ctx, outbox.StoreConfig{
		Backend:   cfg.OutboxBackend,
		Path:      cfg.OutboxPath,
		Redis:     cfg.Redis(),
		Key:       cfg.OutboxKey,
	})
	if err != nil {
		log.Fatalf("outbox store: %v", err)
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
		log.Fatalf("outbox init failed: %v", err)
	}
	log.Printf("worker started: %d pending, %d dead letters, api %s", q.Len(), len(q.DeadLetters(ctx)), cfg.APIURL)

	go monitor.Run(ctx)
	go q.Watch(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.SyncSchedule, func() {
		if !monitor.Check(ctx) {
			return
		}
		res, err := q.Flush(ctx)
		if err != nil {
			log.Printf("scheduled flush: %v", err)
			return
		}
		log.Printf("scheduled flush: replayed %d, failed %d, remaining %d, held %t", res.Replayed, res.Failed, res.Remaining, res.Held)
	}); err != nil {
		log.Fatalf("invalid SYNC_SCHEDULE %q: %v", cfg.SyncSchedule, err)
	}
	c.Start()

	<-ctx.Done()
	log.Println("shutdown signal received")
	<-c.Stop().Done()
	log.Println("worker stopped")
}
