// Package main replays a historical ledger range through the burn
// classifier once and exits. Useful for repairing gaps left by extended
// downtime, within the retention window of the connected nodes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"xrpl-token-watch/internal/detector"
	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/nodepool"
	"xrpl-token-watch/internal/perf"
	"xrpl-token-watch/internal/storage"
	"xrpl-token-watch/internal/storage/memory"
	pgstore "xrpl-token-watch/internal/storage/postgres"
	"xrpl-token-watch/internal/watermark"
)

const maxBackfillRange = 1000

func main() {
	endpoints := flag.String("endpoints", envOr("XRPL_ENDPOINTS", "wss://s1.ripple.com,wss://s2.ripple.com"), "Comma-separated rippled WebSocket endpoints")
	burnAddress := flag.String("burn-address", envOr("BURN_ADDRESS", "rBurnFirstledger"), "Known burn-receiving account")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (omit for in-memory)")
	from := flag.Int64("from", 0, "First ledger index to replay (default: current minus 1000)")
	to := flag.Int64("to", 0, "Last ledger index to replay (default: current)")

	flag.Parse()

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags)

	endpointList := splitList(*endpoints)
	if len(endpointList) == 0 {
		logger.Fatal("--endpoints is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wmStore storage.WatermarkStore = memory.NewWatermarkStore()
	if *postgresDSN != "" {
		pgPool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer pgPool.Close()
		wmStore = pgstore.NewWatermarkStore(pgPool)
	}

	wm := watermark.NewTracker(wmStore, watermark.Options{Logger: logger})
	tracker := perf.NewTracker(memory.NewMetricSampleStore(), perf.Options{Logger: logger})

	pool := nodepool.New(endpointList, nodepool.Options{Logger: logger})
	if err := pool.ConnectAll(ctx); err != nil {
		logger.Fatalf("No nodes connected: %v", err)
	}
	defer pool.Close()

	svc := detector.New(detector.Options{
		Queries:   pool,
		Catalog:   detector.NewCatalog(),
		Watermark: wm,
		Perf:      tracker,
		Publisher: logPublisher{logger},
		Logger:    logger,
		Config:    detector.Config{BurnAddress: *burnAddress},
	})

	current := pool.CurrentLedger()
	end := *to
	if end == 0 || end > current {
		end = current
	}
	start := *from
	if start == 0 || start < end-maxBackfillRange {
		start = end - maxBackfillRange
	}
	if start > end {
		logger.Fatalf("Invalid range: from %d > to %d", start, end)
	}

	logger.Printf("Replaying ledgers %d..%d", start, end)
	if err := svc.Replay(ctx, start, end); err != nil {
		logger.Fatalf("Replay failed: %v", err)
	}

	// Drain queued watermark writes before exiting.
	wm.Flush(ctx)

	logger.Printf("Done: %d tokens discovered", svc.Catalog().Len())
	for _, t := range svc.Catalog().All() {
		logger.Printf("  %s issuer=%s burned=%s confirmed=%t", t.Currency, t.Issuer, t.BurnedXRP, t.Confirmed)
	}
}

// logPublisher satisfies the detector's publisher with plain log lines.
type logPublisher struct {
	logger *log.Logger
}

func (p logPublisher) SendUpdate(t *domain.Token) {
	p.logger.Printf("update %s: price=%s marketCap=%s", t.Key(), t.Price, t.MarketCap)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
