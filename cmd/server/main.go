// Package main runs the full monitor: node pool, catch-up reconciliation,
// real-time classification, and the dashboard/metrics HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"xrpl-token-watch/internal/broadcast"
	"xrpl-token-watch/internal/detector"
	"xrpl-token-watch/internal/nodepool"
	"xrpl-token-watch/internal/observability"
	"xrpl-token-watch/internal/perf"
	"xrpl-token-watch/internal/storage"
	chstore "xrpl-token-watch/internal/storage/clickhouse"
	"xrpl-token-watch/internal/storage/memory"
	pgstore "xrpl-token-watch/internal/storage/postgres"
	"xrpl-token-watch/internal/watermark"
)

const (
	defaultEndpoints   = "wss://s1.ripple.com,wss://s2.ripple.com,wss://xrplcluster.com"
	defaultBurnAddress = "rBurnFirstledger"
	statsInterval      = 300 * time.Second
)

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	endpoints := flag.String("endpoints", envOr("XRPL_ENDPOINTS", defaultEndpoints), "Comma-separated rippled WebSocket endpoints")
	burnAddress := flag.String("burn-address", envOr("BURN_ADDRESS", defaultBurnAddress), "Known burn-receiving account")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	listenAddr := flag.String("listen", envOr("LISTEN_ADDR", ":3000"), "Dashboard HTTP address")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	genesisLedger := flag.Int64("genesis-ledger", envOrInt64("GENESIS_LEDGER", 0), "Watermark default when the store is empty")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	endpointList := splitList(*endpoints)
	if len(endpointList) == 0 {
		logger.Fatal("--endpoints is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wmStore, sampleStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	obs := observability.NewMetrics("")

	tracker := perf.NewTracker(sampleStore, perf.Options{
		Logger:  log.New(os.Stdout, "[perf] ", log.LstdFlags),
		Metrics: obs,
	})

	wm := watermark.NewTracker(wmStore, watermark.Options{
		Genesis: *genesisLedger,
		Logger:  log.New(os.Stdout, "[watermark] ", log.LstdFlags),
		Metrics: obs,
	})

	hub := broadcast.NewHub(log.New(os.Stdout, "[broadcast] ", log.LstdFlags), obs)

	pool := nodepool.New(endpointList, nodepool.Options{
		Logger:  log.New(os.Stdout, "[nodepool] ", log.LstdFlags),
		Metrics: obs,
		Perf:    tracker,
	})

	svc := detector.New(detector.Options{
		Queries:   pool,
		Catalog:   detector.NewCatalog(),
		Watermark: wm,
		Perf:      tracker,
		Publisher: hub,
		Metrics:   obs,
		Logger:    log.New(os.Stdout, "[detector] ", log.LstdFlags),
		Config:    detector.Config{BurnAddress: *burnAddress},
	})

	// No node reachable at startup is fatal.
	if err := pool.ConnectAll(ctx); err != nil {
		logger.Fatalf("No nodes connected after retries, exiting: %v", err)
	}
	defer pool.Close()

	// Reconcile the gap since the last persisted watermark, then go live.
	if err := svc.CatchUp(ctx); err != nil {
		logger.Printf("Catch-up failed: %v", err)
	}
	if err := pool.SubscribeTransactions(ctx); err != nil {
		logger.Fatalf("Transaction subscription failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(ctx, pool.Transactions())
	})

	// Each reconnect signal triggers exactly one catch-up run.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pool.Resync():
				if err := svc.CatchUp(ctx); err != nil {
					logger.Printf("Catch-up after reconnect failed: %v", err)
				}
			}
		}
	})

	g.Go(func() error {
		wm.Run(ctx)
		return nil
	})

	g.Go(func() error {
		tracker.Run(ctx)
		return nil
	})

	// Periodic stats broadcast for the dashboard.
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				stats, err := tracker.Stats(ctx)
				if err != nil {
					logger.Printf("Stats broadcast failed: %v", err)
					continue
				}
				hub.SendStats(stats)
			}
		}
	})

	g.Go(func() error {
		return runHTTP(ctx, *listenAddr, hub, svc, tracker, logger)
	})

	g.Go(func() error {
		return runMetricsHTTP(ctx, *metricsAddr, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, shutting down...", sig)
			cancel()
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	hub.Close()
	logger.Println("Shutdown complete")
}

// runHTTP serves the dashboard page, the update WebSocket, and the stats
// query endpoint.
func runHTTP(ctx context.Context, addr string, hub *broadcast.Hub, svc *detector.Service, tracker *perf.Tracker, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.ServeDashboard)
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := tracker.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(svc.Catalog().All())
	})

	return serveUntilDone(ctx, addr, mux, "dashboard", logger)
}

func runMetricsHTTP(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	return serveUntilDone(ctx, addr, mux, "metrics", logger)
}

func serveUntilDone(ctx context.Context, addr string, handler http.Handler, name string, logger *log.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("%s HTTP server listening on %s", name, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// createStores builds the watermark and metric sample stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.WatermarkStore, storage.MetricSampleStore, func(), error) {
	if useMemory {
		return memory.NewWatermarkStore(), memory.NewMetricSampleStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}

	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return pgstore.NewWatermarkStore(pool), chstore.NewMetricSampleStore(chConn), cleanup, nil
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

func envOrInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
