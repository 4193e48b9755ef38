// Package main runs the NFT ledger service: the transfer engine over a
// registry store, the replay guard, the append-only transaction log, the
// live WebSocket feed and the HTTP JSON API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/feed"
	"icrc7-ledger/internal/ledger"
	"icrc7-ledger/internal/observability"
	"icrc7-ledger/internal/storage"
	chstore "icrc7-ledger/internal/storage/clickhouse"
	"icrc7-ledger/internal/storage/memory"
	"icrc7-ledger/internal/storage/migrations"
	pgstore "icrc7-ledger/internal/storage/postgres"
)

// ledgerStores groups the storage backends behind their interfaces.
type ledgerStores struct {
	registry  storage.RegistryStore
	replay    storage.ReplayStore
	approvals storage.ApprovalStore
	txlog     storage.TransactionLogStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	httpAddr := flag.String("http-addr", envOr("LEDGER_HTTP_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")

	symbol := flag.String("symbol", envOr("LEDGER_SYMBOL", "NFT"), "Collection symbol")
	name := flag.String("name", envOr("LEDGER_NAME", "NFT Ledger"), "Collection name")
	description := flag.String("description", os.Getenv("LEDGER_DESCRIPTION"), "Collection description")
	logo := flag.String("logo", os.Getenv("LEDGER_LOGO"), "Collection logo URL")
	supplyCap := flag.Uint64("supply-cap", 0, "Collection-wide token count cap (0 = unbounded)")
	atomic := flag.Bool("atomic-batch-transfers", false, "Abort whole transfer batches on any item failure")
	txWindow := flag.Duration("tx-window", 24*time.Hour, "Transfer deduplication window")
	permittedDrift := flag.Duration("permitted-drift", 2*time.Minute, "Permitted clock drift for transfer timestamps")

	minters := flag.String("minters", os.Getenv("LEDGER_MINTERS"), "Comma-separated base58 minter principals")
	managers := flag.String("managers", os.Getenv("LEDGER_MANAGERS"), "Comma-separated base58 manager principals")
	controllers := flag.String("controllers", os.Getenv("LEDGER_CONTROLLERS"), "Comma-separated base58 controller principals")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	collection, err := buildCollection(*symbol, *name, *description, *logo, *supplyCap,
		*atomic, *txWindow, *permittedDrift, *minters, *managers, *controllers)
	if err != nil {
		logger.Fatalf("Invalid collection configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	hub := feed.NewHub(log.New(os.Stdout, "[feed] ", log.LstdFlags))

	engine := ledger.New(ledger.Config{
		Registry:   stores.registry,
		TxLog:      stores.txlog,
		Replay:     stores.replay,
		Approvals:  stores.approvals,
		Collection: collection,
		Publish:    hub.Publish,
		Logger:     log.New(os.Stdout, "[ledger] ", log.LstdFlags),
	})

	api := NewAPI(engine, hub, logger)
	server := &http.Server{
		Addr:    *httpAddr,
		Handler: api.Routes(),
	}

	// Track uptime for /metrics.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.DefaultMetrics.UptimeSeconds.Inc()
			}
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Shutdown error: %v", err)
		}
	}()

	logger.Printf("Ledger %q (%s) listening on %s", collection.Name, collection.Symbol, *httpAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// buildCollection assembles the ledger-wide state from flags.
func buildCollection(symbol, name, description, logo string, supplyCap uint64,
	atomic bool, txWindow, permittedDrift time.Duration,
	minters, managers, controllers string) (domain.Collection, error) {

	settings := domain.DefaultSettings()
	settings.AtomicBatchTransfers = atomic
	settings.TxWindow = uint64(txWindow.Nanoseconds())
	settings.PermittedDrift = uint64(permittedDrift.Nanoseconds())

	nowSec := time.Now().Unix()
	collection := domain.Collection{
		Symbol:    symbol,
		Name:      name,
		CreatedAt: nowSec,
		UpdatedAt: nowSec,
		Settings:  settings,
	}
	if description != "" {
		collection.Description = &description
	}
	if logo != "" {
		collection.Logo = &logo
	}
	if supplyCap > 0 {
		collection.SupplyCap = &supplyCap
	}

	var err error
	if collection.Minters, err = parsePrincipalList(minters); err != nil {
		return domain.Collection{}, fmt.Errorf("minters: %w", err)
	}
	if collection.Managers, err = parsePrincipalList(managers); err != nil {
		return domain.Collection{}, fmt.Errorf("managers: %w", err)
	}
	if collection.Controllers, err = parsePrincipalList(controllers); err != nil {
		return domain.Collection{}, fmt.Errorf("controllers: %w", err)
	}
	return collection, nil
}

func parsePrincipalList(text string) ([]domain.Principal, error) {
	if text == "" {
		return nil, nil
	}
	var out []domain.Principal
	for _, item := range strings.Split(text, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		p, err := domain.ParsePrincipal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// createStores creates the configured storage backends and applies
// migrations for the SQL ones.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*ledgerStores, func(), error) {
	if useMemory {
		stores := &ledgerStores{
			registry:  memory.NewRegistryStore(),
			replay:    memory.NewReplayStore(),
			approvals: memory.NewApprovalStore(),
			txlog:     memory.NewTransactionLogStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &ledgerStores{
		registry:  pgstore.NewRegistryStore(pool),
		replay:    pgstore.NewReplayStore(pool),
		approvals: pgstore.NewApprovalStore(pool),
		txlog:     chstore.NewTransactionLogStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
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

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
