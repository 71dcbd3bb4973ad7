package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/archive"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/database"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/logger"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/metrics"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/otel"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/pipeline"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/qbo"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/token"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/warehouse"
)

func main() {
	clientID := flag.String("client-id", "", "run a single tenant instead of all active tenants")
	migrateOnly := flag.Bool("migrate-only", false, "apply warehouse DDL and exit")
	backfillStart := flag.Int("backfill-start-year", 0, "backfill report history from this year (requires -client-id)")
	backfillEnd := flag.Int("backfill-end-year", 0, "last year to backfill (default: current year)")
	flag.Parse()

	log := logger.New()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown failed")
		}
	}()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to warehouse")
	}
	defer db.Close()

	reportTables := make([]string, 0, len(qbo.Reports))
	for _, spec := range qbo.Reports {
		reportTables = append(reportTables, warehouse.ReportTable(spec.Name))
	}
	if err := warehouse.Migrate(ctx, db, reportTables); err != nil {
		log.Fatal().Err(err).Msg("warehouse migration failed")
	}
	if *migrateOnly {
		log.Info().Msg("migration applied")
		return
	}

	store, err := newTokenStore(cfg.TokenStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token store")
	}
	tokens := token.NewManager(store, cfg.QBO, cfg.TokenStore.RefreshBuffer, log)

	archiver, err := newArchiver(ctx, cfg.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize raw archive")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Pipeline.MetricsAddr != "" {
		go serveMetrics(cfg.Pipeline.MetricsAddr, reg, log)
	}

	orch, err := pipeline.New(
		cfg.Pipeline,
		pipeline.QBOClients(cfg.QBO, tokens, m, log),
		warehouse.NewLoader(db, log),
		warehouse.NewWatermarkStore(db),
		warehouse.NewTenantRegistry(db),
		archiver,
		m,
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	var summary *pipeline.Summary
	switch {
	case *backfillStart > 0:
		if *clientID == "" {
			log.Fatal().Msg("-backfill-start-year requires -client-id")
		}
		summary, err = orch.BackfillReports(ctx, *clientID, *backfillStart, *backfillEnd)
	case *clientID != "":
		summary, err = orch.RunTenant(ctx, *clientID)
	default:
		summary, err = orch.RunAll(ctx)
	}
	if summary != nil {
		logSummary(log, summary)
	}
	if err != nil {
		var partial *pipeline.PartialTenantFailure
		if errors.As(err, &partial) {
			log.Error().Int("failed_runs", len(partial.Failed)).Msg("pipeline finished with failures")
		} else {
			log.Error().Err(err).Msg("pipeline aborted")
		}
		os.Exit(1)
	}
	log.Info().Msg("pipeline completed")
}

// newTokenStore selects the credential backend from configuration.
func newTokenStore(cfg config.TokenStoreConfig) (token.Store, error) {
	switch cfg.Backend {
	case "file":
		return token.NewFileStore(cfg.FileDir, cfg.FileKey)
	case "vault":
		return token.NewVaultStore(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}

// newArchiver returns the MinIO archiver when object storage is configured,
// otherwise a no-op.
func newArchiver(ctx context.Context, cfg config.ArchiveConfig, log zerolog.Logger) (archive.Archiver, error) {
	if cfg.Endpoint == "" {
		log.Warn().Msg("raw archive not configured, payloads will not be retained")
		return archive.Noop{}, nil
	}
	a, err := archive.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := a.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("metrics listener starting")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics listener stopped")
	}
}

func logSummary(log zerolog.Logger, summary *pipeline.Summary) {
	completed := 0
	for _, run := range summary.Runs {
		if run.State == pipeline.StateCompleted {
			completed++
		}
	}
	log.Info().
		Int("runs", len(summary.Runs)).
		Int("completed", completed).
		Int("failed", len(summary.Failed())).
		Strs("needs_reconsent", summary.NeedsReconsent).
		Dur("elapsed", summary.Finished.Sub(summary.Started)).
		Msg("run summary")
	for _, run := range summary.Failed() {
		log.Error().
			Str("client_id", run.ClientID).
			Str("entity", run.Entity).
			Str("reason", run.FailReason).
			Msg("run failed")
	}
}
