package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	platformconfig "custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/platform/token"
	"custodia/internal/treasury/audit"
	govconfig "custodia/internal/treasury/config"
	"custodia/internal/treasury/executor"
	"custodia/internal/treasury/handler"
	"custodia/internal/treasury/ledger"
	"custodia/internal/treasury/metrics"
	"custodia/internal/treasury/pause"
	"custodia/internal/treasury/roles"
	"custodia/internal/treasury/service"
	"custodia/internal/treasury/store"
	id "custodia/pkg/domain"
)

// main wires the dependency graph and owns the process lifecycle. Every
// business rule lives in the internal packages; failures here are fatal
// misconfigurations.
func main() {
	cfg := platformconfig.FromEnv()
	log := logger.New()

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg platformconfig.Server, log *slog.Logger) error {
	root, err := id.RequireAddress(cfg.RootAuthority)
	if err != nil {
		return errors.New("CUSTODIA_ROOT_AUTHORITY must be a non-null address")
	}
	treasuryAddr, err := id.RequireAddress(cfg.TreasuryAddress)
	if err != nil {
		return errors.New("CUSTODIA_TREASURY_ADDRESS must be a non-null address")
	}

	gov, err := govconfig.NewGovernance(cfg.ExecutionTimelock, cfg.ProposalExpiry)
	if err != nil {
		return err
	}
	registry, err := roles.New(root, roles.WithLogger(log))
	if err != nil {
		return err
	}

	// Storage. Postgres when a DSN is configured, in-memory otherwise.
	var (
		proposals   store.ProposalStore
		auditStore  audit.Store
		recordStore audit.RecordStore
	)
	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		pgProposals := store.NewPostgres(db)
		pgAudit := audit.NewPostgres(db)
		pgRecords := audit.NewPostgresRecordStore(db)
		for _, ensure := range []func(context.Context) error{
			pgProposals.EnsureSchema,
			pgAudit.EnsureSchema,
			pgRecords.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				return err
			}
		}
		proposals, auditStore, recordStore = pgProposals, pgAudit, pgRecords
		log.Info("using postgres storage")
	} else {
		proposals = store.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		recordStore = audit.NewInMemoryRecordStore()
		log.Info("using in-memory storage")
	}

	// Pause flag. Redis when configured so replicas share it.
	var pauseStore pause.Store = pause.NewInMemoryStore()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		pauseStore = pause.NewRedisStore(redisClient.Client)
		log.Info("using redis pause store")
	}
	pauser := pause.New(pauseStore, registry, pause.WithLogger(log))

	m := metrics.New()
	auditor := audit.NewPublisher(auditStore,
		audit.WithAsyncBuffer(256),
		audit.WithLogger(log),
	)
	defer auditor.Close()

	funds := ledger.New(treasuryAddr, ledger.NewInMemoryTokenLedger(treasuryAddr))

	lifecycle, err := service.New(proposals, registry, gov,
		service.WithLogger(log),
		service.WithAuditPublisher(auditor),
		service.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	engine, err := executor.New(proposals, registry, gov, funds, pauser,
		executor.NewLogInvoker(log), recordStore,
		executor.WithLogger(log),
		executor.WithAuditPublisher(auditor),
		executor.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	tokens := token.New(cfg.JWTSigningKey, 24*time.Hour)
	h := handler.New(lifecycle, engine, pauser, registry, funds, auditor, gov,
		tokens, log, cfg.EmergencyTokenHash)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	h.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info("starting custodia", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
