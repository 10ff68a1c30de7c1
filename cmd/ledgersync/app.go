package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jask/ledgersync/internal/config"
	"github.com/jask/ledgersync/internal/database"
	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/provider"
	"github.com/jask/ledgersync/internal/reconcile"
	"github.com/jask/ledgersync/internal/scheduler"
	"github.com/jask/ledgersync/internal/secrets"
	"github.com/jask/ledgersync/internal/service"
	"github.com/jask/ledgersync/internal/testdata"
)

// app holds the wired services of one process.
type app struct {
	cfg         config.Config
	db          *sql.DB
	fake        *provider.FakeClient
	ledger      *service.Ledger
	sync        *service.SyncService
	ingest      *service.IngestService
	reconcile   *service.ReconcileService
	scheduler   *service.Scheduler
	maintenance *service.MaintenanceService
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.Database.Migrations != "" {
		err = database.RunMigrationsWithDB(db, cfg.Database.Migrations)
	} else {
		err = database.Migrate(db)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	strategy, err := reconcile.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync.strategy: %w", err)
	}
	engine := &reconcile.Engine{
		Cache:        reconcile.NewFingerprintCache(cfg.Sync.FingerprintTTL),
		MaxBatchSize: cfg.Sync.MaxBatchSize,
	}
	ledger := service.NewLedger(db, engine)

	a := &app{cfg: cfg, db: db, ledger: ledger}
	client, err := a.providerClient(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	planner := scheduler.NewPlanner(time.Now)
	admission := scheduler.NewAdmission(scheduler.NewMemoryStore(), scheduler.Policy{
		MaxConcurrentSyncs: cfg.Sync.MaxConcurrent,
		MaxSyncsPerHour:    cfg.Sync.MaxPerHour,
	}, time.Now)

	a.sync = &service.SyncService{
		Ledger:    ledger,
		Provider:  client,
		Admission: admission,
		Planner:   planner,
		Strategy:  strategy,
		Timeout:   cfg.Sync.Timeout,
		Lookback:  cfg.Sync.Lookback,
	}
	a.ingest = &service.IngestService{Ledger: ledger, Strategy: strategy}
	a.reconcile = &service.ReconcileService{Ledger: ledger}
	a.scheduler = &service.Scheduler{Sync: a.sync, Planner: planner, Tick: cfg.Sync.TickInterval, Workers: cfg.Sync.Workers}
	a.maintenance = &service.MaintenanceService{DB: db}
	return a, nil
}

// providerClient builds the configured provider. Fake mode serves a
// generated feed for every linked account.
func (a *app) providerClient(ctx context.Context) (provider.Client, error) {
	switch strings.ToLower(a.cfg.Provider.Mode) {
	case "http":
		store, err := secrets.NewStore(a.cfg.Secrets.Dir, a.cfg.Secrets.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("open secrets: %w", err)
		}
		return provider.NewHTTPClient(provider.HTTPConfig{
			BaseURL:           a.cfg.Provider.BaseURL,
			Timeout:           a.cfg.Provider.Timeout,
			RequestsPerSecond: a.cfg.Provider.RequestsPerSecond,
			Burst:             a.cfg.Provider.Burst,
		}, store.TokenSource)
	default:
		a.fake = provider.NewFakeClient()
		if err := a.refreshFeeds(ctx); err != nil {
			return nil, err
		}
		logger.FromContext(ctx).Debug("using generated provider feed")
		return a.fake, nil
	}
}

func (a *app) refreshFeeds(ctx context.Context) error {
	if a.fake == nil {
		return nil
	}
	accts, err := a.ledger.Accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	testdata.LoadFeeds(a.fake, accts, testdata.DefaultOptions(time.Now()))
	return nil
}

func (a *app) Close() error { return a.db.Close() }
