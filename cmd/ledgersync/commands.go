package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/jask/ledgersync/internal/api"
	"github.com/jask/ledgersync/internal/config"
	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/reconcile"
	"github.com/jask/ledgersync/internal/secrets"
	"github.com/jask/ledgersync/internal/service"
	"github.com/jask/ledgersync/internal/testdata"
)

func cmdServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.HTTP.Addr, "listen address")
	noScheduler := fs.Bool("no-scheduler", false, "serve the API without background syncs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	h := api.NewHandler(a.sync, a.reconcile, a.scheduler)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(h, api.Options{RequestsPerSecond: cfg.HTTP.RequestsPerSecond, Burst: cfg.HTTP.Burst}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Sync.Timeout + 30*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L.Info("listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if !*noScheduler {
		g.Go(func() error { return a.scheduler.Run(gctx) })
	}
	return g.Wait()
}

func cmdSync(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	account := fs.String("account", "", "account id; empty syncs every due account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if *account == "" {
		rep, err := a.scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Println(renderTick(rep))
		return nil
	}

	res, err := a.sync.RunSync(ctx, *account)
	fmt.Println(renderSyncResult(res))
	if errors.Is(err, service.ErrAdmissionDenied) {
		return nil
	}
	return err
}

func cmdPlan(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.scheduler.Plan(ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderPlan(plan, time.Now()))
	return nil
}

func cmdReconcile(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	strategy := fs.String("strategy", cfg.Sync.Strategy, "keep_latest, keep_oldest, merge or flag")
	days := fs.Int("days", 90, "only consider transactions from the last n days; 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return errors.New("reconcile: -account required")
	}
	st, err := reconcile.ParseStrategy(*strategy)
	if err != nil {
		return err
	}
	var since time.Time
	if *days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -*days)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.reconcile.ReconcileAccount(ctx, *account, since, st)
	if err != nil {
		return err
	}
	fmt.Println(renderClusters(rep))
	return nil
}

func cmdImport(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	file := fs.String("file", "", "CSV file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" || *file == "" {
		return errors.New("import: -account and -file required")
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ingest.ImportCSV(ctx, *account, f)
	if err != nil {
		return err
	}
	fmt.Println(renderIngest(res))
	return nil
}

func cmdLink(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("link", flag.ContinueOnError)
	conn := fs.String("connection", "", "provider connection id")
	token := fs.String("token", "", "access token")
	refresh := fs.String("refresh-token", "", "refresh token")
	ttl := fs.Duration("ttl", 0, "token lifetime; 0 for no expiry")
	remove := fs.Bool("remove", false, "forget the connection's token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *conn == "" {
		return errors.New("link: -connection required")
	}
	store, err := secrets.NewStore(cfg.Secrets.Dir, cfg.Secrets.Passphrase)
	if err != nil {
		return err
	}
	if *remove {
		return store.Delete(*conn)
	}
	if *token == "" {
		return errors.New("link: -token required")
	}
	tok := &oauth2.Token{AccessToken: *token, RefreshToken: *refresh, TokenType: "Bearer"}
	if *ttl > 0 {
		tok.Expiry = time.Now().Add(*ttl)
	}
	if err := store.PutToken(*conn, tok); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	svc := &service.SyncService{Ledger: service.NewLedger(db, nil)}
	n, err := svc.Reconnect(ctx, *conn)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("linked %s (%d accounts reactivated)", *conn, n)))
	return nil
}

func cmdSeed(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	users := fs.Int("users", 2, "number of users")
	perUser := fs.Int("accounts", 3, "accounts per user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger := service.NewLedger(db, nil)
	accts, err := testdata.SeedAccounts(ctx, ledger.Accounts, nil, *users, *perUser, testdata.DefaultOptions(time.Now()))
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("seeded %d accounts", len(accts))))
	return nil
}

func cmdReset(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "confirm deleting all data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("reset: pass -yes to delete all data")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := (&service.MaintenanceService{DB: db}).Reset(ctx); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("database reset"))
	return nil
}
