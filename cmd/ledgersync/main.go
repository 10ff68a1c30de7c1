package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jask/ledgersync/internal/config"
	"github.com/jask/ledgersync/internal/logger"
)

const usage = `usage: ledgersync <command> [flags]

commands:
  serve      run the HTTP API and the sync scheduler
  sync       sync one account, or every due account
  plan       show the sync schedule
  reconcile  deduplicate stored transactions of an account
  import     import a CSV export into an account
  link       store a provider token for a connection
  seed       create demo accounts
  reset      delete all account data
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.L.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, cmd string, args []string) error {
	switch cmd {
	case "serve":
		return cmdServe(ctx, cfg, args)
	case "sync":
		return cmdSync(ctx, cfg, args)
	case "plan":
		return cmdPlan(ctx, cfg, args)
	case "reconcile":
		return cmdReconcile(ctx, cfg, args)
	case "import":
		return cmdImport(ctx, cfg, args)
	case "link":
		return cmdLink(ctx, cfg, args)
	case "seed":
		return cmdSeed(ctx, cfg, args)
	case "reset":
		return cmdReset(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
