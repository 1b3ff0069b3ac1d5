package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/odyssey-stock/cmd/stockctl/cli"
	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/reconcile"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const usage = `usage: stockctl <command> [flags]

commands:
  audit   [-location N] [-cost-pools] [-xlsx path] [-json]  rebuild balances from the ledger and report drift
  sweep                                                    enqueue a production sweep on the worker
  queue   [-json]                                          show worker queue depth
  prune   [-older-than 720h]                               delete expired idempotency keys
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "audit":
		return runAudit(ctx, cfg, args[1:], stdout, stderr)
	case "sweep":
		return runSweep(ctx, cfg, stdout, stderr)
	case "queue":
		return runQueue(ctx, cfg, args[1:], stdout, stderr)
	case "prune":
		return runPrune(ctx, cfg, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func runAudit(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	location := fs.Int64("location", 0, "location id to audit (default: every location)")
	costPools := fs.Bool("cost-pools", false, "also check item cost pools")
	xlsx := fs.String("xlsx", "", "write the report workbook to this path")
	asJSON := fs.Bool("json", false, "print JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	epsilon, err := cfg.Epsilon()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: %v\n", err)
		return 1
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: %v\n", err)
		return 1
	}
	defer pool.Close()

	auditor := reconcile.NewAuditor(inventory.NewRepository(pool), epsilon, app.NewLogger(cfg))
	return cli.AuditCommand(ctx, auditor, cli.AuditOptions{
		LocationID: *location,
		CostPools:  *costPools,
		XLSXPath:   *xlsx,
		JSONOutput: *asJSON,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func runSweep(ctx context.Context, cfg *app.Config, stdout, stderr io.Writer) int {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	info, err := jobsCLI.TriggerSweep(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sweep: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
	return 0
}

func runQueue(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	stats, err := jobsCLI.InspectQueues(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
		return 1
	}
	if *asJSON {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(stderr, "queue: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	for _, s := range stats {
		_, _ = fmt.Fprintf(stdout, "%-9s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	return 0
}

func runPrune(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(stderr)
	olderThan := fs.Duration("older-than", cfg.IdempotencyTTL, "retention window for idempotency keys")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "prune: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	return cli.PruneCommand(ctx, shared.NewIdempotencyStore(pool), *olderThan, stdout, stderr)
}
