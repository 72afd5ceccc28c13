package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/config"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/ledger"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/swapengine"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

// legFlags collects repeated -leg values.
type legFlags []string

func (l *legFlags) String() string { return strings.Join(*l, ",") }

func (l *legFlags) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	loadEnv()
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 ok, 1 failure, 2 usage, 3 partial execution.
func run(args []string) int {
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	var legs legFlags
	mode := fs.String("mode", "quote", "quote | check | execute | watch")
	fs.Var(&legs, "leg", "leg as IN:OUT:AMOUNT[:BPS], repeatable (e.g. -leg SOL:USDC:0.1:50)")
	submit := fs.String("submit", "", "override SUBMIT_MODE (fast | bundle)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	switch *mode {
	case "quote", "check", "execute", "watch":
	default:
		fmt.Println("invalid -mode (use quote|check|execute|watch)")
		return 2
	}
	if *mode != "watch" && len(legs) == 0 {
		fmt.Println("missing -leg (at least one)")
		return 2
	}
	intents := make([]swapengine.LegIntent, 0, len(legs))
	for _, raw := range legs {
		li, err := swapengine.ParseLegFlag(raw)
		if err != nil {
			fmt.Println(err)
			return 2
		}
		intents = append(intents, li)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	cfg := config.Load()
	if *submit != "" {
		cfg.SubmitMode = *submit
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := swapengine.NewEngine(ctx, cfg, logger)
	if err != nil {
		fmt.Println("failed to init engine:", err)
		return 1
	}
	defer engine.Close()

	if *mode == "watch" {
		return watch(ctx, engine)
	}

	specs, err := engine.ParseLegs(intents)
	if err != nil {
		fmt.Println(err)
		return 2
	}

	switch *mode {
	case "quote":
		failed := false
		for i, spec := range specs {
			q, err := engine.Quote(ctx, spec)
			if err != nil {
				fmt.Printf("leg=%d quote failed: %v\n", i, err)
				failed = true
				continue
			}
			fmt.Printf("leg=%d provider=%s in=%s out=%s min_out=%s slippage_bps=%d instructions=%d lookup_tables=%d\n",
				i, q.Provider,
				swapengine.FormatAmount(q.InputMint, q.InAmount),
				swapengine.FormatAmount(q.OutputMint, q.OutAmount),
				swapengine.FormatAmount(q.OutputMint, q.MinOut()),
				q.SlippageBps, len(q.Instructions), len(q.LookupTables))
		}
		if failed {
			return 1
		}
	case "check":
		r := engine.CheckRisk(specs)
		fmt.Printf("allowed=%v reason=%q daily_native_used=%d\n", r.Allowed, r.Reason, r.DailyNativeUsed)
		if !r.Allowed {
			return 1
		}
	case "execute":
		res, err := engine.Execute(ctx, specs)
		if res != nil {
			printResult(res)
		}
		if err != nil {
			var partial *swapengine.PartialExecutionError
			if errors.As(err, &partial) {
				return 3
			}
			fmt.Println("execute failed:", err)
			return 1
		}
	}
	return 0
}

func printResult(res *swapengine.Result) {
	fmt.Printf("execution=%s mode=%s success=%v attempts=%d duration=%s\n",
		res.ExecutionID, res.Mode, res.Success, res.Attempt, res.Duration())
	for _, l := range swapengine.ToLedger(res).Legs {
		fmt.Printf("  leg=%d status=%s stage=%s attempt=%d provider=%s sig=%s", l.Index, l.Status, l.Stage, l.Attempt, l.Provider, l.Signature)
		if l.BundleID != "" {
			fmt.Printf(" bundle=%s", l.BundleID)
		}
		if l.Error != "" {
			fmt.Printf(" error=%q", l.Error)
		}
		fmt.Println()
	}
}

// watch tails executions published by any executor sharing the Redis instance.
func watch(ctx context.Context, engine *swapengine.Engine) int {
	pub := engine.Publisher()
	if pub == nil {
		fmt.Println("watch needs REDIS_ADDR")
		return 2
	}
	fmt.Println("watching executions, Ctrl+C to stop")
	err := pub.Subscribe(ctx, func(e *ledger.Execution) {
		fmt.Printf("%s execution=%s mode=%s success=%v attempts=%d legs=%d %s\n",
			e.FinishedAt.Format("15:04:05"), e.ID, e.Mode, e.Success, e.Attempt, len(e.Legs), e.Message)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println("subscribe:", err)
		return 1
	}
	return 0
}
