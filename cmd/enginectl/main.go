// Command enginectl is the operator-facing control binary: one-shot
// subcommands for driving the tick scheduler, the autonomous
// coordinator, trajectory export, and the resolution sweep, plus a
// `serve` subcommand that runs the tick loop and the A2A gateway's
// HTTP/WS listeners as a long-lived daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zeromicro/go-zero/core/logx"

	"simengine/internal/cli"
	"simengine/internal/config"
	"simengine/internal/svc"
	"simengine/pkg/a2a"
	"simengine/pkg/engineerr"
	"simengine/pkg/trajectory"
)

// Exit codes: 0 ok, 1 usage/runtime error, 2 busy, 3 invariant violation.
const (
	exitOK                 = 0
	exitUsage              = 1
	exitBusy               = 2
	exitInvariantViolation = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	verb := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	configPath := fs.String("f", "", "path to the engine config file (default etc/enginectl.yaml)")
	agentID := fs.String("agent", "", "agent id (agents.tick)")
	window := fs.String("window", "", "trajectory window id (trajectories.export)")
	every := fs.String("every", "", "cron expression: run resolve.sweep on this schedule instead of once")
	if err := fs.Parse(rest); err != nil {
		return exitUsage
	}

	cfgPath := config.ConfigFile()
	if *configPath != "" {
		cfgPath = *configPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: load config: %v\n", err)
		return exitUsage
	}
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := svc.NewServiceContext(*cfg, cfg.MainPath())

	switch verb {
	case "tick.run-once":
		return cmdTickRunOnce(ctx, sc)
	case "tick.status":
		return cmdTickStatus(sc)
	case "agents.run-all":
		return cmdAgentsRunAll(ctx, sc)
	case "trajectories.export":
		return cmdTrajectoriesExport(ctx, sc, *window)
	case "resolve.sweep":
		if *every != "" {
			return cmdResolveSweepCron(ctx, sc, *every)
		}
		return cmdResolveSweep(ctx, sc)
	case "agents.tick":
		return cmdAgentTick(ctx, sc, *agentID)
	case "serve":
		return cmdServe(ctx, sc, cfg)
	default:
		fmt.Fprintf(os.Stderr, "enginectl: unknown subcommand %q\n", verb)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: enginectl <subcommand> [-f config.yaml] [flags]

subcommands:
  tick.run-once              run exactly one game tick and print its summary
  tick.status                print the scheduler's current phase
  agents.run-all              run one autonomous tick for every known agent
  agents.tick -agent=<id>     run one autonomous tick for a single agent
  trajectories.export -window=<id>
                              export training-ready trajectories for a window
  resolve.sweep [-every=<cron-expr>]
                              resolve matured prediction markets once, or on
                              a recurring cron schedule (e.g. "0 * * * *")
  serve                       run the tick loop plus the A2A JSON-RPC
                              gateway (HTTP POST /rpc, WebSocket /ws) until
                              interrupted`)
}

func cmdTickRunOnce(ctx context.Context, sc *svc.ServiceContext) int {
	summary, err := sc.Scheduler.RunOnce(ctx)
	if err != nil {
		if engineerr.Is(err, engineerr.Busy) {
			fmt.Fprintln(os.Stderr, "enginectl: tick busy")
			return exitBusy
		}
		if engineerr.Is(err, engineerr.InvariantViolation) {
			fmt.Fprintf(os.Stderr, "enginectl: invariant violation: %v\n", err)
			return exitInvariantViolation
		}
		fmt.Fprintf(os.Stderr, "enginectl: tick failed: %v\n", err)
		return exitUsage
	}
	fmt.Printf("tick=%d npcs_decided=%d trades_attempted=%d trades_succeeded=%d markets_resolved=%d positions_liquidated=%d funding_applied=%d duration=%s\n",
		summary.TickNo, summary.NPCsDecided, summary.TradesAttempted, summary.TradesSucceeded,
		summary.MarketsResolved, summary.PositionsLiquidated, summary.FundingApplied, summary.FinishedAt.Sub(summary.StartedAt))
	return exitOK
}

func cmdTickStatus(sc *svc.ServiceContext) int {
	fmt.Printf("state=%s fencing_token=%d\n", sc.Scheduler.Status(), sc.Scheduler.FencingToken())
	return exitOK
}

func cmdAgentsRunAll(ctx context.Context, sc *svc.ServiceContext) int {
	ids := sc.Agents.IDs()
	exit := exitOK
	for _, id := range ids {
		result, err := sc.Coordinator.Tick(ctx, id)
		if err != nil {
			logx.Errorf("enginectl: agent %s tick failed: %v", id, err)
			exit = exitUsage
			continue
		}
		fmt.Printf("agent=%s success=%t method=%s actions=%v duration_ms=%d\n",
			id, result.Success, result.Method, result.ActionsExecuted, result.DurationMs)
	}
	return exit
}

func cmdAgentTick(ctx context.Context, sc *svc.ServiceContext, agentID string) int {
	if agentID == "" {
		fmt.Fprintln(os.Stderr, "enginectl: agents.tick requires -agent=<id>")
		return exitUsage
	}
	result, err := sc.Coordinator.Tick(ctx, agentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: agent %s tick failed: %v\n", agentID, err)
		return exitUsage
	}
	fmt.Printf("agent=%s success=%t method=%s actions=%v duration_ms=%d\n", agentID, result.Success, result.Method, result.ActionsExecuted, result.DurationMs)
	return exitOK
}

func cmdTrajectoriesExport(ctx context.Context, sc *svc.ServiceContext, window string) int {
	if window == "" {
		fmt.Fprintln(os.Stderr, "enginectl: trajectories.export requires -window=<id>")
		return exitUsage
	}
	tuples, err := trajectory.ExportWindow(ctx, sc.TrajectoryStore, window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: export failed: %v\n", err)
		return exitUsage
	}
	fmt.Printf("window=%s exported=%d\n", window, len(tuples))
	for _, t := range tuples {
		fmt.Printf("  trajectory=%s messages=%d reward=%.4f\n", t.TrajectoryID, len(t.Messages), t.Reward)
	}
	return exitOK
}

func cmdResolveSweep(ctx context.Context, sc *svc.ServiceContext) int {
	resolved, err := sc.Resolver.Sweep(ctx, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: resolve sweep failed: %v\n", err)
		return exitUsage
	}
	fmt.Printf("markets_resolved=%d\n", resolved)
	return exitOK
}

// cmdResolveSweepCron runs the resolution sweep on a recurring cron
// schedule instead of once.
func cmdResolveSweepCron(ctx context.Context, sc *svc.ServiceContext, expr string) int {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		resolved, err := sc.Resolver.Sweep(ctx, time.Now())
		if err != nil {
			logx.Errorf("enginectl: scheduled resolve sweep failed: %v", err)
			return
		}
		logx.Infof("enginectl: scheduled resolve sweep resolved=%d", resolved)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: invalid cron expression %q: %v\n", expr, err)
		return exitUsage
	}
	c.Start()
	logx.Infof("enginectl: resolve.sweep scheduled %q, press Ctrl+C to stop", expr)
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return exitOK
}

// cmdServe runs the tick loop and the A2A gateway's HTTP/WS listeners
// until interrupted.
func cmdServe(ctx context.Context, sc *svc.ServiceContext, cfg *config.Config) int {
	mux := http.NewServeMux()
	mux.Handle("/rpc", a2a.NewHTTPHandler(sc.Gateway))
	mux.Handle("/ws", a2a.NewWSHandler(sc.Gateway))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logx.Infof("enginectl: a2a gateway listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Errorf("enginectl: a2a gateway stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	runTick := func() {
		summary, err := sc.Scheduler.RunOnce(ctx)
		if err != nil {
			if engineerr.Is(err, engineerr.Busy) {
				logx.Infof("enginectl: tick busy, skipping this interval")
				return
			}
			logx.Errorf("enginectl: tick failed: %v", err)
			return
		}
		logx.Infof("enginectl: tick=%d npcs=%d attempted=%d succeeded=%d resolved=%d liquidated=%d funded=%d",
			summary.TickNo, summary.NPCsDecided, summary.TradesAttempted, summary.TradesSucceeded, summary.MarketsResolved,
			summary.PositionsLiquidated, summary.FundingApplied)
	}

	runTick()
	for {
		select {
		case <-ctx.Done():
			logx.Info("enginectl: shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
			return exitOK
		case <-ticker.C:
			runTick()
		}
	}
}
