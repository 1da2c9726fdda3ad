// Package svc wires the engine's components into one process-local
// dependency graph: the Ledger, Market Store, Pricing-driven subsystems
// (Trade Executor, Price Updater, Resolution Resolver), the NPC Decision
// Engine, the Agent Runtime Manager and Autonomous Coordinator, the
// Trajectory Recorder, and the A2A Gateway, all sharing the process-wide
// LLM semaphore.
//
// Every component here is backed by the in-memory Store implementation
// its package ships (pkg/*/memstore.go) by default; when
// Config.PostgresDSN is set, the Ledger and Market Store are instead
// backed by their sqlx.SqlConn-backed SQLStore registered under the
// "pgx" driver name.
package svc

import (
	"context"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"simengine/internal/config"
	"simengine/pkg/a2a"
	"simengine/pkg/confkit"
	"simengine/pkg/coordinator"
	"simengine/pkg/experience"
	"simengine/pkg/journal"
	"simengine/pkg/ledger"
	"simengine/pkg/llm"
	"simengine/pkg/llmsem"
	"simengine/pkg/marketstore"
	"simengine/pkg/npc"
	"simengine/pkg/oracle"
	"simengine/pkg/priceupdater"
	"simengine/pkg/pricing"
	"simengine/pkg/prompt"
	"simengine/pkg/runtime"
	"simengine/pkg/social"
	"simengine/pkg/tick"
	"simengine/pkg/tradeexec"
	"simengine/pkg/trajectory"
)

const (
	npcPromptPath  = "etc/prompts/npc_decision.tmpl"
	planPromptPath = "etc/prompts/agent_plan.tmpl"
	defaultGroupID = "global"
)

// ServiceContext bundles every component of the simulation engine,
// constructed from one Config. It is the single place that knows how the
// components are wired together; everything downstream (cmd/enginectl,
// tests) takes the pieces it needs from here instead of re-wiring them.
type ServiceContext struct {
	Config config.Config

	LLMClient llm.LLMClient

	Ledger      *ledger.Ledger
	LedgerStore ledger.Store
	MarketStore marketstore.Store

	Social      social.Store
	Experiences experience.Store

	TrajectoryStore *trajectory.MemStore
	Recorder        *trajectory.Recorder

	OracleClient *oracle.MemClient
	Resolver     *oracle.Resolver

	PricingMaintenanceMargin float64

	TradeExec    *tradeexec.Executor
	PriceUpdater *priceupdater.Updater

	Roster        *npc.MemRoster
	ContextSource *npc.ContextBuilder
	NPCEngine     *npc.Engine

	Sem *llmsem.Semaphore

	Runtimes    *runtime.Manager
	Agents      *coordinator.MemAgentStore
	Goals       *coordinator.MemGoalStore
	Coordinator *coordinator.Coordinator

	Scheduler *tick.Scheduler

	IdentityRegistry *a2a.StaticRegistry
	ModerationStore  *a2a.MemModerationStore
	RateLimiter      *a2a.CallerLimiter
	Gateway          *a2a.Gateway
}

// NewServiceContext builds the full engine dependency graph from c. mainPath
// is the resolved path of the loaded config file, used to resolve the
// prompt-template paths relative to the repository layout the way
// pkg/llm.Config's sibling file references are resolved in internal/config.
func NewServiceContext(c config.Config, mainPath string) *ServiceContext {
	baseDir := confkit.BaseDir(mainPath)
	if baseDir == "" || baseDir == "." {
		baseDir = confkit.MustProjectRoot()
	}

	svc := &ServiceContext{Config: c}

	// LLM client: the real ZenMux-backed client when an LLM section was
	// configured, otherwise a NoopClient so the NPC Decision Engine and
	// Autonomous Coordinator degrade to hold/no-actions instead of failing
	// to start (pkg/llm/noop.go).
	if c.LLM.Value != nil {
		client, err := llm.NewClient(c.LLM.Value)
		if err != nil {
			log.Fatalf("svc: build llm client: %v", err)
		}
		svc.LLMClient = client
	} else {
		svc.LLMClient = llm.NewNoopClient()
	}

	// Ledger and Market Store: sqlx.SqlConn-backed when a Postgres DSN is
	// configured, in-memory otherwise (the default for tests and the
	// bundled etc/enginectl.yaml).
	if c.PostgresDSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.PostgresDSN)
		svc.LedgerStore = ledger.NewSQLStore(conn)
		svc.MarketStore = marketstore.NewSQLStore(conn)
	} else {
		svc.LedgerStore = ledger.NewMemStore()
		svc.MarketStore = marketstore.NewMemStore()
	}
	svc.Ledger = ledger.New(svc.LedgerStore)

	// Social feed + experience memory.
	svc.Social = social.NewMemStore()
	svc.Experiences = experience.NewMemStore()

	// Trajectory Recorder.
	svc.TrajectoryStore = trajectory.NewMemStore()
	svc.Recorder = trajectory.NewRecorder(svc.TrajectoryStore).
		WithMinAgentsPerWindow(c.TrajectoryMinAgentsPerWindow)

	// Resolution and oracle client. The in-memory client also doubles as
	// the resolver's OutcomeSource (its own Outcomes map is the
	// administrator-supplied-outcome path); a real oracle integration would
	// back the source with whatever out-of-band process learns the true
	// outcome.
	svc.OracleClient = oracle.NewMemClient()
	oracleTimeout := c.OracleTimeout()
	svc.Resolver = oracle.NewResolver(svc.MarketStore, svc.OracleClient, svc.Ledger, oracleTimeout).
		WithOutcomeSource(svc.OracleClient, 0)

	// Pricing Kernel knobs.
	svc.PricingMaintenanceMargin = c.MaintenanceMargin
	if svc.PricingMaintenanceMargin <= 0 {
		svc.PricingMaintenanceMargin = pricing.DefaultMaintenanceMargin
	}

	// Trade Executor + Price Updater.
	svc.TradeExec = tradeexec.New(svc.MarketStore, svc.Ledger, svc.PricingMaintenanceMargin)
	svc.PriceUpdater = priceupdater.New(svc.MarketStore).WithDefaultSupply(c.SyntheticSupply)

	// Process-wide LLM concurrency semaphore, shared by the NPC Decision
	// Engine and the Autonomous Coordinator.
	svc.Sem = llmsem.New(c.MaxConcurrentLLM)

	// NPC Decision Engine.
	svc.Roster = &npc.MemRoster{}
	socialFeed := social.NewFeed(svc.Social, defaultGroupID)
	svc.ContextSource = npc.NewContextBuilder(svc.MarketStore, svc.Roster, socialFeed, npc.DefaultTopK)

	npcTmpl, err := prompt.NewTemplate(confkit.ResolvePath(baseDir, npcPromptPath), nil)
	if err != nil {
		log.Fatalf("svc: load npc decision prompt: %v", err)
	}
	npcModel := ""
	if c.LLM.Value != nil {
		npcModel = c.LLM.Value.DefaultModel
	}
	svc.NPCEngine = npc.New(npc.Config{
		Model:            npcModel,
		MaxConcurrentLLM: c.MaxConcurrentLLM,
		DecisionTimeout:  c.LLMTimeout(),
		NTradesPerNPC:    c.NTradesPerNPC,
	}, svc.LLMClient, npcTmpl, svc.Sem)

	// Agent Runtime Manager + Autonomous Coordinator.
	factory := newAgentFactory(svc.TradeExec, svc.Ledger, svc.MarketStore, svc.Experiences, svc.Social, defaultGroupID)
	svc.Runtimes = runtime.New(factory, runtime.DefaultCapacity)
	svc.Runtimes.SetProviderTimeout(c.ProviderTimeout())
	svc.Agents = coordinator.NewMemAgentStore()
	svc.Goals = coordinator.NewMemGoalStore()

	planTmpl, err := prompt.NewTemplate(confkit.ResolvePath(baseDir, planPromptPath), nil)
	if err != nil {
		log.Fatalf("svc: load agent plan prompt: %v", err)
	}
	planner := coordinator.NewLLMPlanner(svc.LLMClient, planTmpl, npcModel)
	svc.Coordinator = coordinator.New(svc.Agents, svc.Goals, svc.Runtimes, planner, svc.Recorder, svc.Sem, coordinator.Config{
		TickCostFree: c.AgentTickCostFree,
		TickCostPro:  c.AgentTickCostPro,
		Experiences:  svc.Experiences,
	})

	// Tick scheduler, with the optional flat-file tick journal when a
	// directory is configured.
	var tickJournal *journal.Writer
	if c.TickJournalDir != "" {
		tickJournal = journal.NewWriter(confkit.ResolvePath(baseDir, c.TickJournalDir))
	}
	svc.Scheduler = tick.New(svc.MarketStore, svc.ContextSource, svc.NPCEngine, svc.TradeExec, svc.PriceUpdater, svc.Resolver, tick.Config{
		Interval:    c.TickInterval(),
		HardTimeout: c.TickHardTimeout(),
		Journal:     tickJournal,
	})

	// A2A gateway.
	svc.IdentityRegistry = a2a.NewStaticRegistry()
	svc.ModerationStore = a2a.NewMemModerationStore()
	svc.RateLimiter = a2a.NewCallerLimiter(c.RateLimitRPM, c.RateLimitBurst)
	svc.Gateway = a2a.NewGateway(svc.MarketStore, svc.TradeExec, svc.ModerationStore, svc.IdentityRegistry, svc.RateLimiter)

	return svc
}

// CreatePredictionMarket opens a new binary market, filling in the
// configured default liquidity parameter b and the unresolved outcome
// when the caller leaves them zero.
func (s *ServiceContext) CreatePredictionMarket(ctx context.Context, m marketstore.PredictionMarket) (marketstore.PredictionMarket, error) {
	if m.B <= 0 {
		m.B = s.Config.DefaultLiquidityB
	}
	if m.Outcome == "" {
		m.Outcome = marketstore.OutcomeUnresolved
	}
	return s.MarketStore.CreatePredictionMarket(ctx, m)
}
