// Package oracle implements market resolution: commit/reveal of a
// matured prediction market's outcome against an external oracle, and
// the escrow payout sweep that follows.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
	"simengine/pkg/marketstore"
)

// ErrUnknownSession is returned by Client implementations for a session id
// that was never committed.
var ErrUnknownSession = engineerr.New(engineerr.NotFound, "oracle: unknown session")

// SessionState mirrors one oracle_sessions row.
type SessionState struct {
	SessionID string
	TxHash    string
	Revealed  bool
	Outcome   marketstore.Outcome
}

// Client is the external oracle collaborator: commit/reveal/
// getOutcome, each a suspension point with its own timeout.
type Client interface {
	Commit(ctx context.Context, questionID, text, scenarioTag string) (sessionID, txHash string, err error)
	Reveal(ctx context.Context, sessionID string, outcome marketstore.Outcome) error
	GetOutcome(ctx context.Context, sessionID string) (revealed bool, outcome marketstore.Outcome, err error)
}

// OutcomeSource supplies the true outcome for a committed market once it is
// known, so the resolver has something to pass to Client.Reveal. Two
// sources exist: the reveal window simply elapsing, for an oracle that
// already knows the outcome internally, or an administrator supplying
// the outcome; this interface models the latter, and the former is just
// an OutcomeSource that is always ready.
type OutcomeSource interface {
	ResolveOutcome(ctx context.Context, questionID string) (outcome marketstore.Outcome, ready bool, err error)
}

// Config holds the oracle client's operating knobs.
type Config struct {
	Timeout time.Duration `json:",default=15s"`
}

// Resolver runs the per-tick resolution sweep: commit
// matured markets that haven't been committed, reveal committed markets
// whose window has elapsed, and once revealed, pay out escrow to every
// open position. Payouts are keyed on (market_id, position_id) so a retry
// after a mid-sweep crash never double-pays.
type Resolver struct {
	store   marketstore.Store
	oracle  Client
	ledger  Ledger
	timeout time.Duration

	source       OutcomeSource
	revealWindow time.Duration

	paidMu sync.Mutex
	paid   map[string]bool // key: marketID|positionID, in-process dedupe before the ledger's own idempotence kicks in

	committedMu sync.Mutex
	committedAt map[string]time.Time // key: market id, first-seen commit time, for the reveal-window check
}

// Ledger is the narrow slice of pkg/ledger.Ledger the resolver needs,
// declared locally to avoid a dependency cycle and to keep the resolver
// testable against a fake.
type Ledger interface {
	CreditIdempotent(ctx context.Context, userID string, amount float64, kind, relatedID string) error
}

func NewResolver(store marketstore.Store, oracleClient Client, ledger Ledger, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Resolver{
		store: store, oracle: oracleClient, ledger: ledger, timeout: timeout,
		paid: make(map[string]bool), committedAt: make(map[string]time.Time),
	}
}

// WithOutcomeSource configures what the resolver consults to learn a
// committed market's true outcome before it calls Client.Reveal, and how
// long it waits after commit before consulting it.
// Returns the resolver for chaining at construction time.
func (r *Resolver) WithOutcomeSource(source OutcomeSource, revealWindow time.Duration) *Resolver {
	r.source = source
	r.revealWindow = revealWindow
	return r
}

// Sweep runs the commit, reveal, and payout steps over every matured
// unresolved market. It never
// aborts on a single market's failure; each market is resolved
// independently and failures are logged, matching the tick scheduler's
// per-intent failure aggregation discipline.
func (r *Resolver) Sweep(ctx context.Context, now time.Time) (resolved int, err error) {
	markets, err := r.store.MaturedUnresolvedMarkets(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, m := range markets {
		if err := r.resolveOne(ctx, m); err != nil {
			logx.WithContext(ctx).Errorf("oracle: resolve market %s: %v", m.ID, err)
			continue
		}
		after, err := r.store.GetPredictionMarket(ctx, m.ID)
		if err != nil || !after.Resolved {
			continue // committed or awaiting reveal; counted once it is marked resolved
		}
		resolved++
	}
	return resolved, nil
}

func (r *Resolver) resolveOne(ctx context.Context, m marketstore.PredictionMarket) error {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sessionID := m.OracleSession
	if sessionID == "" {
		sid, _, err := r.oracle.Commit(cctx, m.ID, m.Prompt, m.Category)
		if err != nil {
			return engineerr.Newf(engineerr.Timeout, "oracle: commit failed: %v", err).WithRelated(m.ID)
		}
		if err := r.store.SetOracleSession(ctx, m.ID, sid); err != nil {
			return err
		}
		sessionID = sid
		r.markCommitted(m.ID)
	}

	revealed, outcome, err := r.oracle.GetOutcome(cctx, sessionID)
	if err != nil {
		return engineerr.Newf(engineerr.Timeout, "oracle: getOutcome failed: %v", err).WithRelated(m.ID)
	}
	if !revealed {
		revealed, outcome, err = r.tryReveal(cctx, m.ID, sessionID)
		if err != nil {
			return err
		}
		if !revealed {
			return nil // reveal window hasn't elapsed, or no outcome is available yet; try again next sweep
		}
	}

	positions, err := r.store.OpenPredictionPositionsByMarket(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if err := r.payout(ctx, m, pos, outcome); err != nil {
			logx.WithContext(ctx).Errorf("oracle: payout position %s: %v", pos.ID, err)
			continue
		}
	}
	return r.store.MarkMarketResolved(ctx, m.ID, outcome)
}

// markCommitted records the first time this process observed market
// questionID as committed, so tryReveal can tell whether its reveal window
// has elapsed. It is in-process only: a crash mid-window restarts the
// clock, which only ever delays a reveal, never causes a premature or
// duplicate one (Client.Reveal/GetOutcome remain the source of truth).
func (r *Resolver) markCommitted(questionID string) {
	r.committedMu.Lock()
	defer r.committedMu.Unlock()
	if _, ok := r.committedAt[questionID]; !ok {
		r.committedAt[questionID] = time.Now()
	}
}

// tryReveal handles the reveal step: once a committed market's
// reveal window has elapsed (or unconditionally, for a source that is
// always ready), ask the configured OutcomeSource for the true outcome and
// call Client.Reveal with it, then re-read GetOutcome to confirm.
func (r *Resolver) tryReveal(ctx context.Context, questionID, sessionID string) (bool, marketstore.Outcome, error) {
	if r.source == nil {
		return false, "", nil
	}
	r.committedMu.Lock()
	since, ok := r.committedAt[questionID]
	if !ok {
		// Committed before this process started: the window starts now.
		since = time.Now()
		r.committedAt[questionID] = since
	}
	r.committedMu.Unlock()
	if time.Since(since) < r.revealWindow {
		return false, "", nil
	}

	outcome, ready, err := r.source.ResolveOutcome(ctx, questionID)
	if err != nil {
		return false, "", engineerr.Newf(engineerr.Timeout, "oracle: resolve outcome failed: %v", err).WithRelated(questionID)
	}
	if !ready {
		return false, "", nil
	}
	if err := r.oracle.Reveal(ctx, sessionID, outcome); err != nil {
		return false, "", engineerr.Newf(engineerr.Timeout, "oracle: reveal failed: %v", err).WithRelated(questionID)
	}
	revealed, revealedOutcome, err := r.oracle.GetOutcome(ctx, sessionID)
	if err != nil {
		return false, "", engineerr.Newf(engineerr.Timeout, "oracle: getOutcome after reveal failed: %v", err).WithRelated(questionID)
	}
	return revealed, revealedOutcome, nil
}

func (r *Resolver) payout(ctx context.Context, m marketstore.PredictionMarket, pos marketstore.PredictionPosition, outcome marketstore.Outcome) error {
	key := m.ID + "|" + pos.ID
	r.paidMu.Lock()
	if r.paid[key] {
		r.paidMu.Unlock()
		return nil
	}
	r.paid[key] = true
	r.paidMu.Unlock()

	amount := 0.0
	won := (outcome == marketstore.OutcomeYes && pos.Side == marketstore.SideYes) ||
		(outcome == marketstore.OutcomeNo && pos.Side == marketstore.SideNo)
	if won {
		amount = pos.Shares
	}
	if amount > 0 {
		if err := r.ledger.CreditIdempotent(ctx, pos.UserID, amount, "prediction_payout", key); err != nil {
			return err
		}
	}
	return r.store.ClosePredictionPosition(ctx, pos.ID)
}
