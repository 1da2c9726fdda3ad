package npc

import (
	"context"
	"fmt"

	"simengine/pkg/marketstore"
	"simengine/pkg/pricing"
)

// NPCInfo is the static roster entry for one NPC actor: its
// identity and the pool it trades through.
type NPCInfo struct {
	ID     string
	Name   string
	PoolID string
}

// Roster supplies the set of active NPCs and the tickers they watch. A
// production deployment backs this with the users table filtered on
// is_npc_actor; MemRoster below is the in-memory equivalent.
type Roster interface {
	ActiveNPCs(ctx context.Context) ([]NPCInfo, error)
	WatchedTickers(ctx context.Context) ([]string, error)
}

// SocialFeed supplies the top-K recent posts and group-chat messages a
// MarketContext embeds: the narrow read-only slice the Decision Engine
// consumes from the social feed.
type SocialFeed interface {
	RecentPosts(ctx context.Context, topK int) ([]string, error)
	GroupChatMessages(ctx context.Context, topK int) ([]string, error)
}

// NoopSocialFeed is a SocialFeed that always returns no content, for
// deployments or tests that don't wire a social-feed collaborator.
type NoopSocialFeed struct{}

func (NoopSocialFeed) RecentPosts(context.Context, int) ([]string, error)       { return nil, nil }
func (NoopSocialFeed) GroupChatMessages(context.Context, int) ([]string, error) { return nil, nil }

// DefaultTopK bounds the recent-posts/group-chat slices folded into one
// MarketContext.
const DefaultTopK = 10

// ContextBuilder implements tick.ContextSource, assembling one
// MarketContext per active NPC from live market-store state.
type ContextBuilder struct {
	store  marketstore.Store
	roster Roster
	feed   SocialFeed
	topK   int
}

func NewContextBuilder(store marketstore.Store, roster Roster, feed SocialFeed, topK int) *ContextBuilder {
	if feed == nil {
		feed = NoopSocialFeed{}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &ContextBuilder{store: store, roster: roster, feed: feed, topK: topK}
}

// BuildContexts assembles one MarketContext per active NPC. A failure to load one NPC's pool or positions skips that NPC
// rather than aborting the whole batch, mirroring the agent runtime's
// per-provider failure tolerance.
func (b *ContextBuilder) BuildContexts(ctx context.Context) ([]MarketContext, error) {
	npcs, err := b.roster.ActiveNPCs(ctx)
	if err != nil {
		return nil, err
	}
	tickers, err := b.roster.WatchedTickers(ctx)
	if err != nil {
		return nil, err
	}

	perpMarkets := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		m, err := b.store.GetPerpMarket(ctx, t)
		if err != nil {
			continue
		}
		perpMarkets[t] = m.MarkPrice
	}

	predictionMarkets := make(map[string]PredictionSummary)
	openMarkets, err := b.store.OpenPredictionMarkets(ctx)
	if err == nil {
		for _, m := range openMarkets {
			yes, _ := pricing.Prices(m.QYes, m.QNo, m.B)
			predictionMarkets[m.ID] = PredictionSummary{Prompt: m.Prompt, YesPrice: yes}
		}
	}

	posts, _ := b.feed.RecentPosts(ctx, b.topK)
	chat, _ := b.feed.GroupChatMessages(ctx, b.topK)

	out := make([]MarketContext, 0, len(npcs))
	for _, info := range npcs {
		pool, err := b.store.GetPool(ctx, info.PoolID)
		if err != nil {
			continue
		}
		positions, _ := b.store.OpenPerpPositionsForOwner(ctx, info.PoolID)
		summaries := make([]string, 0, len(positions))
		for _, p := range positions {
			summaries = append(summaries, fmt.Sprintf("%s %s size=%.2f entry=%.2f lev=%dx", p.Ticker, p.Side, p.Size, p.EntryPrice, p.Leverage))
		}

		out = append(out, MarketContext{
			NPCID:             info.ID,
			NPCName:           info.Name,
			PoolID:            info.PoolID,
			AvailableBalance:  pool.AvailableBalance,
			RecentPosts:       posts,
			GroupChatMessages: chat,
			PerpMarkets:       perpMarkets,
			PredictionMarkets: predictionMarkets,
			CurrentPositions:  summaries,
		})
	}
	return out, nil
}

// MemRoster is an in-memory Roster for tests and single-process wiring.
type MemRoster struct {
	NPCs    []NPCInfo
	Tickers []string
}

func (r MemRoster) ActiveNPCs(context.Context) ([]NPCInfo, error)    { return r.NPCs, nil }
func (r MemRoster) WatchedTickers(context.Context) ([]string, error) { return r.Tickers, nil }
