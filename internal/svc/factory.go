package svc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"simengine/pkg/experience"
	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/runtime"
	"simengine/pkg/social"
	"simengine/pkg/tradeexec"
)

// agentFactory builds the provider/action set for a newly active agent.
// Every agent gets the same registered providers/actions;
// per-agent behavior comes entirely from the provider Fetch/action
// Execute calls being parameterized by agentID.
type agentFactory struct {
	walletProvider     walletProvider
	moversProvider     marketMoversProvider
	experienceProvider *experience.Provider
	socialFeed         social.Feed

	postAction     social.PostAction
	commentAction  social.CommentAction
	messageAction  social.MessageAction
	groupMsgAction social.GroupMessageAction

	buyYes    tradeexec.RuntimeAction
	buyNo     tradeexec.RuntimeAction
	openLong  tradeexec.RuntimeAction
	openShort tradeexec.RuntimeAction
	close     tradeexec.RuntimeAction
}

func newAgentFactory(exec *tradeexec.Executor, led *ledger.Ledger, store marketstore.Store, experiences experience.Store, socialStore social.Store, groupID string) *agentFactory {
	return &agentFactory{
		walletProvider:     walletProvider{ledger: led},
		moversProvider:     marketMoversProvider{store: store},
		experienceProvider: experience.NewProvider(experiences),
		socialFeed:         social.NewFeed(socialStore, groupID),
		postAction:         social.NewPostAction(socialStore),
		commentAction:      social.NewCommentAction(socialStore),
		messageAction:      social.NewMessageAction(socialStore),
		groupMsgAction:     social.NewGroupMessageAction(socialStore),
		buyYes:             tradeexec.NewRuntimeAction(exec, tradeexec.ActionBuyYes),
		buyNo:              tradeexec.NewRuntimeAction(exec, tradeexec.ActionBuyNo),
		openLong:           tradeexec.NewRuntimeAction(exec, tradeexec.ActionOpenLong),
		openShort:          tradeexec.NewRuntimeAction(exec, tradeexec.ActionOpenShort),
		close:              tradeexec.NewRuntimeAction(exec, tradeexec.ActionClose),
	}
}

// walletProvider reports the agent's own balances so the planner sees its
// spending power before proposing trades.
type walletProvider struct{ ledger *ledger.Ledger }

func (walletProvider) Name() string { return "wallet" }

func (p walletProvider) Fetch(ctx context.Context, agentID string) (string, error) {
	balance, err := p.ledger.Balance(ctx, agentID)
	if err != nil {
		return "", err
	}
	points, err := p.ledger.BalanceOf(ctx, agentID, ledger.AccountAgentPoints)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("virtual_balance=%s agent_points=%s", balance, points), nil
}

// marketMoversProvider summarizes every perpetual market's mark price and
// funding rate, biggest open-interest skew first.
type marketMoversProvider struct{ store marketstore.Store }

func (marketMoversProvider) Name() string { return "market_movers" }

func (p marketMoversProvider) Fetch(ctx context.Context, _ string) (string, error) {
	markets, err := p.store.ListPerpMarkets(ctx)
	if err != nil {
		return "", err
	}
	sort.Slice(markets, func(i, j int) bool {
		si := markets[i].OILong - markets[i].OIShort
		sj := markets[j].OILong - markets[j].OIShort
		if si < 0 {
			si = -si
		}
		if sj < 0 {
			sj = -sj
		}
		if si != sj {
			return si > sj
		}
		return markets[i].Ticker < markets[j].Ticker
	})
	lines := make([]string, 0, len(markets))
	for _, m := range markets {
		lines = append(lines, fmt.Sprintf("%s mark=%.4f funding=%.6f oi_long=%.2f oi_short=%.2f", m.Ticker, m.MarkPrice, m.FundingRate, m.OILong, m.OIShort))
	}
	return strings.Join(lines, "\n"), nil
}

// feedProvider adapts social.Feed's read side into a runtime.Provider so
// recent posts are part of the gathered context every tick, alongside
// the experience provider. Group-chat messages are not included.
type feedProvider struct{ feed social.Feed }

func (p feedProvider) Name() string { return "social_feed" }

func (p feedProvider) Fetch(ctx context.Context, _ string) (string, error) {
	posts, err := p.feed.RecentPosts(ctx, 0)
	if err != nil {
		return "", err
	}
	out := ""
	for _, post := range posts {
		out += post + "\n"
	}
	return out, nil
}

func (f *agentFactory) BuildProviders(string) []runtime.Provider {
	return []runtime.Provider{f.walletProvider, f.moversProvider, feedProvider{feed: f.socialFeed}, f.experienceProvider}
}

func (f *agentFactory) BuildActions(string) map[string]runtime.Action {
	return map[string]runtime.Action{
		f.postAction.Name():     f.postAction,
		f.commentAction.Name():  f.commentAction,
		f.messageAction.Name():  f.messageAction,
		f.groupMsgAction.Name(): f.groupMsgAction,
		f.buyYes.Name():         f.buyYes,
		f.buyNo.Name():          f.buyNo,
		f.openLong.Name():       f.openLong,
		f.openShort.Name():      f.openShort,
		f.close.Name():          f.close,
	}
}
