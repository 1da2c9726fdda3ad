package social_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/social"
)

func TestPostAction_CreatesPostVisibleInFeed(t *testing.T) {
	ctx := context.Background()
	store := social.NewMemStore()
	action := social.NewPostAction(store)

	require.NoError(t, action.Execute(ctx, "agent-1", map[string]any{"text": "hello world"}))

	feed := social.NewFeed(store, "")
	posts, err := feed.RecentPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Contains(t, posts[0], "hello world")
}

func TestPostAction_RejectsEmptyText(t *testing.T) {
	action := social.NewPostAction(social.NewMemStore())
	err := action.Execute(context.Background(), "agent-1", map[string]any{})
	require.Error(t, err)
}

func TestGroupMessageAction_ScopesByGroup(t *testing.T) {
	ctx := context.Background()
	store := social.NewMemStore()
	action := social.NewGroupMessageAction(store)

	require.NoError(t, action.Execute(ctx, "a1", map[string]any{"group_id": "g1", "text": "hi g1"}))
	require.NoError(t, action.Execute(ctx, "a2", map[string]any{"group_id": "g2", "text": "hi g2"}))

	feed := social.NewFeed(store, "g1")
	msgs, err := feed.GroupChatMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "hi g1")
}
