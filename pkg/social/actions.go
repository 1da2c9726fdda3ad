package social

import (
	"context"
	"fmt"

	"simengine/pkg/engineerr"
)

// PostAction, CommentAction, MessageAction, and GroupMessageAction
// implement runtime.Action without importing pkg/runtime itself —
// the interface is structural (Name()/Execute()), so no import cycle is
// needed.
type PostAction struct{ store Store }

func NewPostAction(store Store) PostAction { return PostAction{store: store} }

func (PostAction) Name() string { return "post" }

func (a PostAction) Execute(ctx context.Context, agentID string, params map[string]any) error {
	text, _ := params["text"].(string)
	if text == "" {
		return engineerr.New(engineerr.InvariantViolation, "social: post requires non-empty text")
	}
	_, err := a.store.CreatePost(ctx, Post{AuthorID: agentID, Text: text})
	return err
}

type CommentAction struct{ store Store }

func NewCommentAction(store Store) CommentAction { return CommentAction{store: store} }

func (CommentAction) Name() string { return "comment" }

func (a CommentAction) Execute(ctx context.Context, agentID string, params map[string]any) error {
	postID, _ := params["post_id"].(string)
	text, _ := params["text"].(string)
	if postID == "" || text == "" {
		return engineerr.New(engineerr.InvariantViolation, "social: comment requires post_id and text")
	}
	_, err := a.store.CreateComment(ctx, Comment{PostID: postID, AuthorID: agentID, Text: text})
	return err
}

type MessageAction struct{ store Store }

func NewMessageAction(store Store) MessageAction { return MessageAction{store: store} }

func (MessageAction) Name() string { return "message" }

func (a MessageAction) Execute(ctx context.Context, agentID string, params map[string]any) error {
	toID, _ := params["to_id"].(string)
	text, _ := params["text"].(string)
	if toID == "" || text == "" {
		return engineerr.New(engineerr.InvariantViolation, "social: message requires to_id and text")
	}
	_, err := a.store.SendMessage(ctx, DirectMessage{FromID: agentID, ToID: toID, Text: text})
	return err
}

type GroupMessageAction struct{ store Store }

func NewGroupMessageAction(store Store) GroupMessageAction { return GroupMessageAction{store: store} }

func (GroupMessageAction) Name() string { return "group_message" }

func (a GroupMessageAction) Execute(ctx context.Context, agentID string, params map[string]any) error {
	groupID, _ := params["group_id"].(string)
	text, _ := params["text"].(string)
	if text == "" {
		return engineerr.New(engineerr.InvariantViolation, "social: group_message requires text")
	}
	_, err := a.store.SendGroupMessage(ctx, GroupMessage{GroupID: groupID, AuthorID: agentID, Text: text})
	return err
}

// Feed adapts Store's read side to pkg/npc.SocialFeed.
type Feed struct {
	store   Store
	groupID string
}

func NewFeed(store Store, groupID string) Feed { return Feed{store: store, groupID: groupID} }

func (f Feed) RecentPosts(ctx context.Context, topK int) ([]string, error) {
	posts, err := f.store.RecentPosts(ctx, topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = fmt.Sprintf("%s: %s", p.AuthorID, p.Text)
	}
	return out, nil
}

func (f Feed) GroupChatMessages(ctx context.Context, topK int) ([]string, error) {
	msgs, err := f.store.RecentGroupMessages(ctx, f.groupID, topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%s: %s", m.AuthorID, m.Text)
	}
	return out, nil
}
