package database

import (
	"context"

	"github.com/npezzotti/go-listsync/internal/types"
)

// MessageStore persists chat messages and their per-user read and delete
// sets.
type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	GetMessage(ctx context.Context, id int) (types.Message, error)
	ListMessages(ctx context.Context, scope types.MessageScope) ([]types.Message, error)
	// AddReader adds userId to readBy and reports whether the set changed.
	AddReader(ctx context.Context, messageId, userId int) (bool, error)
	// MarkScopeRead adds userId to readBy on every message in scope not sent
	// by userId and returns how many rows changed.
	MarkScopeRead(ctx context.Context, scope types.MessageScope, userId int) (int, error)
	// AddDeleter adds userId to deleteBy and returns the updated message.
	AddDeleter(ctx context.Context, messageId, userId int) (types.Message, error)
	DeleteMessage(ctx context.Context, id int) error
	// UnreadMessageIds returns, in ascending order, the ids of messages in
	// listId unread by userId, keyed by scope. Scopes with nothing unread are
	// absent.
	UnreadMessageIds(ctx context.Context, listId, userId int) (map[types.MessageScope][]int, error)
}

type VoteStore interface {
	GetVote(ctx context.Context, userId, itemId int) (types.Vote, error)
	UpsertVote(ctx context.Context, vote types.Vote) error
	CountVotes(ctx context.Context, itemId int) (up int, down int, err error)
}

// ListDirectory is the read side of the list, item and membership tables
// owned by the CRUD subsystem.
type ListDirectory interface {
	GetList(ctx context.Context, listId int) (types.List, error)
	GetItem(ctx context.Context, itemId int) (types.Item, error)
	ListItemIds(ctx context.Context, listId int) ([]int, error)
	ListParticipantIds(ctx context.Context, listId int) ([]int, error)
	GetParticipant(ctx context.Context, listId, userId int) (types.Participant, error)
	ListUserListIds(ctx context.Context, userId int) ([]int, error)
}

type ChatRepository interface {
	Ping(ctx context.Context) error
	MessageStore
	VoteStore
	ListDirectory
}
