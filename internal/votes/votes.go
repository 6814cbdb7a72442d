// Package votes keeps the up/down tally of list items.
package votes

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/keylock"
	"github.com/npezzotti/go-listsync/internal/types"
)

type Broadcaster interface {
	Broadcast(room, name string, payload any)
}

type Repository interface {
	database.VoteStore
	GetItem(ctx context.Context, itemId int) (types.Item, error)
	GetParticipant(ctx context.Context, listId, userId int) (types.Participant, error)
}

// Tally records votes and broadcasts the item's counts after each change.
type Tally struct {
	repo  Repository
	bc    Broadcaster
	locks keylock.Map[int]
}

func NewTally(repo Repository, bc Broadcaster) *Tally {
	return &Tally{repo: repo, bc: bc}
}

func (t *Tally) authorize(ctx context.Context, userId, itemId int) (types.Item, error) {
	item, err := t.repo.GetItem(ctx, itemId)
	if err != nil {
		return types.Item{}, fmt.Errorf("get item %d: %w", itemId, err)
	}

	if _, err := t.repo.GetParticipant(ctx, item.ListId, userId); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.Item{}, fmt.Errorf("user %d in list %d: %w", userId, item.ListId, types.ErrForbidden)
		}
		return types.Item{}, fmt.Errorf("get participant: %w", err)
	}

	return item, nil
}

// CastVote creates userId's vote on itemId or flips an opposite one. Voting
// the same direction twice fails with types.ErrDuplicateVote.
func (t *Tally) CastVote(ctx context.Context, userId, itemId int, dir types.VoteDirection) (types.VoteTally, error) {
	if !dir.Valid() {
		return types.VoteTally{}, fmt.Errorf("%w: vote type %q", types.ErrInvalidInput, dir)
	}

	item, err := t.authorize(ctx, userId, itemId)
	if err != nil {
		return types.VoteTally{}, err
	}

	// serialized per item so the broadcast tallies follow commit order
	unlock := t.locks.Lock(itemId)
	defer unlock()

	existing, err := t.repo.GetVote(ctx, userId, itemId)
	switch {
	case err == nil && existing.Direction == dir:
		return types.VoteTally{}, fmt.Errorf("user %d on item %d: %w", userId, itemId, types.ErrDuplicateVote)
	case err != nil && !errors.Is(err, types.ErrNotFound):
		return types.VoteTally{}, fmt.Errorf("get vote: %w", err)
	}

	if err := t.repo.UpsertVote(ctx, types.Vote{UserId: userId, ItemId: itemId, Direction: dir}); err != nil {
		return types.VoteTally{}, fmt.Errorf("upsert vote: %w", err)
	}

	tally, err := t.count(ctx, item)
	if err != nil {
		return types.VoteTally{}, err
	}

	t.bc.Broadcast(types.RoomKey(item.ListId), types.EventVotingUpdated, tally)
	return tally, nil
}

func (t *Tally) count(ctx context.Context, item types.Item) (types.VoteTally, error) {
	up, down, err := t.repo.CountVotes(ctx, item.Id)
	if err != nil {
		return types.VoteTally{}, fmt.Errorf("count votes: %w", err)
	}

	return types.VoteTally{ListId: item.ListId, ItemId: item.Id, CountUp: up, CountDown: down}, nil
}

// ItemVotes is the tally of an item plus the caller's own vote, if any.
type ItemVotes struct {
	types.VoteTally
	Mine types.VoteDirection `json:"myVote,omitempty"`
}

func (t *Tally) Get(ctx context.Context, userId, itemId int) (ItemVotes, error) {
	item, err := t.authorize(ctx, userId, itemId)
	if err != nil {
		return ItemVotes{}, err
	}

	tally, err := t.count(ctx, item)
	if err != nil {
		return ItemVotes{}, err
	}

	v := ItemVotes{VoteTally: tally}
	mine, err := t.repo.GetVote(ctx, userId, itemId)
	switch {
	case err == nil:
		v.Mine = mine.Direction
	case !errors.Is(err, types.ErrNotFound):
		return ItemVotes{}, fmt.Errorf("get vote: %w", err)
	}

	return v, nil
}
