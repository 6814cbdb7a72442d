package votes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	tallies []types.VoteTally
	rooms   []string
}

func (b *recordingBroadcaster) Broadcast(room, name string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == types.EventVotingUpdated {
		b.rooms = append(b.rooms, room)
		b.tallies = append(b.tallies, payload.(types.VoteTally))
	}
}

func newTestTally(t *testing.T) (*Tally, *recordingBroadcaster) {
	repo := database.NewMemoryChatRepository()
	repo.AddList(types.List{Id: 7, ActivateVoting: true},
		types.Participant{User: types.User{Id: 1}},
		types.Participant{User: types.User{Id: 2}},
	)
	repo.AddItem(types.Item{Id: 9, ListId: 7, Name: "Cheese"})

	bc := &recordingBroadcaster{}
	return NewTally(repo, bc), bc
}

func TestCastVote(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate vote", func(t *testing.T) {
		tally, bc := newTestTally(t)

		got, err := tally.CastVote(ctx, 1, 9, types.VoteUp)
		require.NoError(t, err)
		assert.Equal(t, types.VoteTally{ListId: 7, ItemId: 9, CountUp: 1}, got)

		_, err = tally.CastVote(ctx, 1, 9, types.VoteUp)
		assert.ErrorIs(t, err, types.ErrDuplicateVote)

		require.Len(t, bc.tallies, 1, "expected a single tally broadcast")
		assert.Equal(t, "list:7", bc.rooms[0])
	})

	t.Run("flip in place", func(t *testing.T) {
		tally, bc := newTestTally(t)

		_, err := tally.CastVote(ctx, 1, 9, types.VoteUp)
		require.NoError(t, err)
		_, err = tally.CastVote(ctx, 2, 9, types.VoteUp)
		require.NoError(t, err)

		got, err := tally.CastVote(ctx, 1, 9, types.VoteDown)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CountUp)
		assert.Equal(t, 1, got.CountDown)
		assert.Len(t, bc.tallies, 3)
	})

	errCases := []struct {
		name   string
		userId int
		itemId int
		dir    types.VoteDirection
		err    error
	}{
		{name: "bad direction", userId: 1, itemId: 9, dir: "sideways", err: types.ErrInvalidInput},
		{name: "unknown item", userId: 1, itemId: 404, dir: types.VoteUp, err: types.ErrNotFound},
		{name: "non participant", userId: 3, itemId: 9, dir: types.VoteUp, err: types.ErrForbidden},
	}

	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			tally, bc := newTestTally(t)

			_, err := tally.CastVote(ctx, tc.userId, tc.itemId, tc.dir)
			assert.ErrorIs(t, err, tc.err)
			assert.Empty(t, bc.tallies)
		})
	}
}

func TestCastVoteStoreFailure(t *testing.T) {
	repo := &database.MockChatRepository{}
	defer repo.AssertExpectations(t)
	repo.On("GetItem", 9).Return(types.Item{Id: 9, ListId: 7}, nil)
	repo.On("GetParticipant", 7, 1).Return(types.Participant{}, nil)
	repo.On("GetVote", 1, 9).Return(types.Vote{}, types.ErrNotFound)
	repo.On("UpsertVote", mock.Anything).Return(errors.New("db down"))

	bc := &recordingBroadcaster{}
	_, err := NewTally(repo, bc).CastVote(context.Background(), 1, 9, types.VoteUp)
	assert.Error(t, err)
	assert.Empty(t, bc.tallies)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	tally, _ := newTestTally(t)

	v, err := tally.Get(ctx, 1, 9)
	require.NoError(t, err)
	assert.Empty(t, v.Mine)
	assert.Equal(t, 0, v.CountUp)

	_, err = tally.CastVote(ctx, 1, 9, types.VoteDown)
	require.NoError(t, err)

	v, err = tally.Get(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, types.VoteDown, v.Mine)
	assert.Equal(t, 1, v.CountDown)

	_, err = tally.Get(ctx, 3, 9)
	assert.ErrorIs(t, err, types.ErrForbidden)
}
