package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-listsync/internal/testutil"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
	err    error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(testutil.TestLogger(t), w)

	p.Publish("list:7", types.EventMessageNew, json.RawMessage(`{"listId":7}`))
	p.Publish("list:8", types.EventVotingUpdated, json.RawMessage(`{"listId":8}`))
	require.NoError(t, p.Close())

	// no-ops once closed
	p.Publish("list:7", types.EventMessageNew, json.RawMessage(`{}`))
	require.NoError(t, p.Close())

	assert.True(t, w.closed)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "list:7", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	assert.Equal(t, "list:8", env.Room)
	assert.Equal(t, types.EventVotingUpdated, env.Name)
	assert.JSONEq(t, `{"listId":8}`, string(env.Payload))
	assert.False(t, env.At.IsZero())
}

func TestPublisherWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newPublisher(zerolog.Nop(), w)

	p.Publish("list:7", types.EventMessageNew, json.RawMessage(`{}`))
	assert.NoError(t, p.Close(), "write failures are logged, not returned")
	assert.Empty(t, w.msgs)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) ItemAdded(item types.Item)      { m.Called(item) }
func (m *mockNotifier) ItemUpdated(item types.Item)    { m.Called(item) }
func (m *mockNotifier) ItemDeleted(listId, itemId int) { m.Called(listId, itemId) }
func (m *mockNotifier) ListUpdated(list types.List)    { m.Called(list) }
func (m *mockNotifier) UserJoined(ctx context.Context, listId, userId int) error {
	return m.Called(listId, userId).Error(0)
}
func (m *mockNotifier) UserRemoved(listId int, user types.User) { m.Called(listId, user) }
func (m *mockNotifier) UserRoleChanged(ctx context.Context, listId, userId int) error {
	return m.Called(listId, userId).Error(0)
}
func (m *mockNotifier) InvitationRejected(inviterId int, ev types.InvitationRejectedEvent) {
	m.Called(inviterId, ev)
}

func envelope(t *testing.T, name string, userId int, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(Envelope{Name: name, UserId: userId, Payload: raw})
	require.NoError(t, err)
	return b
}

func TestConsumerHandle(t *testing.T) {
	item := types.Item{Id: 3, ListId: 7, Name: "Bread"}
	list := types.List{Id: 7, Name: "Weekend"}
	bob := types.User{Id: 2, Username: "bob"}
	rejected := types.InvitationRejectedEvent{ListId: 7, ListName: "Weekend", RejectedBy: "carol"}

	tcases := []struct {
		name    string
		value   func(t *testing.T) []byte
		expect  func(n *mockNotifier)
		wantErr bool
	}{
		{
			name:   "item added",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventItemAdded, 0, types.ItemEvent{ListId: 7, Item: &item}) },
			expect: func(n *mockNotifier) { n.On("ItemAdded", item).Return() },
		},
		{
			name:   "item updated",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventItemUpdated, 0, types.ItemEvent{ListId: 7, Item: &item}) },
			expect: func(n *mockNotifier) { n.On("ItemUpdated", item).Return() },
		},
		{
			name:   "item deleted",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventItemDeleted, 0, types.ItemEvent{ListId: 7, ItemId: 3}) },
			expect: func(n *mockNotifier) { n.On("ItemDeleted", 7, 3).Return() },
		},
		{
			name:   "list updated",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventListUpdated, 0, types.ListEvent{ListId: 7, List: &list}) },
			expect: func(n *mockNotifier) { n.On("ListUpdated", list).Return() },
		},
		{
			name:   "user joined",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventUserJoined, 0, types.MemberEvent{ListId: 7, User: bob}) },
			expect: func(n *mockNotifier) { n.On("UserJoined", 7, 2).Return(nil) },
		},
		{
			name:    "user joined lookup fails",
			value:   func(t *testing.T) []byte { return envelope(t, types.EventUserJoined, 0, types.MemberEvent{ListId: 7, User: bob}) },
			expect:  func(n *mockNotifier) { n.On("UserJoined", 7, 2).Return(types.ErrNotFound) },
			wantErr: true,
		},
		{
			name:   "user role changed",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventUserRoleChanged, 0, types.MemberEvent{ListId: 7, User: bob}) },
			expect: func(n *mockNotifier) { n.On("UserRoleChanged", 7, 2).Return(nil) },
		},
		{
			name:   "user removed",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventUserRemoved, 0, types.MemberEvent{ListId: 7, User: bob}) },
			expect: func(n *mockNotifier) { n.On("UserRemoved", 7, bob).Return() },
		},
		{
			name:   "invitation rejected",
			value:  func(t *testing.T) []byte { return envelope(t, types.EventInvitationRejected, 1, rejected) },
			expect: func(n *mockNotifier) { n.On("InvitationRejected", 1, rejected).Return() },
		},
		{
			name:    "invitation rejected without inviter",
			value:   func(t *testing.T) []byte { return envelope(t, types.EventInvitationRejected, 0, rejected) },
			wantErr: true,
		},
		{
			name:    "item added without item",
			value:   func(t *testing.T) []byte { return envelope(t, types.EventItemAdded, 0, types.ItemEvent{ListId: 7}) },
			wantErr: true,
		},
		{
			name:    "unknown event",
			value:   func(t *testing.T) []byte { return envelope(t, "list:archived", 0, struct{}{}) },
			wantErr: true,
		},
		{
			name:    "garbage",
			value:   func(t *testing.T) []byte { return []byte("{") },
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			n := &mockNotifier{}
			defer n.AssertExpectations(t)
			if tc.expect != nil {
				tc.expect(n)
			}

			c := newConsumer(testutil.TestLogger(t), nil, n)
			err := c.handle(context.Background(), tc.value(t))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumerRun(t *testing.T) {
	n := &mockNotifier{}
	n.On("ItemDeleted", 7, 3).Return()

	r := &fakeReader{msgs: make(chan kafka.Message, 2)}
	r.msgs <- kafka.Message{Offset: 10, Value: []byte("not json")}
	r.msgs <- kafka.Message{Offset: 11, Value: envelope(t, types.EventItemDeleted, 0, types.ItemEvent{ListId: 7, ItemId: 3})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- newConsumer(zerolog.Nop(), r, n).Run(ctx) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 2
	}, time.Second, 10*time.Millisecond, "bad records are committed too")

	cancel()
	assert.NoError(t, <-done)
	assert.True(t, r.closed)
	assert.Equal(t, []int64{10, 11}, r.committed)
	n.AssertExpectations(t)
}
