package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/stats"
	"github.com/npezzotti/go-listsync/internal/testutil"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func participant(id int, name string) types.Participant {
	return types.Participant{User: types.User{Id: id, Username: name}, Role: types.RoleEditor}
}

// newTestHub returns a hub backed by a memory repository where list 7 has
// users 1 and 2 and list 8 has user 1 only.
func newTestHub(t *testing.T) (*Hub, *database.MemoryChatRepository) {
	repo := database.NewMemoryChatRepository()
	repo.AddList(types.List{Id: 7, Name: "Groceries"}, participant(1, "alice"), participant(2, "bob"))
	repo.AddList(types.List{Id: 8, Name: "Hardware"}, participant(1, "alice"))

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()

	return NewHub(testutil.TestLogger(t), repo, su), repo
}

func newTestClient(t *testing.T, h *Hub, userId int) *Client {
	c := NewClient(userId, nil, h, nil, testutil.TestLogger(t))
	h.Register(c)
	return c
}

func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func nextEvent(t *testing.T, c *Client) *Event {
	t.Helper()
	msg := nextMessage(t, c)
	require.NotNil(t, msg.Event, "expected an event, got %+v", msg)
	return msg.Event
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("expected no message, got %+v", msg)
	default:
	}
}

func decodePayload[T any](t *testing.T, ev *Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Payload, &v))
	return v
}
