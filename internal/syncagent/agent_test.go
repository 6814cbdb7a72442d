package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errClosed = errors.New("use of closed connection")

type fakeConn struct {
	in        chan server.ServerMessage
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []server.ClientMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan server.ServerMessage, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case m := <-c.in:
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, v)
	case <-c.closed:
		return errClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m server.ClientMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// rooms returns the set of list ids this connection asked to join.
func (c *fakeConn) rooms() map[int]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := map[int]bool{}
	for _, m := range c.writes {
		if m.Join != nil {
			out[m.Join.ListId] = true
		}
		if m.JoinMany != nil {
			for _, id := range m.JoinMany.ListIds {
				out[id] = true
			}
		}
	}
	return out
}

type outcome func(ctx context.Context) (Conn, error)

func succeed(c *fakeConn) outcome {
	return func(context.Context) (Conn, error) { return c, nil }
}

func fail(err error) outcome {
	return func(context.Context) (Conn, error) { return nil, err }
}

// fakeDialer plays queued outcomes and then succeeds with fresh
// connections.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []outcome
	attempts int
	conns    []*fakeConn
}

func (d *fakeDialer) queue(o ...outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, o...)
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.attempts++
	var next outcome
	if len(d.outcomes) > 0 {
		next, d.outcomes = d.outcomes[0], d.outcomes[1:]
	}
	d.mu.Unlock()

	if next == nil {
		next = succeed(newFakeConn())
	}
	conn, err := next(ctx)
	if fc, ok := conn.(*fakeConn); ok && err == nil {
		d.mu.Lock()
		d.conns = append(d.conns, fc)
		d.mu.Unlock()
	}
	return conn, err
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

type staticLists []int

func (l staticLists) ListIds(context.Context) ([]int, error) { return l, nil }

func startAgent(t *testing.T, d *fakeDialer, opts ...Option) *Agent {
	opts = append([]Option{WithRetryer(FixedDelay{Delay: 10 * time.Millisecond, MaxAttempts: 3})}, opts...)
	a := New(zerolog.Nop(), d, staticLists{7, 8}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-a.done
	})
	return a
}

func waitNotice(t *testing.T, a *Agent, want Notice) {
	t.Helper()
	select {
	case got := <-a.Notices():
		require.Equal(t, want, got, "expected %s, got %s", want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func assertNoNotice(t *testing.T, a *Agent) {
	t.Helper()
	select {
	case n := <-a.Notices():
		t.Fatalf("unexpected notice %s", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAgentConnectJoinsRooms(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{}
	d.queue(succeed(first))

	a := startAgent(t, d)
	a.OpenList(12)
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	assert.Equal(t, map[int]bool{7: true, 8: true, 12: true}, first.rooms())
	assert.Equal(t, Connected, a.Status().State)

	a.OpenList(30)
	assert.Eventually(t, func() bool { return first.rooms()[30] }, time.Second, 5*time.Millisecond)
}

func TestAgentReconnectRestoresRooms(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.queue(succeed(first), fail(errors.New("connection refused")), succeed(second))

	a := startAgent(t, d)
	a.OpenList(12)
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	first.Close()

	waitNotice(t, a, NoticeConnected)
	waitNotice(t, a, NoticeRestored)
	assertNoNotice(t, a)

	assert.Equal(t, 3, d.attemptCount())
	assert.Equal(t, first.rooms(), second.rooms())
	assert.Equal(t, Status{State: Connected}, a.Status())
}

func TestAgentReconnectFirstTryIsNotRestored(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{}
	d.queue(succeed(first))

	a := startAgent(t, d)
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	first.Close()
	waitNotice(t, a, NoticeConnected)
	assertNoNotice(t, a)
}

func TestAgentAuthFailureStops(t *testing.T) {
	d := &fakeDialer{}
	d.queue(fail(ErrAuthFailed))

	a := startAgent(t, d)
	a.Connect()
	waitNotice(t, a, NoticeAuthFailed)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.attemptCount(), "auth failures are not retried")
	assert.Equal(t, Disconnected, a.Status().State)
}

func TestAgentGivesUpAfterMaxAttempts(t *testing.T) {
	first := newFakeConn()
	boom := errors.New("connection refused")
	d := &fakeDialer{}
	d.queue(succeed(first), fail(boom), fail(boom), fail(boom))

	a := startAgent(t, d)
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	first.Close()
	waitNotice(t, a, NoticeLost)

	st := a.Status()
	assert.True(t, st.Lost)
	assert.Equal(t, Disconnected, st.State)
	assert.Equal(t, 3, st.Failed)
	assert.Equal(t, 4, d.attemptCount())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, d.attemptCount(), "no attempts after giving up")
	assert.True(t, a.Status().Lost, "lost persists")

	a.Connect()
	waitNotice(t, a, NoticeConnected)
	assert.False(t, a.Status().Lost)
}

func TestAgentConnectSupersedesPendingAttempt(t *testing.T) {
	stale, fresh := newFakeConn(), newFakeConn()
	release := make(chan struct{})
	d := &fakeDialer{}
	d.queue(func(context.Context) (Conn, error) {
		<-release
		return stale, nil
	}, succeed(fresh))

	a := startAgent(t, d)
	a.Connect()
	require.Eventually(t, func() bool { return d.attemptCount() == 1 }, time.Second, time.Millisecond)

	a.Connect()
	waitNotice(t, a, NoticeConnected)

	close(release)
	assert.Eventually(t, stale.isClosed, time.Second, 5*time.Millisecond, "stale connection is discarded")
	assertNoNotice(t, a)
	assert.Empty(t, stale.rooms())
	assert.False(t, fresh.isClosed())
}

func TestAgentCloseDoesNotReconnect(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{}
	d.queue(succeed(first))

	a := startAgent(t, d)
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	a.Close()
	assert.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.attemptCount())
	assert.Equal(t, Disconnected, a.Status().State)
	assertNoNotice(t, a)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []server.Event
}

func (h *recordingHandler) HandleEvent(ev server.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, ev := range h.events {
		out = append(out, ev.Name)
	}
	return out
}

func TestAgentDispatchesEvents(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{}
	d.queue(succeed(first))
	h := &recordingHandler{}

	a := startAgent(t, d, WithHandlers(h))
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	first.in <- server.ServerMessage{Response: &server.Response{ResponseCode: 200}}
	first.in <- server.ServerMessage{Event: &server.Event{Name: types.EventItemAdded, Room: "list:7", Payload: json.RawMessage(`{}`)}}
	first.in <- server.ServerMessage{Event: &server.Event{Name: types.EventItemDeleted, Room: "list:7", Payload: json.RawMessage(`{}`)}}

	assert.Eventually(t, func() bool { return len(h.names()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{types.EventItemAdded, types.EventItemDeleted}, h.names())
}

// syncRecorder notes how many messages each connection had written when
// BeginSync ran.
type syncRecorder struct {
	recordingHandler
	conns []*fakeConn

	syncMu sync.Mutex
	seen   []int
}

func (r *syncRecorder) BeginSync() {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	c := r.conns[len(r.seen)]
	c.mu.Lock()
	r.seen = append(r.seen, len(c.writes))
	c.mu.Unlock()
}

func (r *syncRecorder) writesAtSync() []int {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	return append([]int(nil), r.seen...)
}

func TestAgentBeginsSyncBeforeJoining(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.queue(succeed(first), succeed(second))
	r := &syncRecorder{conns: []*fakeConn{first, second}}

	a := startAgent(t, d, WithHandlers(r))
	a.Connect()
	waitNotice(t, a, NoticeConnected)

	first.Close()
	waitNotice(t, a, NoticeConnected)

	assert.Equal(t, []int{0, 0}, r.writesAtSync(), "sync must start before any join is sent")
	assert.NotEmpty(t, second.rooms())
}

func TestFixedDelay(t *testing.T) {
	r := FixedDelay{Delay: time.Second, MaxAttempts: 2}

	d, ok := r.Next(0)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)

	_, ok = r.Next(1)
	assert.True(t, ok)

	_, ok = r.Next(2)
	assert.False(t, ok)

	assert.Equal(t, FixedDelay{Delay: 3 * time.Second, MaxAttempts: 5}, DefaultRetryer())
}
