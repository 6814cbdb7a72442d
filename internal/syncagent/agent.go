// Package syncagent is the client side of the realtime channel. An Agent
// keeps one connection alive, re-joins the user's list rooms after every
// reconnect and hands incoming events to State and UnreadTracker.
package syncagent

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/rs/zerolog"
)

const (
	dialTimeout     = 10 * time.Second
	noticeQueueSize = 16
	inboxSize       = 16
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Backoff
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return "unknown"
}

// Notice is a user facing change in connectivity.
type Notice int

const (
	NoticeConnected Notice = iota + 1
	// NoticeRestored follows NoticeConnected when a dropped connection came
	// back after at least one failed attempt.
	NoticeRestored
	// NoticeLost means the retry budget is spent. Status().Lost stays set
	// until the next successful connect.
	NoticeLost
	NoticeAuthFailed
)

func (n Notice) String() string {
	switch n {
	case NoticeConnected:
		return "connected"
	case NoticeRestored:
		return "connection restored"
	case NoticeLost:
		return "realtime connection lost"
	case NoticeAuthFailed:
		return "authentication failed"
	}
	return "unknown"
}

type Status struct {
	State ConnState
	// Failed counts consecutive failed attempts.
	Failed int
	Lost   bool
}

// ListSource returns the lists the user participates in.
type ListSource interface {
	ListIds(ctx context.Context) ([]int, error)
}

type EventHandler interface {
	HandleEvent(ev server.Event)
}

// Syncer is an EventHandler whose state is rebuilt from a pull after every
// connect. BeginSync runs before the rooms are joined, so it sees every
// event that can race the pull.
type Syncer interface {
	BeginSync()
}

type (
	connectMsg  struct{}
	closeMsg    struct{}
	openListMsg struct{ listId int }
	dialResult  struct {
		epoch   uint64
		conn    Conn
		listIds []int
		err     error
	}
	connLost struct {
		conn Conn
		err  error
	}
	retryTick struct{ epoch uint64 }
)

// Agent owns the connection state machine. All transitions happen on the
// goroutine running Run; the exported methods only post messages to it.
type Agent struct {
	log      zerolog.Logger
	dialer   Dialer
	lists    ListSource
	retry    Retryer
	handlers []EventHandler

	inbox   chan any
	notices chan Notice
	done    chan struct{}
	status  atomic.Value

	// owned by Run
	state      ConnState
	epoch      uint64
	failed     int
	lost       bool
	wasUp      bool
	conn       Conn
	cancelDial context.CancelFunc
	timer      *time.Timer
	openList   int
	nextId     int
}

type Option func(*Agent)

func WithRetryer(r Retryer) Option {
	return func(a *Agent) { a.retry = r }
}

// WithHandlers registers handlers for incoming events. They are called in
// arrival order from the connection's read goroutine. Handlers that also
// implement Syncer are told when a new connection is about to join.
func WithHandlers(h ...EventHandler) Option {
	return func(a *Agent) { a.handlers = append(a.handlers, h...) }
}

func New(logger zerolog.Logger, dialer Dialer, lists ListSource, opts ...Option) *Agent {
	a := &Agent{
		log:     logger.With().Str("component", "syncagent").Logger(),
		dialer:  dialer,
		lists:   lists,
		retry:   DefaultRetryer(),
		inbox:   make(chan any, inboxSize),
		notices: make(chan Notice, noticeQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.status.Store(Status{State: Disconnected})

	return a
}

func (a *Agent) Notices() <-chan Notice {
	return a.notices
}

func (a *Agent) Status() Status {
	return a.status.Load().(Status)
}

// Connect starts a new session, abandoning any attempt or connection in
// progress.
func (a *Agent) Connect() { a.post(connectMsg{}) }

// Close disconnects on purpose. No reconnect follows.
func (a *Agent) Close() { a.post(closeMsg{}) }

// OpenList marks listId as the list shown in the UI. Its room is joined now
// if connected and on every reconnect.
func (a *Agent) OpenList(listId int) { a.post(openListMsg{listId: listId}) }

func (a *Agent) post(m any) {
	select {
	case a.inbox <- m:
	case <-a.done:
	}
}

// Run drives the agent until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			a.setState(Disconnected)
			return
		case m := <-a.inbox:
			a.handle(ctx, m)
		}
	}
}

func (a *Agent) handle(ctx context.Context, m any) {
	switch m := m.(type) {
	case connectMsg:
		a.epoch++
		a.teardown()
		a.failed = 0
		a.wasUp = false
		a.dial(ctx)
	case closeMsg:
		a.epoch++
		a.teardown()
		a.failed = 0
		a.setState(Disconnected)
	case openListMsg:
		a.openList = m.listId
		if a.state == Connected {
			a.send(&server.ClientMessage{Join: &server.Join{ListId: m.listId}})
		}
	case dialResult:
		if m.epoch != a.epoch || a.state != Connecting {
			if m.conn != nil {
				m.conn.Close()
			}
			return
		}
		a.cancelDial = nil
		if m.err != nil {
			a.dialFailed(m.err)
			return
		}
		a.connected(m.conn, m.listIds)
	case connLost:
		if m.conn != a.conn {
			return
		}
		a.dropConn(m.err)
	case retryTick:
		if m.epoch != a.epoch || a.state != Backoff {
			return
		}
		a.timer = nil
		a.dial(ctx)
	}
}

func (a *Agent) setState(s ConnState) {
	a.state = s
	a.status.Store(Status{State: s, Failed: a.failed, Lost: a.lost})
}

func (a *Agent) notify(n Notice) {
	select {
	case a.notices <- n:
	default:
		a.log.Warn().Stringer("notice", n).Msg("dropped notice")
	}
}

func (a *Agent) teardown() {
	if a.cancelDial != nil {
		a.cancelDial()
		a.cancelDial = nil
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// dial authenticates and fetches the list ids off the loop goroutine.
func (a *Agent) dial(ctx context.Context) {
	a.setState(Connecting)

	epoch := a.epoch
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	a.cancelDial = cancel

	go func() {
		defer cancel()

		conn, err := a.dialer.Dial(dctx)
		var ids []int
		if err == nil {
			if ids, err = a.lists.ListIds(dctx); err != nil {
				conn.Close()
				conn = nil
			}
		}
		a.post(dialResult{epoch: epoch, conn: conn, listIds: ids, err: err})
	}()
}

func (a *Agent) dialFailed(err error) {
	if errors.Is(err, ErrAuthFailed) {
		a.log.Error().Err(err).Msg("authentication failed, not retrying")
		a.setState(Disconnected)
		a.notify(NoticeAuthFailed)
		return
	}

	a.failed++
	a.log.Warn().Err(err).Int("failed", a.failed).Msg("connection attempt failed")
	a.scheduleRetry()
}

func (a *Agent) scheduleRetry() {
	delay, ok := a.retry.Next(a.failed)
	if !ok {
		a.lost = true
		a.setState(Disconnected)
		a.notify(NoticeLost)
		return
	}

	a.setState(Backoff)
	epoch := a.epoch
	a.timer = time.AfterFunc(delay, func() { a.post(retryTick{epoch: epoch}) })
}

// connected joins every list room, then the open list, which the server
// treats as a no-op when it was already in the batch.
func (a *Agent) connected(conn Conn, listIds []int) {
	restored := a.wasUp && a.failed > 0

	a.conn = conn
	a.failed = 0
	a.lost = false
	a.wasUp = true
	for _, h := range a.handlers {
		if sy, ok := h.(Syncer); ok {
			sy.BeginSync()
		}
	}
	go a.readLoop(conn)

	if len(listIds) > 0 && !a.send(&server.ClientMessage{JoinMany: &server.JoinMany{ListIds: listIds}}) {
		return
	}
	if a.openList != 0 && !a.send(&server.ClientMessage{Join: &server.Join{ListId: a.openList}}) {
		return
	}

	a.setState(Connected)
	a.log.Info().Ints("lists", listIds).Int("open", a.openList).Msg("connected")
	a.notify(NoticeConnected)
	if restored {
		a.notify(NoticeRestored)
	}
}

func (a *Agent) dropConn(err error) {
	a.log.Warn().Err(err).Msg("connection lost")
	a.conn.Close()
	a.conn = nil
	a.failed = 0
	a.scheduleRetry()
}

// send writes msg on the current connection. A failed write is treated as
// a lost connection.
func (a *Agent) send(msg *server.ClientMessage) bool {
	a.nextId++
	msg.Id = a.nextId
	msg.Timestamp = time.Now().UTC()

	if err := a.conn.WriteJSON(msg); err != nil {
		a.dropConn(err)
		return false
	}

	return true
}

func (a *Agent) readLoop(conn Conn) {
	for {
		var msg server.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			a.post(connLost{conn: conn, err: err})
			return
		}

		switch {
		case msg.Event != nil:
			for _, h := range a.handlers {
				h.HandleEvent(*msg.Event)
			}
		case msg.Response != nil && msg.Response.ResponseCode != http.StatusOK:
			a.log.Warn().Int("id", msg.Id).Int("code", msg.Response.ResponseCode).
				Str("error", msg.Response.Error).Msg("request rejected")
		}
	}
}
