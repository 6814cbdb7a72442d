package syncagent

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
)

// Subscription is a handle on one UnreadTracker callback.
type Subscription struct {
	t      *UnreadTracker
	scope  types.MessageScope
	fn     func(count int)
	active atomic.Bool
}

// Unsubscribe stops further callbacks. It is safe to call more than once
// and from within the callback.
func (s *Subscription) Unsubscribe() {
	if !s.active.Swap(false) {
		return
	}

	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.subs[s.scope], s)
	if len(s.t.subs[s.scope]) == 0 {
		delete(s.t.subs, s.scope)
	}
}

// maxJournal bounds the events kept while a baseline pull is outstanding.
const maxJournal = 4096

// UnreadTracker keeps the ids of the local user's unread messages per scope
// and pushes count changes to subscribers. Ids come from a pulled baseline
// (Reset) and move with message events.
type UnreadTracker struct {
	log    zerolog.Logger
	userId int

	mu     sync.Mutex
	unread map[types.MessageScope]map[int]struct{}
	subs   map[types.MessageScope]map[*Subscription]struct{}

	// events seen since BeginSync, replayed over the next Reset
	syncing bool
	journal []server.Event
}

func NewUnreadTracker(logger zerolog.Logger, userId int) *UnreadTracker {
	return &UnreadTracker{
		log:    logger.With().Str("component", "unread").Logger(),
		userId: userId,
		unread: make(map[types.MessageScope]map[int]struct{}),
		subs:   make(map[types.MessageScope]map[*Subscription]struct{}),
	}
}

func (t *UnreadTracker) Count(scope types.MessageScope) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.unread[scope])
}

// Subscribe calls fn with the current count of scope and again on every
// change until the subscription is cancelled.
func (t *UnreadTracker) Subscribe(scope types.MessageScope, fn func(count int)) *Subscription {
	s := &Subscription{t: t, scope: scope, fn: fn}
	s.active.Store(true)

	t.mu.Lock()
	if t.subs[scope] == nil {
		t.subs[scope] = make(map[*Subscription]struct{})
	}
	t.subs[scope][s] = struct{}{}
	n := len(t.unread[scope])
	t.mu.Unlock()

	fn(n)
	return s
}

type pending struct {
	subs  []*Subscription
	count int
}

// snapshot records the count of every subscribed scope. Callers hold mu.
func (t *UnreadTracker) snapshot() map[types.MessageScope]int {
	before := make(map[types.MessageScope]int, len(t.subs))
	for scope := range t.subs {
		before[scope] = len(t.unread[scope])
	}
	return before
}

// changed collects the subscribers of every scope whose count moved since
// before. Callers hold mu.
func (t *UnreadTracker) changed(before map[types.MessageScope]int) []pending {
	var out []pending
	for scope, n := range before {
		after := len(t.unread[scope])
		if after == n || len(t.subs[scope]) == 0 {
			continue
		}

		p := pending{count: after}
		for s := range t.subs[scope] {
			p.subs = append(p.subs, s)
		}
		out = append(out, p)
	}
	return out
}

// fire runs callbacks without holding mu so they may call back into t.
func fire(ps []pending) {
	for _, p := range ps {
		for _, s := range p.subs {
			if s.active.Load() {
				s.fn(p.count)
			}
		}
	}
}

// BeginSync starts recording events for the next Reset. Call it before the
// rooms are joined so nothing that races the baseline pull is lost.
func (t *UnreadTracker) BeginSync() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncing = true
	t.journal = nil
}

// Reset replaces every scope with a freshly pulled baseline of unread
// message ids, then replays the events recorded since BeginSync. Replay is
// idempotent, so events already reflected in the baseline do no harm.
func (t *UnreadTracker) Reset(ids map[types.MessageScope][]int) {
	t.mu.Lock()
	before := t.snapshot()

	t.unread = make(map[types.MessageScope]map[int]struct{}, len(ids))
	for scope, msgIds := range ids {
		for _, id := range msgIds {
			t.add(scope, id)
		}
	}

	for _, ev := range t.journal {
		if err := t.apply(ev); err != nil {
			t.log.Warn().Err(err).Str("event", ev.Name).Msg("ignored malformed event")
		}
	}
	t.syncing = false
	t.journal = nil

	ps := t.changed(before)
	t.mu.Unlock()

	fire(ps)
}

func (t *UnreadTracker) HandleEvent(ev server.Event) {
	t.mu.Lock()
	if t.syncing {
		if len(t.journal) < maxJournal {
			t.journal = append(t.journal, ev)
		} else {
			t.log.Warn().Msg("baseline pull outstanding too long, journal full")
			t.syncing = false
			t.journal = nil
		}
	}

	before := t.snapshot()
	if err := t.apply(ev); err != nil {
		t.log.Warn().Err(err).Str("event", ev.Name).Msg("ignored malformed event")
	}
	ps := t.changed(before)
	t.mu.Unlock()

	fire(ps)
}

func (t *UnreadTracker) add(scope types.MessageScope, id int) {
	if t.unread[scope] == nil {
		t.unread[scope] = make(map[int]struct{})
	}
	t.unread[scope][id] = struct{}{}
}

func (t *UnreadTracker) remove(scope types.MessageScope, id int) {
	delete(t.unread[scope], id)
	if len(t.unread[scope]) == 0 {
		delete(t.unread, scope)
	}
}

// apply updates the id sets for one event. Callers hold mu.
func (t *UnreadTracker) apply(ev server.Event) error {
	switch ev.Name {
	case types.EventMessageNew:
		var p types.MessageNewEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Message != nil && p.Message.IsUnreadFor(t.userId) {
			t.add(scopeOf(p.ListId, p.ItemId), p.Message.Id)
		}
	case types.EventMessageRead:
		var p types.MessageReadEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.UserId != t.userId {
			return nil
		}
		scope := scopeOf(p.ListId, p.ItemId)
		if p.MessageId != nil {
			t.remove(scope, *p.MessageId)
		} else {
			delete(t.unread, scope)
		}
	case types.EventMessageDeleted:
		var p types.MessageDeletedEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		// a message hidden for one user still counts until it is read
		if p.UserId == nil {
			t.remove(scopeOf(p.ListId, p.ItemId), p.MessageId)
		}
	case types.EventItemDeleted:
		var p types.ItemEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		delete(t.unread, types.ItemScope(p.ItemId))
	}

	return nil
}
