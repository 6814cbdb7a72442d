package syncagent

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
)

// scopeOf rebuilds the scope carried by chat event payloads.
func scopeOf(listId int, itemId *int) types.MessageScope {
	if itemId != nil {
		return types.ItemScope(*itemId)
	}
	return types.ListScope(listId)
}

type listState struct {
	list     types.List
	items    map[int]types.Item
	members  map[int]types.Participant
	messages map[types.MessageScope]map[int]types.Message
	tallies  map[int]types.VoteTally
}

func newListState(listId int) *listState {
	return &listState{
		list:     types.List{Id: listId},
		items:    make(map[int]types.Item),
		members:  make(map[int]types.Participant),
		messages: make(map[types.MessageScope]map[int]types.Message),
		tallies:  make(map[int]types.VoteTally),
	}
}

// State is the local replica of the user's lists, kept current from room
// events. Every event applies idempotently, so duplicates from a reconnect
// race leave it unchanged.
type State struct {
	log    zerolog.Logger
	userId int

	mu          sync.RWMutex
	lists       map[int]*listState
	invitations []types.InvitationRejectedEvent
}

func NewState(logger zerolog.Logger, userId int) *State {
	return &State{
		log:    logger.With().Str("component", "state").Logger(),
		userId: userId,
		lists:  make(map[int]*listState),
	}
}

// list returns the state of listId, creating it. Callers hold mu.
func (s *State) list(listId int) *listState {
	ls, ok := s.lists[listId]
	if !ok {
		ls = newListState(listId)
		s.lists[listId] = ls
	}
	return ls
}

// LoadMessages replaces the cached messages of scope, typically with the
// result of a REST fetch.
func (s *State) LoadMessages(listId int, scope types.MessageScope, msgs []types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byId := make(map[int]types.Message, len(msgs))
	for _, m := range msgs {
		byId[m.Id] = m
	}
	s.list(listId).messages[scope] = byId
}

func (s *State) HandleEvent(ev server.Event) {
	if err := s.apply(ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Name).Msg("ignored malformed event")
	}
}

func (s *State) apply(ev server.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Name {
	case types.EventItemAdded, types.EventItemUpdated:
		var p types.ItemEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Item != nil {
			s.list(p.ListId).items[p.Item.Id] = *p.Item
		}
	case types.EventItemDeleted:
		var p types.ItemEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		ls := s.list(p.ListId)
		delete(ls.items, p.ItemId)
		delete(ls.messages, types.ItemScope(p.ItemId))
		delete(ls.tallies, p.ItemId)
	case types.EventListUpdated:
		var p types.ListEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.List != nil {
			s.list(p.ListId).list = *p.List
		}
	case types.EventUserJoined, types.EventUserRoleChanged:
		var p types.MemberEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		s.list(p.ListId).members[p.User.Id] = types.Participant{User: p.User, Role: p.Role}
	case types.EventUserRemoved:
		var p types.MemberEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.User.Id == s.userId {
			delete(s.lists, p.ListId)
			return nil
		}
		delete(s.list(p.ListId).members, p.User.Id)
	case types.EventMessageNew:
		var p types.MessageNewEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Message == nil {
			return nil
		}
		ls := s.list(p.ListId)
		scope := scopeOf(p.ListId, p.ItemId)
		if ls.messages[scope] == nil {
			ls.messages[scope] = make(map[int]types.Message)
		}
		if _, ok := ls.messages[scope][p.Message.Id]; !ok {
			ls.messages[scope][p.Message.Id] = *p.Message
		}
	case types.EventMessageRead:
		var p types.MessageReadEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		msgs := s.list(p.ListId).messages[scopeOf(p.ListId, p.ItemId)]
		for id, m := range msgs {
			if p.MessageId != nil && id != *p.MessageId {
				continue
			}
			if m.IsUnreadFor(p.UserId) {
				m.ReadBy = append(slices.Clone(m.ReadBy), p.UserId)
				msgs[id] = m
			}
		}
	case types.EventMessageDeleted:
		var p types.MessageDeletedEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		msgs := s.list(p.ListId).messages[scopeOf(p.ListId, p.ItemId)]
		m, ok := msgs[p.MessageId]
		switch {
		case !ok:
		case p.UserId == nil:
			delete(msgs, p.MessageId)
		case !m.IsDeletedFor(*p.UserId):
			// redacts only when the deleter is us; see Messages
			m.DeleteBy = append(slices.Clone(m.DeleteBy), *p.UserId)
			msgs[p.MessageId] = m
		}
	case types.EventVotingUpdated:
		var p types.VoteTally
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		s.list(p.ListId).tallies[p.ItemId] = p
	case types.EventInvitationRejected:
		var p types.InvitationRejectedEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		s.invitations = append(s.invitations, p)
	}

	return nil
}

func (s *State) List(listId int) (types.List, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls, ok := s.lists[listId]
	if !ok {
		return types.List{}, false
	}
	return ls.list, true
}

// Items returns the items of listId ordered by id.
func (s *State) Items(listId int) []types.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls, ok := s.lists[listId]
	if !ok {
		return nil
	}

	out := make([]types.Item, 0, len(ls.items))
	for _, it := range ls.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b types.Item) int { return a.Id - b.Id })
	return out
}

func (s *State) Members(listId int) []types.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls, ok := s.lists[listId]
	if !ok {
		return nil
	}

	out := make([]types.Participant, 0, len(ls.members))
	for _, p := range ls.members {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b types.Participant) int { return a.Id - b.Id })
	return out
}

// Messages returns the messages of scope in listId as this user sees them,
// oldest first.
func (s *State) Messages(listId int, scope types.MessageScope) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls, ok := s.lists[listId]
	if !ok {
		return nil
	}

	out := make([]types.Message, 0, len(ls.messages[scope]))
	for _, m := range ls.messages[scope] {
		out = append(out, m.ViewFor(s.userId))
	}
	slices.SortFunc(out, func(a, b types.Message) int { return a.Id - b.Id })
	return out
}

func (s *State) Tally(listId, itemId int) (types.VoteTally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls, ok := s.lists[listId]
	if !ok {
		return types.VoteTally{}, false
	}
	t, ok := ls.tallies[itemId]
	return t, ok
}

func (s *State) RejectedInvitations() []types.InvitationRejectedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.invitations)
}
