package database

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-listsync/internal/types"
)

// MemoryChatRepository is a ChatRepository held in process memory. It backs
// tests and the "memory" DSN used for local development.
type MemoryChatRepository struct {
	mu           sync.RWMutex
	nextId       int
	messages     map[int]*types.Message
	votes        map[[2]int]types.VoteDirection
	lists        map[int]types.List
	items        map[int]types.Item
	participants map[int]map[int]types.Participant
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		messages:     make(map[int]*types.Message),
		votes:        make(map[[2]int]types.VoteDirection),
		lists:        make(map[int]types.List),
		items:        make(map[int]types.Item),
		participants: make(map[int]map[int]types.Participant),
	}
}

func (r *MemoryChatRepository) AddList(l types.List, participants ...types.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lists[l.Id] = l
	if r.participants[l.Id] == nil {
		r.participants[l.Id] = make(map[int]types.Participant)
	}
	for _, p := range participants {
		r.participants[l.Id][p.Id] = p
	}
}

func (r *MemoryChatRepository) AddItem(it types.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[it.Id] = it
}

func (r *MemoryChatRepository) RemoveParticipant(listId, userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants[listId], userId)
}

func cloneMessage(m *types.Message) types.Message {
	c := *m
	c.ReadBy = slices.Clone(m.ReadBy)
	c.DeleteBy = slices.Clone(m.DeleteBy)
	return c
}

func inScope(m *types.Message, scope types.MessageScope) bool {
	if scope.IsItem() {
		return m.ItemId != nil && *m.ItemId == scope.Id()
	}
	return m.ItemId == nil && m.ListId == scope.Id()
}

func (r *MemoryChatRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryChatRepository) CreateMessage(_ context.Context, params CreateMessageParams) (types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextId++
	m := &types.Message{
		Id:        r.nextId,
		ListId:    params.ListId,
		ItemId:    params.ItemId,
		SenderId:  params.SenderId,
		Content:   params.Content,
		ReplyId:   params.ReplyId,
		ReadBy:    []int{params.SenderId},
		DeleteBy:  []int{},
		CreatedAt: time.Now().UTC(),
	}
	r.messages[m.Id] = m

	return cloneMessage(m), nil
}

func (r *MemoryChatRepository) GetMessage(_ context.Context, id int) (types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return types.Message{}, types.ErrNotFound
	}

	return cloneMessage(m), nil
}

func (r *MemoryChatRepository) ListMessages(_ context.Context, scope types.MessageScope) ([]types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Message, 0)
	for _, m := range r.messages {
		if inScope(m, scope) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })

	return out, nil
}

func (r *MemoryChatRepository) AddReader(_ context.Context, messageId, userId int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return false, types.ErrNotFound
	}
	if m.IsReadBy(userId) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, userId)

	return true, nil
}

func (r *MemoryChatRepository) MarkScopeRead(_ context.Context, scope types.MessageScope, userId int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, m := range r.messages {
		if inScope(m, scope) && m.IsUnreadFor(userId) {
			m.ReadBy = append(m.ReadBy, userId)
			changed++
		}
	}

	return changed, nil
}

func (r *MemoryChatRepository) AddDeleter(_ context.Context, messageId, userId int) (types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return types.Message{}, types.ErrNotFound
	}
	if !m.IsDeletedFor(userId) {
		m.DeleteBy = append(m.DeleteBy, userId)
	}

	return cloneMessage(m), nil
}

func (r *MemoryChatRepository) DeleteMessage(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[id]; !ok {
		return types.ErrNotFound
	}
	delete(r.messages, id)

	for _, m := range r.messages {
		if m.ReplyId != nil && *m.ReplyId == id {
			m.ReplyId = nil
		}
	}

	return nil
}

func (r *MemoryChatRepository) UnreadMessageIds(_ context.Context, listId, userId int) (map[types.MessageScope][]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make(map[types.MessageScope][]int)
	for _, m := range r.messages {
		if m.ListId == listId && m.IsUnreadFor(userId) {
			ids[m.Scope()] = append(ids[m.Scope()], m.Id)
		}
	}
	for _, s := range ids {
		slices.Sort(s)
	}

	return ids, nil
}

func (r *MemoryChatRepository) GetVote(_ context.Context, userId, itemId int) (types.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dir, ok := r.votes[[2]int{userId, itemId}]
	if !ok {
		return types.Vote{}, types.ErrNotFound
	}

	return types.Vote{UserId: userId, ItemId: itemId, Direction: dir}, nil
}

func (r *MemoryChatRepository) UpsertVote(_ context.Context, vote types.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.votes[[2]int{vote.UserId, vote.ItemId}] = vote.Direction
	return nil
}

func (r *MemoryChatRepository) CountVotes(_ context.Context, itemId int) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var up, down int
	for k, dir := range r.votes {
		if k[1] != itemId {
			continue
		}
		if dir == types.VoteUp {
			up++
		} else {
			down++
		}
	}

	return up, down, nil
}

func (r *MemoryChatRepository) GetList(_ context.Context, listId int) (types.List, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.lists[listId]
	if !ok {
		return types.List{}, types.ErrNotFound
	}

	return l, nil
}

func (r *MemoryChatRepository) GetItem(_ context.Context, itemId int) (types.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it, ok := r.items[itemId]
	if !ok {
		return types.Item{}, types.ErrNotFound
	}

	return it, nil
}

func (r *MemoryChatRepository) ListItemIds(_ context.Context, listId int) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0)
	for _, it := range r.items {
		if it.ListId == listId {
			ids = append(ids, it.Id)
		}
	}
	sort.Ints(ids)

	return ids, nil
}

func (r *MemoryChatRepository) ListParticipantIds(_ context.Context, listId int) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.participants[listId]))
	for id := range r.participants[listId] {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids, nil
}

func (r *MemoryChatRepository) GetParticipant(_ context.Context, listId, userId int) (types.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[listId][userId]
	if !ok {
		return types.Participant{}, types.ErrNotFound
	}

	return p, nil
}

func (r *MemoryChatRepository) ListUserListIds(_ context.Context, userId int) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0)
	for listId, members := range r.participants {
		if _, ok := members[userId]; ok {
			ids = append(ids, listId)
		}
	}
	sort.Ints(ids)

	return ids, nil
}

// SeedDemo loads a small list with two participants for local runs.
func SeedDemo(r *MemoryChatRepository) {
	r.AddList(types.List{Id: 1, Name: "Groceries", CreatedBy: 1, ActivateVoting: true},
		types.Participant{User: types.User{Id: 1, Username: "alice"}, Role: types.RoleOwner},
		types.Participant{User: types.User{Id: 2, Username: "bob"}, Role: types.RoleEditor},
	)
	r.AddItem(types.Item{Id: 1, ListId: 1, Name: "Milk", Quantity: 2, AddedBy: 1})
	r.AddItem(types.Item{Id: 2, ListId: 1, Name: "Bread", Quantity: 1, AddedBy: 2})
}
