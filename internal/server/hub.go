package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/npezzotti/go-listsync/internal/stats"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	metricActiveConnections = "active_connections"
	metricActiveRooms       = "active_rooms"
)

// ParticipantLookup resolves a user's membership of a list.
type ParticipantLookup interface {
	GetParticipant(ctx context.Context, listId, userId int) (types.Participant, error)
}

// EventSink receives a copy of every room event after fan-out. Publish must
// not block.
type EventSink interface {
	Publish(room, name string, payload json.RawMessage)
}

// Hub owns room membership for every live connection and fans events out
// to rooms. The room index lock is held only to find, create or drop a
// room; membership and delivery are serialized per room.
type Hub struct {
	log     zerolog.Logger
	members ParticipantLookup
	stats   stats.StatsProvider

	roomsLock sync.RWMutex
	rooms     map[string]*Room

	clientsLock sync.RWMutex
	clients     map[*Client]struct{}
	userClients map[int]map[*Client]struct{}

	sinks []EventSink
}

func NewHub(logger zerolog.Logger, members ParticipantLookup, su stats.StatsProvider) *Hub {
	su.RegisterMetric(metricActiveConnections)
	su.RegisterMetric(metricActiveRooms)

	return &Hub{
		log:         logger.With().Str("component", "hub").Logger(),
		members:     members,
		stats:       su,
		rooms:       make(map[string]*Room),
		clients:     make(map[*Client]struct{}),
		userClients: make(map[int]map[*Client]struct{}),
	}
}

// AddSink registers s to receive every broadcast room event.
func (h *Hub) AddSink(s EventSink) {
	h.sinks = append(h.sinks, s)
}

// Register tracks c as a live connection of its user.
func (h *Hub) Register(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[c] = struct{}{}
	if h.userClients[c.userId] == nil {
		h.userClients[c.userId] = make(map[*Client]struct{})
	}
	h.userClients[c.userId][c] = struct{}{}
	h.stats.Incr(metricActiveConnections)

	c.log.Info().Msg("client connected")
}

func (h *Hub) unregister(c *Client) bool {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}

	delete(h.clients, c)
	if conns, ok := h.userClients[c.userId]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.userClients, c.userId)
		}
	}
	h.stats.Decr(metricActiveConnections)

	return true
}

func (h *Hub) getOrCreateRoom(listId int) *Room {
	key := types.RoomKey(listId)

	h.roomsLock.RLock()
	r, ok := h.rooms[key]
	h.roomsLock.RUnlock()
	if ok {
		return r
	}

	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	if r, ok := h.rooms[key]; ok {
		return r
	}

	r = newRoom(key, h.log)
	h.rooms[key] = r
	h.stats.Incr(metricActiveRooms)

	return r
}

// unloadIfEmpty drops r from the index when it has no members left.
func (h *Hub) unloadIfEmpty(r *Room) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if r.closed || len(r.clients) > 0 {
		return
	}

	r.closed = true
	if h.rooms[r.key] == r {
		delete(h.rooms, r.key)
		h.stats.Decr(metricActiveRooms)
	}
}

// Join adds c to the room of listId. Joining a room twice is a no-op. The
// user must participate in the list.
func (h *Hub) Join(ctx context.Context, c *Client, listId int) error {
	if listId <= 0 {
		return fmt.Errorf("list %d: %w", listId, types.ErrNotFound)
	}

	if _, err := h.members.GetParticipant(ctx, listId, c.userId); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("user %d in list %d: %w", c.userId, listId, types.ErrForbidden)
		}
		return fmt.Errorf("get participant: %w", err)
	}

	for {
		r := h.getOrCreateRoom(listId)
		_, err := r.addClient(c)
		if errors.Is(err, errRoomClosed) {
			// lost a race with unloadIfEmpty, retry on a fresh room
			continue
		}
		return err
	}
}

// JoinMany joins every list in listIds, returning the ids joined and the
// ids rejected.
func (h *Hub) JoinMany(ctx context.Context, c *Client, listIds []int) (joined []int, rejected []int) {
	joined, rejected = make([]int, 0, len(listIds)), make([]int, 0)
	for _, id := range listIds {
		if err := h.Join(ctx, c, id); err != nil {
			c.log.Debug().Err(err).Int("list_id", id).Msg("join rejected")
			rejected = append(rejected, id)
			continue
		}
		joined = append(joined, id)
	}

	return joined, rejected
}

// Leave removes c from the room of listId. Leaving a room never joined is
// a no-op.
func (h *Hub) Leave(c *Client, listId int) {
	r := c.getRoom(types.RoomKey(listId))
	if r == nil {
		return
	}

	if _, empty := r.removeClient(c); empty {
		h.unloadIfEmpty(r)
	}
}

// Evict removes every connection of userId from the room of listId and
// returns how many were removed. It is used once the user stops being a
// participant of the list.
func (h *Hub) Evict(listId, userId int) int {
	h.roomsLock.RLock()
	r, ok := h.rooms[types.RoomKey(listId)]
	h.roomsLock.RUnlock()
	if !ok {
		return 0
	}

	removed, empty := r.removeUser(userId)
	if removed > 0 && empty {
		h.unloadIfEmpty(r)
	}

	return removed
}

// Disconnect removes c from every room it joined and forgets it.
func (h *Hub) Disconnect(c *Client) {
	for _, r := range c.roomList() {
		if _, empty := r.removeClient(c); empty {
			h.unloadIfEmpty(r)
		}
	}

	if h.unregister(c) {
		c.log.Info().Msg("client disconnected")
	}
}

// Broadcast delivers an event to every current member of room. It never
// blocks on a slow member and a room without members is a no-op.
func (h *Hub) Broadcast(room, name string, payload any) {
	msg, err := newEvent(room, name, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}

	h.roomsLock.RLock()
	r := h.rooms[room]
	h.roomsLock.RUnlock()

	delivered := 0
	if r != nil {
		delivered = r.broadcast(msg)
	}
	h.log.Debug().Str("room", room).Str("event", name).Int("delivered", delivered).Msg("broadcast")

	for _, s := range h.sinks {
		s.Publish(room, name, msg.Event.Payload)
	}
}

// SendToUser delivers an event to every live connection of userId,
// regardless of room.
func (h *Hub) SendToUser(userId int, name string, payload any) {
	msg, err := newEvent("", name, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}

	h.clientsLock.RLock()
	conns := make([]*Client, 0, len(h.userClients[userId]))
	for c := range h.userClients[userId] {
		conns = append(conns, c)
	}
	h.clientsLock.RUnlock()

	for _, c := range conns {
		if !c.queueMessage(msg) {
			c.log.Warn().Str("event", name).Msg("dropped event, send buffer full")
		}
	}
}

// RoomSize returns the member count of room, zero when it does not exist.
func (h *Hub) RoomSize(room string) int {
	h.roomsLock.RLock()
	r := h.rooms[room]
	h.roomsLock.RUnlock()

	if r == nil {
		return 0
	}
	return r.size()
}

// Rooms returns the keys of every loaded room, sorted.
func (h *Hub) Rooms() []string {
	h.roomsLock.RLock()
	defer h.roomsLock.RUnlock()

	keys := make([]string, 0, len(h.rooms))
	for k := range h.rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Shutdown stops every connection and waits for their write pumps to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info().Msg("shutting down connections")

	h.clientsLock.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clientsLock.RUnlock()

	for _, c := range conns {
		c.stopClient()
	}

	for _, c := range conns {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
