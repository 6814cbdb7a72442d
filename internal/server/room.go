package server

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var errRoomClosed = errors.New("room closed")

// Room is the set of connections subscribed to one list. All membership
// changes and fan-out for a room are serialized by clientLock.
type Room struct {
	key        string
	log        zerolog.Logger
	clientLock sync.Mutex
	clients    map[*Client]struct{}
	userMap    map[int]map[*Client]struct{}
	// closed is set once the hub has dropped the room from its index
	closed bool
}

func newRoom(key string, log zerolog.Logger) *Room {
	return &Room{
		key:     key,
		log:     log.With().Str("room", key).Logger(),
		clients: make(map[*Client]struct{}),
		userMap: make(map[int]map[*Client]struct{}),
	}
}

// addClient adds c and reports whether it was not already a member.
func (r *Room) addClient(c *Client) (bool, error) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if r.closed {
		return false, errRoomClosed
	}
	if _, ok := r.clients[c]; ok {
		return false, nil
	}

	r.clients[c] = struct{}{}
	if r.userMap[c.userId] == nil {
		r.userMap[c.userId] = make(map[*Client]struct{})
	}
	r.userMap[c.userId][c] = struct{}{}

	c.addRoom(r)
	r.log.Debug().Str("conn_id", c.id).Int("members", len(r.clients)).Msg("client joined room")

	return true, nil
}

// removeClient removes c and reports whether it was a member and whether
// the room is now empty.
func (r *Room) removeClient(c *Client) (removed bool, empty bool) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false, len(r.clients) == 0
	}

	delete(r.clients, c)
	c.delRoom(r.key)

	if userClients, ok := r.userMap[c.userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.userId)
		}
	}

	r.log.Debug().Str("conn_id", c.id).Int("members", len(r.clients)).Msg("client left room")

	return true, len(r.clients) == 0
}

// removeUser removes every connection of userId and reports the number
// removed and whether the room is now empty.
func (r *Room) removeUser(userId int) (removed int, empty bool) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	for c := range r.userMap[userId] {
		delete(r.clients, c)
		c.delRoom(r.key)
		removed++
	}
	delete(r.userMap, userId)

	if removed > 0 {
		r.log.Debug().Int("user_id", userId).Int("conns", removed).Int("members", len(r.clients)).Msg("user evicted from room")
	}

	return removed, len(r.clients) == 0
}

// broadcast queues msg on every member and returns how many accepted it.
// Members with a full send buffer miss the event.
func (r *Room) broadcast(msg *ServerMessage) int {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	delivered := 0
	for client := range r.clients {
		if client.queueMessage(msg) {
			delivered++
		} else {
			r.log.Warn().Str("conn_id", client.id).Str("event", msg.Event.Name).Msg("dropped event, send buffer full")
		}
	}

	return delivered
}

func (r *Room) size() int {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	return len(r.clients)
}
