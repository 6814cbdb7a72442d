package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	requestTimeout = 5 * time.Second
)

// ReadMarker marks a single message read on behalf of a connection.
type ReadMarker interface {
	MarkMessageRead(ctx context.Context, userId, messageId int) error
}

// Client is one authenticated websocket connection.
type Client struct {
	id        string
	conn      *websocket.Conn
	hub       *Hub
	reads     ReadMarker
	log       zerolog.Logger
	userId    int
	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

func NewClient(userId int, conn *websocket.Conn, hub *Hub, reads ReadMarker, l zerolog.Logger) *Client {
	id := shortid.MustGenerate()
	return &Client{
		id:     id,
		conn:   conn,
		hub:    hub,
		reads:  reads,
		log:    l.With().Str("conn_id", id).Int("user_id", userId).Logger(),
		userId: userId,
		send:   make(chan *ServerMessage, sendBufferSize),
		rooms:  make(map[string]*Room),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Client) Id() string  { return c.id }
func (c *Client) UserId() int { return c.userId }

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case msg.Join != nil:
		if err := c.hub.Join(ctx, c, msg.Join.ListId); err != nil {
			c.queueMessage(errResponse(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.JoinMany != nil:
		joined, rejected := c.hub.JoinMany(ctx, c, msg.JoinMany.ListIds)
		c.queueMessage(NoErrOK(msg.Id, map[string]any{
			"joined":   joined,
			"rejected": rejected,
		}))
	case msg.Leave != nil:
		c.hub.Leave(c, msg.Leave.ListId)
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.Read != nil:
		if c.reads == nil {
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			return
		}
		if err := c.reads.MarkMessageRead(ctx, c.userId, msg.Read.MessageId); err != nil {
			c.queueMessage(errResponse(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// queueMessage hands msg to the write pump without blocking. It returns
// false when the send buffer is full or the client has stopped.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.hub.Disconnect(c)
	c.stopClient()
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.key] = r
}

func (c *Client) delRoom(key string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, key)
}

func (c *Client) getRoom(key string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[key]
}

func (c *Client) roomList() []*Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}
