package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-listsync/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join     *Join     `json:"join,omitempty"`
	JoinMany *JoinMany `json:"join_many,omitempty"`
	Leave    *Leave    `json:"leave,omitempty"`
	Read     *Read     `json:"read,omitempty"`
}

type Join struct {
	ListId int `json:"list_id"`
}

type JoinMany struct {
	ListIds []int `json:"list_ids"`
}

type Leave struct {
	ListId int `json:"list_id"`
}

type Read struct {
	MessageId int `json:"message_id"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Event is a domain event fanned out to a room or to one user's connections.
type Event struct {
	Name    string          `json:"name"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func newEvent(room, name string, payload any) (*ServerMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: &Event{
			Name:    name,
			Room:    room,
			Payload: raw,
		},
	}, nil
}

func response(id, code int, errMsg string, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func ErrForbidden(id int) *ServerMessage {
	return response(id, http.StatusForbidden, "forbidden", nil)
}

func ErrNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "not found", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	if id < 0 {
		id = 0
	}
	return response(id, http.StatusBadRequest, "invalid message format", nil)
}

// errResponse maps a domain error onto a response for request id.
func errResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, types.ErrForbidden):
		return ErrForbidden(id)
	case errors.Is(err, types.ErrNotFound):
		return ErrNotFound(id)
	default:
		return ErrInternalError(id)
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
