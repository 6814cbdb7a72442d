package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	itemId := 42
	msg, err := newEvent("list:7", types.EventMessageDeleted, types.MessageDeletedEvent{
		ListId:    7,
		ItemId:    &itemId,
		MessageId: 3,
	})
	require.NoError(t, err)

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	expected := `{"timestamp":"` + msg.Timestamp.Format(time.RFC3339Nano) + `",` +
		`"event":{"name":"message:deleted","room":"list:7",` +
		`"payload":{"listId":7,"itemId":42,"messageId":3,"userId":null}}}`
	assert.JSONEq(t, expected, string(b))

	_, err = newEvent("list:7", "bad", func() {})
	assert.Error(t, err)
}

func TestErrResponse(t *testing.T) {
	tcases := []struct {
		err  error
		code int
	}{
		{err: fmt.Errorf("wrapped: %w", types.ErrForbidden), code: http.StatusForbidden},
		{err: types.ErrNotFound, code: http.StatusNotFound},
		{err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			msg := errResponse(9, tc.err)
			assert.Equal(t, 9, msg.Id)
			assert.Equal(t, tc.code, msg.Response.ResponseCode)
			assert.NotEmpty(t, msg.Response.Error)
		})
	}
}

func TestErrInvalidMessage(t *testing.T) {
	assert.Equal(t, 0, ErrInvalidMessage(-1).Id)
	assert.Equal(t, 4, ErrInvalidMessage(4).Id)
	assert.Equal(t, http.StatusBadRequest, ErrInvalidMessage(4).Response.ResponseCode)
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Equal(t, 0, now.Nanosecond()%int(time.Millisecond))
}
