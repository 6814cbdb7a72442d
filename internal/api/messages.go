package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/npezzotti/go-listsync/internal/types"
)

const idempotencyHeader = "Idempotency-Key"

type SendMessageRequest struct {
	Content string `json:"content"`
	ReplyId *int   `json:"replyId,omitempty"`
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}

type DeleteResponse struct {
	Result string `json:"result"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

func (s *App) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	scope, err := types.ParseScope(r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	key := r.Header.Get(idempotencyHeader)
	claimed := false
	if key != "" && s.idem != nil {
		first, err := s.idem.Claim(r.Context(), userId, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !first {
			errResp := NewConflictError("duplicate request")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		claimed = true
	}

	msg, err := s.chat.Send(r.Context(), userId, scope, req.Content, req.ReplyId)
	if err != nil {
		if claimed {
			// nothing was stored, so a retry with the same key must be accepted
			if relErr := s.idem.Release(context.WithoutCancel(r.Context()), userId, key); relErr != nil {
				s.log.Error().Err(relErr).Int("user_id", userId).Msg("release idempotency key")
			}
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *App) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	scope, err := types.ParseScope(r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msgs, err := s.chat.List(r.Context(), userId, scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *App) markRead(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	scope, err := types.ParseScope(r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.chat.MarkRead(r.Context(), userId, scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{Updated: n})
}

func (s *App) deleteForMe(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	messageId, ok := pathId(r, "id")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.chat.DeleteForMe(r.Context(), userId, messageId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, DeleteResponse{Result: res.String()})
}

func (s *App) deleteForEveryone(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	messageId, ok := pathId(r, "id")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.DeleteForEveryone(r.Context(), userId, messageId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *App) getUnread(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	counts, err := s.unread.ForUser(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, counts)
}

func (s *App) getListUnread(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	listId, ok := pathId(r, "listId")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counts, err := s.unread.ForList(r.Context(), userId, listId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, counts)
}

func (s *App) getItemUnread(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	itemId, ok := pathId(r, "itemId")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	n, err := s.unread.CountFor(r.Context(), userId, types.ItemScope(itemId))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, UnreadCountResponse{Count: n})
}
