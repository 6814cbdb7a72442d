package api

import (
	"encoding/json"
	"net/http"

	"github.com/npezzotti/go-listsync/internal/types"
)

type CastVoteRequest struct {
	ItemId   int                 `json:"itemId"`
	VoteType types.VoteDirection `json:"voteType"`
}

func (s *App) castVote(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	tally, err := s.votes.CastVote(r.Context(), userId, req.ItemId, req.VoteType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, tally)
}

func (s *App) getVotes(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	itemId, ok := pathId(r, "itemId")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	v, err := s.votes.Get(r.Context(), userId, itemId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, v)
}
