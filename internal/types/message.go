package types

import (
	"slices"
	"time"
)

// Message is a chat message. ListId is always the owning list; ItemId is
// set only for item-scoped messages.
type Message struct {
	Id        int       `json:"id"`
	ListId    int       `json:"listId"`
	ItemId    *int      `json:"itemId"`
	SenderId  int       `json:"senderId"`
	Content   string    `json:"content"`
	ReplyId   *int      `json:"replyId,omitempty"`
	ReadBy    []int     `json:"readBy"`
	DeleteBy  []int     `json:"deleteBy"`
	CreatedAt time.Time `json:"createdAt"`
	// Redacted is set on copies shown to a user who hid the message.
	Redacted bool `json:"redacted,omitempty"`
}

func (m *Message) Scope() MessageScope {
	if m.ItemId != nil {
		return ItemScope(*m.ItemId)
	}

	return ListScope(m.ListId)
}

func (m *Message) IsReadBy(userId int) bool {
	return slices.Contains(m.ReadBy, userId)
}

func (m *Message) IsDeletedFor(userId int) bool {
	return slices.Contains(m.DeleteBy, userId)
}

// IsUnreadFor reports whether the message counts towards userId's unread
// counter.
func (m *Message) IsUnreadFor(userId int) bool {
	return m.SenderId != userId && !m.IsReadBy(userId)
}

// ViewFor returns the message as userId may see it: content is withheld
// once userId has hidden it.
func (m *Message) ViewFor(userId int) Message {
	v := *m
	if m.IsDeletedFor(userId) {
		v.Content = ""
		v.ReplyId = nil
		v.Redacted = true
	}
	return v
}

// DeletedByAll reports whether every id in participants has hidden the
// message.
func (m *Message) DeletedByAll(participants []int) bool {
	for _, p := range participants {
		if !m.IsDeletedFor(p) {
			return false
		}
	}

	return true
}

type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

func (d VoteDirection) Valid() bool {
	return d == VoteUp || d == VoteDown
}

type Vote struct {
	UserId    int           `json:"userId"`
	ItemId    int           `json:"itemId"`
	Direction VoteDirection `json:"voteType"`
}

type VoteTally struct {
	ListId    int `json:"listId"`
	ItemId    int `json:"itemId"`
	CountUp   int `json:"countUp"`
	CountDown int `json:"countDown"`
}
