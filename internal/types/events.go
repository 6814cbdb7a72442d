package types

const (
	EventItemAdded          = "item:added"
	EventItemUpdated        = "item:updated"
	EventItemDeleted        = "item:deleted"
	EventListUpdated        = "list:updated"
	EventUserJoined         = "user:joined"
	EventUserRemoved        = "user:removed"
	EventUserRoleChanged    = "user:role-changed"
	EventMessageNew         = "message:new"
	EventMessageRead        = "message:read"
	EventMessageDeleted     = "message:deleted"
	EventVotingUpdated      = "voting:updated"
	EventInvitationRejected = "invitation:rejected"
)

type ItemEvent struct {
	ListId int   `json:"listId"`
	Item   *Item `json:"item,omitempty"`
	ItemId int   `json:"itemId,omitempty"`
}

type ListEvent struct {
	ListId int   `json:"listId"`
	List   *List `json:"list"`
}

type MemberEvent struct {
	ListId int  `json:"listId"`
	User   User `json:"user"`
	Role   Role `json:"role,omitempty"`
}

type MessageNewEvent struct {
	ListId  int      `json:"listId"`
	ItemId  *int     `json:"itemId"`
	Message *Message `json:"message"`
}

// MessageReadEvent with a nil MessageId means UserId read the whole scope.
type MessageReadEvent struct {
	ListId    int  `json:"listId"`
	ItemId    *int `json:"itemId"`
	UserId    int  `json:"userId"`
	MessageId *int `json:"messageId,omitempty"`
}

// MessageDeletedEvent with a nil UserId is a full removal; otherwise only
// UserId's view is redacted.
type MessageDeletedEvent struct {
	ListId    int  `json:"listId"`
	ItemId    *int `json:"itemId"`
	MessageId int  `json:"messageId"`
	UserId    *int `json:"userId"`
}

type InvitationRejectedEvent struct {
	ListId     int    `json:"listId"`
	ListName   string `json:"listName"`
	RejectedBy string `json:"rejectedBy"`
}
