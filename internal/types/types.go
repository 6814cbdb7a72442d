package types

import (
	"strconv"
	"time"
)

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

type Participant struct {
	User
	Role Role `json:"role"`
}

type List struct {
	Id             int        `json:"id"`
	Name           string     `json:"name"`
	CreatedBy      int        `json:"createdBy"`
	ActivateVoting bool       `json:"activateVoting"`
	LastItemId     *int       `json:"lastItemId,omitempty"`
	LastItemAt     *time.Time `json:"lastItemAddedAt,omitempty"`
}

type Item struct {
	Id        int    `json:"id"`
	ListId    int    `json:"listId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
	AddedBy   int    `json:"addedBy"`
}

// RoomKey returns the broadcast room for a list.
func RoomKey(listId int) string {
	return "list:" + strconv.Itoa(listId)
}
