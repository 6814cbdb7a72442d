package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-listsync/internal/types"
)

// Notifier turns list content and membership changes made by the CRUD
// side of the application into room events.
type Notifier struct {
	hub     *Hub
	members ParticipantLookup
}

func NewNotifier(hub *Hub, members ParticipantLookup) *Notifier {
	return &Notifier{hub: hub, members: members}
}

func (n *Notifier) ItemAdded(item types.Item) {
	n.hub.Broadcast(types.RoomKey(item.ListId), types.EventItemAdded, types.ItemEvent{ListId: item.ListId, Item: &item})
}

func (n *Notifier) ItemUpdated(item types.Item) {
	n.hub.Broadcast(types.RoomKey(item.ListId), types.EventItemUpdated, types.ItemEvent{ListId: item.ListId, Item: &item})
}

func (n *Notifier) ItemDeleted(listId, itemId int) {
	n.hub.Broadcast(types.RoomKey(listId), types.EventItemDeleted, types.ItemEvent{ListId: listId, ItemId: itemId})
}

func (n *Notifier) ListUpdated(list types.List) {
	n.hub.Broadcast(types.RoomKey(list.Id), types.EventListUpdated, types.ListEvent{ListId: list.Id, List: &list})
}

func (n *Notifier) UserJoined(ctx context.Context, listId, userId int) error {
	p, err := n.members.GetParticipant(ctx, listId, userId)
	if err != nil {
		return fmt.Errorf("resolve participant: %w", err)
	}

	n.hub.Broadcast(types.RoomKey(listId), types.EventUserJoined, types.MemberEvent{ListId: listId, User: p.User, Role: p.Role})
	return nil
}

// UserRemoved announces a removal. The user is no longer a participant, so
// the caller supplies the alias it resolved before removing them. The
// removed user's connections see the event and then leave the room.
func (n *Notifier) UserRemoved(listId int, user types.User) {
	n.hub.Broadcast(types.RoomKey(listId), types.EventUserRemoved, types.MemberEvent{ListId: listId, User: user})
	n.hub.Evict(listId, user.Id)
}

func (n *Notifier) UserRoleChanged(ctx context.Context, listId, userId int) error {
	p, err := n.members.GetParticipant(ctx, listId, userId)
	if err != nil {
		return fmt.Errorf("resolve participant: %w", err)
	}

	n.hub.Broadcast(types.RoomKey(listId), types.EventUserRoleChanged, types.MemberEvent{ListId: listId, User: p.User, Role: p.Role})
	return nil
}

// InvitationRejected is delivered to the inviter's connections only.
func (n *Notifier) InvitationRejected(inviterId int, ev types.InvitationRejectedEvent) {
	n.hub.SendToUser(inviterId, types.EventInvitationRejected, ev)
}
