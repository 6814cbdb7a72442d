// Package chat implements the chat message lifecycle (send, read,
// delete-for-me, delete-for-everyone) and the unread counters derived from
// it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/keylock"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
)

const MaxContentLength = 2000

// Broadcaster fans an event out to a room. It must not block and never
// reports delivery failures.
type Broadcaster interface {
	Broadcast(room, name string, payload any)
}

type Repository interface {
	database.MessageStore
	database.ListDirectory
}

// DeleteResult describes the transition a delete-for-me caused.
type DeleteResult int

const (
	// DeleteNoop means the user had already hidden the message.
	DeleteNoop DeleteResult = iota
	// DeleteHidden means the message is now redacted for the user only.
	DeleteHidden
	// DeleteDestroyed means every participant hid it and the row is gone.
	DeleteDestroyed
)

func (r DeleteResult) String() string {
	switch r {
	case DeleteHidden:
		return "hidden"
	case DeleteDestroyed:
		return "destroyed"
	default:
		return "noop"
	}
}

// Controller applies message mutations and broadcasts their effects.
// Mutations of one message are serialized; different messages proceed
// independently.
type Controller struct {
	log   zerolog.Logger
	repo  Repository
	bc    Broadcaster
	locks keylock.Map[int]
}

func NewController(logger zerolog.Logger, repo Repository, bc Broadcaster) *Controller {
	return &Controller{
		log:  logger.With().Str("component", "chat").Logger(),
		repo: repo,
		bc:   bc,
	}
}

// authorizeScope resolves the owning list of scope and checks userId
// participates in it.
func authorizeScope(ctx context.Context, dir database.ListDirectory, userId int, scope types.MessageScope) (int, error) {
	if !scope.Valid() {
		return 0, types.ErrInvalidScope
	}

	listId := scope.Id()
	if scope.IsItem() {
		item, err := dir.GetItem(ctx, scope.Id())
		if err != nil {
			return 0, fmt.Errorf("get item %d: %w", scope.Id(), err)
		}
		listId = item.ListId
	} else if _, err := dir.GetList(ctx, listId); err != nil {
		return 0, fmt.Errorf("get list %d: %w", listId, err)
	}

	if err := authorizeList(ctx, dir, userId, listId); err != nil {
		return 0, err
	}

	return listId, nil
}

func authorizeList(ctx context.Context, dir database.ListDirectory, userId, listId int) error {
	if _, err := dir.GetParticipant(ctx, listId, userId); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("user %d in list %d: %w", userId, listId, types.ErrForbidden)
		}
		return fmt.Errorf("get participant: %w", err)
	}

	return nil
}

// Send stores a new message in scope and announces it to the list room.
func (c *Controller) Send(ctx context.Context, userId int, scope types.MessageScope, content string, replyId *int) (types.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return types.Message{}, fmt.Errorf("%w: content must be 1-%d characters", types.ErrInvalidInput, MaxContentLength)
	}

	listId, err := authorizeScope(ctx, c.repo, userId, scope)
	if err != nil {
		return types.Message{}, err
	}

	if replyId != nil {
		parent, err := c.repo.GetMessage(ctx, *replyId)
		if err != nil {
			return types.Message{}, fmt.Errorf("get reply target %d: %w", *replyId, err)
		}
		if parent.Scope() != scope {
			return types.Message{}, fmt.Errorf("%w: reply target is in another scope", types.ErrInvalidInput)
		}
	}

	params := database.CreateMessageParams{
		ListId:   listId,
		SenderId: userId,
		Content:  content,
		ReplyId:  replyId,
	}
	if scope.IsItem() {
		itemId := scope.Id()
		params.ItemId = &itemId
	}

	msg, err := c.repo.CreateMessage(ctx, params)
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	c.bc.Broadcast(types.RoomKey(listId), types.EventMessageNew, types.MessageNewEvent{
		ListId:  listId,
		ItemId:  msg.ItemId,
		Message: &msg,
	})

	return msg, nil
}

// List returns the messages of scope as userId sees them and marks them
// read for userId.
func (c *Controller) List(ctx context.Context, userId int, scope types.MessageScope) ([]types.Message, error) {
	listId, err := authorizeScope(ctx, c.repo, userId, scope)
	if err != nil {
		return nil, err
	}

	msgs, err := c.repo.ListMessages(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if _, err := c.markScopeRead(ctx, userId, listId, scope); err != nil {
		return nil, err
	}

	out := make([]types.Message, len(msgs))
	for i := range msgs {
		if msgs[i].IsUnreadFor(userId) {
			msgs[i].ReadBy = append(msgs[i].ReadBy, userId)
		}
		out[i] = msgs[i].ViewFor(userId)
	}

	return out, nil
}

// MarkRead marks every message in scope read for userId and returns how
// many changed. A read event is broadcast only when something changed.
func (c *Controller) MarkRead(ctx context.Context, userId int, scope types.MessageScope) (int, error) {
	listId, err := authorizeScope(ctx, c.repo, userId, scope)
	if err != nil {
		return 0, err
	}

	return c.markScopeRead(ctx, userId, listId, scope)
}

func (c *Controller) markScopeRead(ctx context.Context, userId, listId int, scope types.MessageScope) (int, error) {
	n, err := c.repo.MarkScopeRead(ctx, scope, userId)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	if n > 0 {
		c.broadcastRead(listId, scope, userId, nil)
	}

	return n, nil
}

func (c *Controller) broadcastRead(listId int, scope types.MessageScope, userId int, messageId *int) {
	ev := types.MessageReadEvent{ListId: listId, UserId: userId, MessageId: messageId}
	if scope.IsItem() {
		itemId := scope.Id()
		ev.ItemId = &itemId
	}
	c.bc.Broadcast(types.RoomKey(listId), types.EventMessageRead, ev)
}

// loadForMutation fetches a message and checks userId participates in its
// list. The caller must hold the message lock.
func (c *Controller) loadForMutation(ctx context.Context, userId, messageId int) (types.Message, error) {
	msg, err := c.repo.GetMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, fmt.Errorf("get message %d: %w", messageId, err)
	}

	if err := authorizeList(ctx, c.repo, userId, msg.ListId); err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

// MarkMessageRead adds userId to the readers of one message.
func (c *Controller) MarkMessageRead(ctx context.Context, userId, messageId int) error {
	unlock := c.locks.Lock(messageId)
	defer unlock()

	msg, err := c.loadForMutation(ctx, userId, messageId)
	if err != nil {
		return err
	}

	if !msg.IsUnreadFor(userId) {
		return nil
	}

	changed, err := c.repo.AddReader(ctx, messageId, userId)
	if err != nil {
		return fmt.Errorf("add reader: %w", err)
	}

	if changed {
		c.broadcastRead(msg.ListId, msg.Scope(), userId, &messageId)
	}

	return nil
}

func deletedEvent(msg *types.Message, userId *int) types.MessageDeletedEvent {
	return types.MessageDeletedEvent{
		ListId:    msg.ListId,
		ItemId:    msg.ItemId,
		MessageId: msg.Id,
		UserId:    userId,
	}
}

// DeleteForMe hides a message for userId. Once every current participant
// of the list has hidden it the message is destroyed.
func (c *Controller) DeleteForMe(ctx context.Context, userId, messageId int) (DeleteResult, error) {
	unlock := c.locks.Lock(messageId)
	defer unlock()

	msg, err := c.loadForMutation(ctx, userId, messageId)
	if err != nil {
		return DeleteNoop, err
	}

	if msg.IsDeletedFor(userId) {
		return DeleteNoop, nil
	}

	msg, err = c.repo.AddDeleter(ctx, messageId, userId)
	if err != nil {
		return DeleteNoop, fmt.Errorf("add deleter: %w", err)
	}

	participants, err := c.repo.ListParticipantIds(ctx, msg.ListId)
	if err != nil {
		return DeleteNoop, fmt.Errorf("list participants: %w", err)
	}

	room := types.RoomKey(msg.ListId)
	if msg.DeletedByAll(participants) {
		if err := c.repo.DeleteMessage(ctx, messageId); err != nil {
			return DeleteNoop, fmt.Errorf("delete message: %w", err)
		}

		c.log.Debug().Int("message_id", messageId).Msg("message hidden by every participant, destroyed")
		c.bc.Broadcast(room, types.EventMessageDeleted, deletedEvent(&msg, nil))
		return DeleteDestroyed, nil
	}

	c.bc.Broadcast(room, types.EventMessageDeleted, deletedEvent(&msg, &userId))
	return DeleteHidden, nil
}

// DeleteForEveryone destroys a message. Only its sender may do this.
func (c *Controller) DeleteForEveryone(ctx context.Context, userId, messageId int) error {
	unlock := c.locks.Lock(messageId)
	defer unlock()

	msg, err := c.loadForMutation(ctx, userId, messageId)
	if err != nil {
		return err
	}

	if msg.SenderId != userId {
		return fmt.Errorf("message %d not sent by user %d: %w", messageId, userId, types.ErrForbidden)
	}

	if err := c.repo.DeleteMessage(ctx, messageId); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	c.bc.Broadcast(types.RoomKey(msg.ListId), types.EventMessageDeleted, deletedEvent(&msg, nil))
	return nil
}
