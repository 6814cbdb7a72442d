package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ListNotifier fans list changes out to rooms.
type ListNotifier interface {
	ItemAdded(item types.Item)
	ItemUpdated(item types.Item)
	ItemDeleted(listId, itemId int)
	ListUpdated(list types.List)
	UserJoined(ctx context.Context, listId, userId int) error
	UserRemoved(listId int, user types.User)
	UserRoleChanged(ctx context.Context, listId, userId int) error
	InvitationRejected(inviterId int, ev types.InvitationRejectedEvent)
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads list change events and hands them to a ListNotifier.
type Consumer struct {
	log    zerolog.Logger
	reader MessageReader
	notify ListNotifier
}

func NewConsumer(logger zerolog.Logger, brokers []string, groupId, topic string, notify ListNotifier) *Consumer {
	return newConsumer(logger, kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupId,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	}), notify)
}

func newConsumer(logger zerolog.Logger, r MessageReader, notify ListNotifier) *Consumer {
	return &Consumer{
		log:    logger.With().Str("component", "event-consumer").Logger(),
		reader: r,
		notify: notify,
	}
}

// Run consumes until ctx is cancelled. Records that fail to decode or
// dispatch are logged and committed so one bad record cannot stall the
// partition.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.log.Info().Msg("consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("consumer shutting down")
				return nil
			}
			c.log.Error().Err(err).Msg("fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handle(ctx, m.Value); err != nil {
			c.log.Error().Err(err).Int64("offset", m.Offset).Msg("failed to handle event")
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Msg("commit failed")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Name {
	case types.EventItemAdded, types.EventItemUpdated:
		var ev types.ItemEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Name, err)
		}
		if ev.Item == nil {
			return fmt.Errorf("%s: missing item", env.Name)
		}
		if env.Name == types.EventItemAdded {
			c.notify.ItemAdded(*ev.Item)
		} else {
			c.notify.ItemUpdated(*ev.Item)
		}
	case types.EventItemDeleted:
		var ev types.ItemEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Name, err)
		}
		c.notify.ItemDeleted(ev.ListId, ev.ItemId)
	case types.EventListUpdated:
		var ev types.ListEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Name, err)
		}
		if ev.List == nil {
			return fmt.Errorf("%s: missing list", env.Name)
		}
		c.notify.ListUpdated(*ev.List)
	case types.EventUserJoined, types.EventUserRoleChanged, types.EventUserRemoved:
		var ev types.MemberEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Name, err)
		}
		switch env.Name {
		case types.EventUserJoined:
			return c.notify.UserJoined(ctx, ev.ListId, ev.User.Id)
		case types.EventUserRoleChanged:
			return c.notify.UserRoleChanged(ctx, ev.ListId, ev.User.Id)
		default:
			c.notify.UserRemoved(ev.ListId, ev.User)
		}
	case types.EventInvitationRejected:
		var ev types.InvitationRejectedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Name, err)
		}
		if env.UserId <= 0 {
			return fmt.Errorf("%s: missing inviter", env.Name)
		}
		c.notify.InvitationRejected(env.UserId, ev)
	default:
		return fmt.Errorf("unknown event %q", env.Name)
	}

	return nil
}
