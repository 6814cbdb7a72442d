package chat

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-listsync/internal/types"
)

// ListUnread holds a user's unread counts for one list: the list-scoped
// chat and every item, zero included. MessageIds lists the messages behind
// the counts keyed by scope ("list:7", "item:42") so clients can track
// reads and deletes of individual messages.
type ListUnread struct {
	ListId     int              `json:"listId"`
	List       int              `json:"list"`
	Items      map[int]int      `json:"items"`
	MessageIds map[string][]int `json:"messageIds"`
}

// Total returns the sum over every scope of the list.
func (u ListUnread) Total() int {
	total := u.List
	for _, n := range u.Items {
		total += n
	}
	return total
}

// Counter derives unread counts from stored read sets. Nothing is cached
// server side.
type Counter struct {
	repo Repository
}

func NewCounter(repo Repository) *Counter {
	return &Counter{repo: repo}
}

// CountFor returns the number of messages in scope not sent by userId and
// not yet read by them. It serves the single item badge route; list views
// use ForList.
func (c *Counter) CountFor(ctx context.Context, userId int, scope types.MessageScope) (int, error) {
	listId, err := authorizeScope(ctx, c.repo, userId, scope)
	if err != nil {
		return 0, err
	}

	ids, err := c.repo.UnreadMessageIds(ctx, listId, userId)
	if err != nil {
		return 0, fmt.Errorf("unread messages: %w", err)
	}

	return len(ids[scope]), nil
}

// ForList returns userId's counts for every scope of listId.
func (c *Counter) ForList(ctx context.Context, userId, listId int) (ListUnread, error) {
	if err := authorizeList(ctx, c.repo, userId, listId); err != nil {
		return ListUnread{}, err
	}

	return c.forList(ctx, userId, listId)
}

func (c *Counter) forList(ctx context.Context, userId, listId int) (ListUnread, error) {
	itemIds, err := c.repo.ListItemIds(ctx, listId)
	if err != nil {
		return ListUnread{}, fmt.Errorf("list items: %w", err)
	}

	ids, err := c.repo.UnreadMessageIds(ctx, listId, userId)
	if err != nil {
		return ListUnread{}, fmt.Errorf("unread messages: %w", err)
	}

	u := ListUnread{
		ListId:     listId,
		List:       len(ids[types.ListScope(listId)]),
		Items:      make(map[int]int, len(itemIds)),
		MessageIds: make(map[string][]int, len(ids)),
	}
	for _, id := range itemIds {
		u.Items[id] = len(ids[types.ItemScope(id)])
	}
	for scope, msgIds := range ids {
		u.MessageIds[scope.String()] = msgIds
	}

	return u, nil
}

// ForUser returns userId's counts for every list they participate in.
func (c *Counter) ForUser(ctx context.Context, userId int) ([]ListUnread, error) {
	listIds, err := c.repo.ListUserListIds(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list user lists: %w", err)
	}

	out := make([]ListUnread, 0, len(listIds))
	for _, id := range listIds {
		u, err := c.forList(ctx, userId, id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}

	return out, nil
}
