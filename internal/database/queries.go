package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-listsync/internal/types"
)

const messageColumns = "id, list_id, item_id, sender_id, content, reply_id, read_by, delete_by, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (types.Message, error) {
	var (
		m        types.Message
		itemId   sql.NullInt64
		replyId  sql.NullInt64
		readBy   pq.Int64Array
		deleteBy pq.Int64Array
	)

	err := row.Scan(
		&m.Id,
		&m.ListId,
		&itemId,
		&m.SenderId,
		&m.Content,
		&replyId,
		&readBy,
		&deleteBy,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, types.ErrNotFound
		}
		return types.Message{}, err
	}

	if itemId.Valid {
		id := int(itemId.Int64)
		m.ItemId = &id
	}
	if replyId.Valid {
		id := int(replyId.Int64)
		m.ReplyId = &id
	}
	m.ReadBy = toInts(readBy)
	m.DeleteBy = toInts(deleteBy)

	return m, nil
}

// scopeClause returns the WHERE fragment selecting scope, using $1 for its id.
func scopeClause(scope types.MessageScope) string {
	if scope.IsItem() {
		return "item_id = $1"
	}
	return "list_id = $1 AND item_id IS NULL"
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (list_id, item_id, sender_id, content, reply_id, read_by, delete_by, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, '{}', $7) RETURNING "+messageColumns,
		params.ListId,
		params.ItemId,
		params.SenderId,
		params.Content,
		params.ReplyId,
		pq.Array(toInt64s([]int{params.SenderId})),
		time.Now().UTC(),
	)

	return scanMessage(row)
}

func (db *PgChatRepository) GetMessage(ctx context.Context, id int) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1",
		id,
	)

	return scanMessage(row)
}

func (db *PgChatRepository) ListMessages(ctx context.Context, scope types.MessageScope) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+scopeClause(scope)+
			" ORDER BY created_at ASC, id ASC",
		scope.Id(),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgChatRepository) AddReader(ctx context.Context, messageId, userId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET read_by = array_append(read_by, $2) "+
			"WHERE id = $1 AND NOT ($2 = ANY(read_by))",
		messageId,
		userId,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (db *PgChatRepository) MarkScopeRead(ctx context.Context, scope types.MessageScope, userId int) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET read_by = array_append(read_by, $2) "+
			"WHERE "+scopeClause(scope)+" AND sender_id <> $2 AND NOT ($2 = ANY(read_by))",
		scope.Id(),
		userId,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (db *PgChatRepository) AddDeleter(ctx context.Context, messageId, userId int) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET delete_by = CASE WHEN $2 = ANY(delete_by) THEN delete_by "+
			"ELSE array_append(delete_by, $2) END WHERE id = $1 RETURNING "+messageColumns,
		messageId,
		userId,
	)

	return scanMessage(row)
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, id int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// replies keep their content but lose the dangling reference
	_, err = tx.ExecContext(ctx, "UPDATE messages SET reply_id = NULL WHERE reply_id = $1", id)
	if err != nil {
		return err
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	var n int64
	if n, err = res.RowsAffected(); err != nil {
		return err
	}
	if n == 0 {
		err = types.ErrNotFound
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) UnreadMessageIds(ctx context.Context, listId, userId int) (map[types.MessageScope][]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT item_id, id FROM messages "+
			"WHERE list_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by)) "+
			"ORDER BY id",
		listId,
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("query unread: %w", err)
	}
	defer rows.Close()

	ids := make(map[types.MessageScope][]int)
	for rows.Next() {
		var (
			itemId sql.NullInt64
			id     int
		)
		if err := rows.Scan(&itemId, &id); err != nil {
			return nil, fmt.Errorf("scan unread: %w", err)
		}

		scope := types.ListScope(listId)
		if itemId.Valid {
			scope = types.ItemScope(int(itemId.Int64))
		}
		ids[scope] = append(ids[scope], id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

func (db *PgChatRepository) GetVote(ctx context.Context, userId, itemId int) (types.Vote, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT user_id, item_id, vote_type FROM votes WHERE user_id = $1 AND item_id = $2",
		userId,
		itemId,
	)

	var v types.Vote
	err := row.Scan(&v.UserId, &v.ItemId, &v.Direction)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Vote{}, types.ErrNotFound
	}

	return v, err
}

func (db *PgChatRepository) UpsertVote(ctx context.Context, vote types.Vote) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO votes (user_id, item_id, vote_type, created_at, updated_at) VALUES ($1, $2, $3, $4, $4) "+
			"ON CONFLICT (user_id, item_id) DO UPDATE SET vote_type = EXCLUDED.vote_type, updated_at = EXCLUDED.updated_at",
		vote.UserId,
		vote.ItemId,
		vote.Direction,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) CountVotes(ctx context.Context, itemId int) (int, int, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FILTER (WHERE vote_type = 'up'), COUNT(*) FILTER (WHERE vote_type = 'down') "+
			"FROM votes WHERE item_id = $1",
		itemId,
	)

	var up, down int
	err := row.Scan(&up, &down)

	return up, down, err
}

func (db *PgChatRepository) GetList(ctx context.Context, listId int) (types.List, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, created_by, activate_voting, last_item_id, last_item_added_at FROM lists WHERE id = $1",
		listId,
	)

	var (
		l          types.List
		lastItemId sql.NullInt64
		lastItemAt sql.NullTime
	)
	err := row.Scan(&l.Id, &l.Name, &l.CreatedBy, &l.ActivateVoting, &lastItemId, &lastItemAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.List{}, types.ErrNotFound
		}
		return types.List{}, err
	}

	if lastItemId.Valid {
		id := int(lastItemId.Int64)
		l.LastItemId = &id
	}
	if lastItemAt.Valid {
		l.LastItemAt = &lastItemAt.Time
	}

	return l, nil
}

func (db *PgChatRepository) GetItem(ctx context.Context, itemId int) (types.Item, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, list_id, name, quantity, completed, COALESCE(notes, ''), added_by FROM items WHERE id = $1",
		itemId,
	)

	var it types.Item
	err := row.Scan(&it.Id, &it.ListId, &it.Name, &it.Quantity, &it.Completed, &it.Notes, &it.AddedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Item{}, types.ErrNotFound
	}

	return it, err
}

func (db *PgChatRepository) queryIds(ctx context.Context, query string, arg int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgChatRepository) ListItemIds(ctx context.Context, listId int) ([]int, error) {
	return db.queryIds(ctx, "SELECT id FROM items WHERE list_id = $1 ORDER BY id", listId)
}

func (db *PgChatRepository) ListParticipantIds(ctx context.Context, listId int) ([]int, error) {
	return db.queryIds(ctx, "SELECT user_id FROM list_users WHERE list_id = $1 ORDER BY user_id", listId)
}

func (db *PgChatRepository) ListUserListIds(ctx context.Context, userId int) ([]int, error) {
	return db.queryIds(ctx, "SELECT list_id FROM list_users WHERE user_id = $1 ORDER BY list_id", userId)
}

func (db *PgChatRepository) GetParticipant(ctx context.Context, listId, userId int) (types.Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT u.id, u.alias, lu.role FROM list_users lu "+
			"JOIN users u ON u.id = lu.user_id "+
			"WHERE lu.list_id = $1 AND lu.user_id = $2",
		listId,
		userId,
	)

	var p types.Participant
	err := row.Scan(&p.Id, &p.Username, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, types.ErrNotFound
	}

	return p, err
}
