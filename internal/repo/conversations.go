package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// conversationWindow bounds how old a conversation may be and still be
// reused as LLM context.
const conversationWindow = 24 * time.Hour

// RecentConversation returns the user's most recent conversation active
// inside the reuse window, with up to limit newest messages in
// chronological order. Returns nil when nothing qualifies.
func (r *PostgresRepository) RecentConversation(ctx context.Context, userID string, limit int) (*Conversation, []ConversationMessage, error) {
	if limit <= 0 {
		limit = 10
	}

	const convQ = `
SELECT id, user_id, created_at, last_activity_at
FROM conversations
WHERE user_id = $1 AND last_activity_at >= $2
ORDER BY last_activity_at DESC
LIMIT 1;
`
	cutoff := time.Now().Add(-conversationWindow)
	var conv Conversation
	err := r.pool.QueryRow(ctx, convQ, userID, cutoff).
		Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find recent conversation: %w", err)
	}

	const msgQ = `
SELECT id, conversation_id, session_id, user_query, response_text, response_meta, created_at
FROM (
    SELECT id, conversation_id, session_id, user_query, response_text, response_meta, created_at
    FROM conversation_messages
    WHERE conversation_id = $1
    ORDER BY created_at DESC
    LIMIT $2
) recent
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, msgQ, conv.ID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SessionID, &m.UserQuery, &m.ResponseText, &m.ResponseMeta, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan conversation message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate conversation messages: %w", err)
	}

	return &conv, messages, nil
}

// CreateConversation starts a fresh conversation for the user.
func (r *PostgresRepository) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	const q = `
INSERT INTO conversations (user_id, last_activity_at)
VALUES ($1, NOW())
RETURNING id, user_id, created_at, last_activity_at;
`
	var conv Conversation
	if err := r.pool.QueryRow(ctx, q, userID).
		Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.LastActivityAt); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}
