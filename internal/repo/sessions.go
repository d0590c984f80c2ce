package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// FinishSession commits the audit record for one inbound message: the
// QuerySession row, every buffered CostEvent and the conversation
// message, in a single transaction. Partial billing with no audit row
// (or the reverse) can therefore not happen.
func (r *PostgresRepository) FinishSession(ctx context.Context, session QuerySession, events []CostEvent, message *ConversationMessage) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		const sessionQ = `
INSERT INTO query_sessions
    (id, user_id, conversation_id, query_text, query_type, response_type,
     error_message, total_cost, processing_time_ms, platform)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
		if _, err := tx.Exec(ctx, sessionQ,
			session.ID,
			session.UserID,
			session.ConversationID,
			session.QueryText,
			session.QueryType,
			session.ResponseType,
			session.ErrorMessage,
			session.TotalCost,
			session.ProcessingTimeMS,
			session.Platform,
		); err != nil {
			return fmt.Errorf("insert query session: %w", err)
		}

		const eventQ = `
INSERT INTO cost_events
    (user_id, query_session_id, event_type, unit_cost, unit_type,
     units_consumed, cost_amount, metadata, platform)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
		for _, ev := range events {
			if _, err := tx.Exec(ctx, eventQ,
				ev.UserID,
				ev.SessionID,
				ev.EventType,
				ev.UnitCost,
				ev.UnitType,
				ev.UnitsConsumed,
				ev.CostAmount,
				ev.Metadata,
				ev.Platform,
			); err != nil {
				return fmt.Errorf("insert cost event %s: %w", ev.EventType, err)
			}
		}

		if message != nil {
			const msgQ = `
INSERT INTO conversation_messages
    (conversation_id, session_id, user_query, response_text, response_meta)
VALUES ($1, $2, $3, $4, $5);
`
			if _, err := tx.Exec(ctx, msgQ,
				message.ConversationID,
				message.SessionID,
				message.UserQuery,
				message.ResponseText,
				message.ResponseMeta,
			); err != nil {
				return fmt.Errorf("insert conversation message: %w", err)
			}

			const touchQ = `UPDATE conversations SET last_activity_at = NOW() WHERE id = $1;`
			if _, err := tx.Exec(ctx, touchQ, message.ConversationID); err != nil {
				return fmt.Errorf("touch conversation: %w", err)
			}
		}

		return nil
	})
}

// SessionCostTotal sums the recorded cost events for a session. Used for
// reconciliation against QuerySession.total_cost.
func (r *PostgresRepository) SessionCostTotal(ctx context.Context, sessionID string) (decimal.Decimal, error) {
	const q = `
SELECT COALESCE(SUM(cost_amount), 0)
FROM cost_events
WHERE query_session_id = $1;
`
	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, q, sessionID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum session cost: %w", err)
	}
	return total, nil
}
