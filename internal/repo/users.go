package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userColumns = "id, phone_number, telegram_id, status, platform, approved_at, created_at"

// GetUserByPhone finds a WhatsApp user by phone number.
func (r *PostgresRepository) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE phone_number = $1
LIMIT 1;
`
	return r.scanUser(r.pool.QueryRow(ctx, q, phone))
}

// GetUserByTelegram finds a user by telegram id.
func (r *PostgresRepository) GetUserByTelegram(ctx context.Context, telegramID string) (*User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE telegram_id = $1
LIMIT 1;
`
	return r.scanUser(r.pool.QueryRow(ctx, q, telegramID))
}

// CreatePendingTelegramUser registers a first-contact Telegram user
// awaiting admin approval.
func (r *PostgresRepository) CreatePendingTelegramUser(ctx context.Context, telegramID string) (*User, error) {
	const q = `
INSERT INTO users (telegram_id, status, platform)
VALUES ($1, $2, $3)
ON CONFLICT (telegram_id) DO NOTHING
RETURNING ` + userColumns + `;
`
	u, err := r.scanUser(r.pool.QueryRow(ctx, q, telegramID, StatusPendingApproval, PlatformTelegram))
	if err != nil {
		return nil, err
	}
	if u == nil {
		// Conflict with an existing row returns nothing; re-read it.
		return r.GetUserByTelegram(ctx, telegramID)
	}
	return u, nil
}

// CreateActiveWhatsAppUser registers an approved WhatsApp user. There
// is no pending step for WhatsApp numbers.
func (r *PostgresRepository) CreateActiveWhatsAppUser(ctx context.Context, phone string) (*User, error) {
	const q = `
INSERT INTO users (phone_number, status, platform, approved_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (phone_number) DO NOTHING
RETURNING ` + userColumns + `;
`
	u, err := r.scanUser(r.pool.QueryRow(ctx, q, phone, StatusActive, PlatformWhatsApp))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return r.GetUserByPhone(ctx, phone)
	}
	return u, nil
}

// ApproveTelegramUser flips a pending user to active. Returns false if
// no pending user matched.
func (r *PostgresRepository) ApproveTelegramUser(ctx context.Context, telegramID string) (bool, error) {
	const q = `
UPDATE users
SET status = $2, approved_at = NOW()
WHERE telegram_id = $1 AND status = $3;
`
	ct, err := r.pool.Exec(ctx, q, telegramID, StatusActive, StatusPendingApproval)
	if err != nil {
		return false, fmt.Errorf("approve telegram user: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListPendingUsers returns users awaiting approval.
func (r *PostgresRepository) ListPendingUsers(ctx context.Context) ([]User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE status = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, StatusPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.PhoneNumber, &u.TelegramID, &u.Status, &u.Platform, &u.ApprovedAt, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending users: %w", err)
	}
	return users, nil
}

func (r *PostgresRepository) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.TelegramID, &u.Status, &u.Platform, &u.ApprovedAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
