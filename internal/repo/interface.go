package repo

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the storage surface the message pipeline depends on.
// PostgresRepository is the production implementation; tests supply fakes.
type Repository interface {
	GetUserByPhone(ctx context.Context, phone string) (*User, error)
	GetUserByTelegram(ctx context.Context, telegramID string) (*User, error)
	CreatePendingTelegramUser(ctx context.Context, telegramID string) (*User, error)
	CreateActiveWhatsAppUser(ctx context.Context, phone string) (*User, error)
	ApproveTelegramUser(ctx context.Context, telegramID string) (bool, error)
	ListPendingUsers(ctx context.Context) ([]User, error)

	RecentConversation(ctx context.Context, userID string, limit int) (*Conversation, []ConversationMessage, error)
	CreateConversation(ctx context.Context, userID string) (*Conversation, error)

	FinishSession(ctx context.Context, session QuerySession, events []CostEvent, message *ConversationMessage) error
	SessionCostTotal(ctx context.Context, sessionID string) (decimal.Decimal, error)

	CurrentRates(ctx context.Context) ([]CostRate, error)

	Ping(ctx context.Context) error
}

var _ Repository = (*PostgresRepository)(nil)
