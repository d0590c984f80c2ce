package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// User status values. Only active users get queries fulfilled.
const (
	StatusPendingApproval = "pending_approval"
	StatusActive          = "active"
	StatusSuspended       = "suspended"
)

// Platform values.
const (
	PlatformTelegram = "telegram"
	PlatformWhatsApp = "whatsapp"
)

// User represents the users table row. Users are created on first
// contact and never hard-deleted; only status and approved_at mutate.
type User struct {
	ID          string
	PhoneNumber *string
	TelegramID  *string
	Status      string
	Platform    string
	ApprovedAt  *time.Time
	CreatedAt   time.Time
}

// Conversation groups a user's messages; last_activity_at drives reuse
// and expiry of the context window.
type Conversation struct {
	ID             string
	UserID         string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// ConversationMessage is one user turn with its structured response
// snapshot, used as LLM context on later turns.
type ConversationMessage struct {
	ID             string
	ConversationID string
	SessionID      string
	UserQuery      string
	ResponseText   string
	ResponseMeta   map[string]any
	CreatedAt      time.Time
}

// QuerySession is the append-only audit record for one inbound message.
type QuerySession struct {
	ID               string
	UserID           string
	ConversationID   *string
	QueryText        string
	QueryType        string
	ResponseType     string
	ErrorMessage     *string
	TotalCost        decimal.Decimal
	ProcessingTimeMS int
	Platform         string
	CreatedAt        time.Time
}

// CostRate is one versioned row of the rate table. Rate changes insert
// new rows keyed by effective_from; rows are never updated.
type CostRate struct {
	ID              string
	ServiceProvider string
	CostType        string
	UnitCost        decimal.Decimal
	UnitType        string
	EffectiveFrom   time.Time
}

// CostEvent is one billable unit of work attributed to a session.
// CostAmount is snapshotted at write time: unit_cost × units_consumed.
type CostEvent struct {
	ID            string
	UserID        string
	SessionID     string
	EventType     string
	UnitCost      decimal.Decimal
	UnitType      string
	UnitsConsumed int
	CostAmount    decimal.Decimal
	Metadata      map[string]any
	Platform      string
	CreatedAt     time.Time
}
