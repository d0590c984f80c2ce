// Package ledger turns units of billable work into append-only cost
// events priced from the versioned rate table.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"quote-bot/internal/repo"
)

// Event types recorded against a session.
const (
	EventLLMInputTokens  = "llm_input_tokens"
	EventLLMOutputTokens = "llm_output_tokens"
	EventLLMFailedCall   = "llm_failed_call"
	EventOutboundMessage = "outbound_message"
)

// Cost types as stored in cost_rate_history.
const (
	costInputToken      = "input_token"
	costOutputToken     = "output_token"
	costFailedCall      = "failed_call"
	costOutboundMessage = "outbound_message"
)

// RateTable is an in-memory snapshot of the newest effective rate per
// provider and cost type, loaded once at boot.
type RateTable struct {
	rates map[string]repo.CostRate
}

func rateKey(provider, costType string) string {
	return provider + "/" + costType
}

// LoadRates snapshots the current rate table from storage.
func LoadRates(ctx context.Context, r repo.Repository) (*RateTable, error) {
	rows, err := r.CurrentRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate table: %w", err)
	}
	return NewRateTable(rows), nil
}

func NewRateTable(rows []repo.CostRate) *RateTable {
	t := &RateTable{rates: make(map[string]repo.CostRate, len(rows))}
	for _, row := range rows {
		t.rates[rateKey(row.ServiceProvider, row.CostType)] = row
	}
	return t
}

func (t *RateTable) lookup(provider, costType string) (repo.CostRate, bool) {
	cr, ok := t.rates[rateKey(provider, costType)]
	return cr, ok
}

// Bill accumulates the cost events of one query session. Events are
// buffered here and written with the session in one transaction; the
// Bill never touches storage itself.
type Bill struct {
	userID    string
	sessionID string
	platform  string
	rates     *RateTable
	logger    *slog.Logger
	events    []repo.CostEvent
}

func NewBill(rates *RateTable, logger *slog.Logger, userID, sessionID, platform string) *Bill {
	return &Bill{
		userID:    userID,
		sessionID: sessionID,
		platform:  platform,
		rates:     rates,
		logger:    logger,
	}
}

// AddLLMUsage records input and output token consumption for one
// provider call. Zero-token directions are skipped.
func (b *Bill) AddLLMUsage(provider string, inputTokens, outputTokens int, meta map[string]any) {
	if inputTokens > 0 {
		b.add(provider, costInputToken, EventLLMInputTokens, inputTokens, meta)
	}
	if outputTokens > 0 {
		b.add(provider, costOutputToken, EventLLMOutputTokens, outputTokens, meta)
	}
}

// AddFailedCall records the flat charge for a provider call that
// returned no usable result.
func (b *Bill) AddFailedCall(provider string, meta map[string]any) {
	b.add(provider, costFailedCall, EventLLMFailedCall, 1, meta)
}

// AddOutboundMessage records the platform delivery charge for the
// response message.
func (b *Bill) AddOutboundMessage() {
	b.add(b.platform, costOutboundMessage, EventOutboundMessage, 1, nil)
}

// add prices units against the snapshot rate and buffers the event.
// cost_amount is computed here, at write time, so later rate changes
// never alter history. A missing rate records a zero-cost event so the
// audit trail stays complete.
func (b *Bill) add(provider, costType, eventType string, units int, meta map[string]any) {
	cr, ok := b.rates.lookup(provider, costType)
	if !ok {
		b.logger.Warn("no rate for cost event", "provider", provider, "cost_type", costType)
		cr = repo.CostRate{ServiceProvider: provider, CostType: costType, UnitCost: decimal.Zero, UnitType: "unknown"}
	}
	b.events = append(b.events, repo.CostEvent{
		UserID:        b.userID,
		SessionID:     b.sessionID,
		EventType:     eventType,
		UnitCost:      cr.UnitCost,
		UnitType:      cr.UnitType,
		UnitsConsumed: units,
		CostAmount:    cr.UnitCost.Mul(decimal.NewFromInt(int64(units))),
		Metadata:      meta,
		Platform:      b.platform,
	})
}

// Events returns the buffered events for the session commit.
func (b *Bill) Events() []repo.CostEvent {
	return b.events
}

// Total sums the buffered event amounts. QuerySession.total_cost is set
// from this, so the stored session and its events always reconcile.
func (b *Bill) Total() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range b.events {
		total = total.Add(ev.CostAmount)
	}
	return total
}
