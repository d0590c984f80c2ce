// Package convo coordinates one inbound chat message end to end: user
// gating, context loading, intent resolution, dispatch, response
// rendering and the atomic session + cost commit.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quote-bot/internal/catalog"
	"quote-bot/internal/ledger"
	"quote-bot/internal/llm"
	"quote-bot/internal/metalprice"
	"quote-bot/internal/metrics"
	"quote-bot/internal/quote"
	"quote-bot/internal/repo"
	"quote-bot/internal/sequence"
	"quote-bot/internal/stock"
)

// state tracks the per-message pipeline for logging and audit.
type state string

const (
	stateReceived       state = "received"
	stateContextLoaded  state = "context_loaded"
	stateIntentResolved state = "intent_resolved"
	stateDispatched     state = "dispatched"
	stateResponded      state = "responded"
	stateErrored        state = "errored"
)

// IntentResolver is the LLM orchestration surface the engine depends on.
type IntentResolver interface {
	Resolve(ctx context.Context, query string, turns []llm.Turn, bill *ledger.Bill) (*llm.Intent, error)
}

// PriceSource provides the spot price snapshot for pricing intents.
type PriceSource interface {
	Snapshot(ctx context.Context, metals ...catalog.Metal) (quote.PriceSnapshot, error)
}

// StockLookup answers free-form availability queries.
type StockLookup interface {
	Lookup(ctx context.Context, query string) (string, error)
}

// Engine is the query fulfilment coordinator. It is the only component
// that writes QuerySession and CostEvent rows.
type Engine struct {
	repo            repo.Repository
	resolver        IntentResolver
	prices          PriceSource
	stock           StockLookup
	rates           *ledger.RateTable
	logger          *slog.Logger
	metrics         *metrics.Metrics
	contextMessages int
	seq             *sequence.Queue
}

// Config holds engine dependencies.
type Config struct {
	Repo            repo.Repository
	Resolver        IntentResolver
	Prices          PriceSource
	Stock           StockLookup
	Rates           *ledger.RateTable
	ContextMessages int
}

func NewEngine(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	contextMessages := cfg.ContextMessages
	if contextMessages <= 0 {
		contextMessages = 10
	}
	return &Engine{
		repo:            cfg.Repo,
		resolver:        cfg.Resolver,
		prices:          cfg.Prices,
		stock:           cfg.Stock,
		rates:           cfg.Rates,
		logger:          logger.With("component", "convo"),
		metrics:         m,
		contextMessages: contextMessages,
		seq:             sequence.NewQueue(),
	}
}

// outcome collects what the pipeline produced for the session commit.
type outcome struct {
	queryType    string
	responseType string
	response     string
	errMessage   string
	meta         map[string]any
}

// HandleMessage processes one inbound message and returns the response
// text to deliver. Messages from the same sender are processed strictly
// in arrival order; an audit session row is written on every path,
// including refusals and errors.
func (e *Engine) HandleMessage(ctx context.Context, platform, senderID, text string) (string, error) {
	wait, release := e.seq.Reserve(platform + ":" + senderID)
	wait()
	defer release()

	start := time.Now()
	if e.metrics != nil {
		e.metrics.InboundMessages.WithLabelValues(platform).Inc()
	}
	logger := e.logger.With("platform", platform, "sender", senderID)
	logger.Debug("pipeline state", "state", stateReceived)

	user, refusal, err := e.gateUser(ctx, platform, senderID)
	if err != nil {
		return "", err
	}
	if refusal != "" {
		if user != nil {
			e.commit(ctx, user, nil, nil, text, outcome{
				queryType:    "unauthorized",
				responseType: "refusal",
				response:     refusal,
			}, start)
		}
		return refusal, nil
	}

	conv, turns, err := e.loadContext(ctx, user)
	if err != nil {
		return "", err
	}
	logger.Debug("pipeline state", "state", stateContextLoaded, "conversation", conv.ID, "turns", len(turns))

	sessionID := uuid.NewString()
	bill := ledger.NewBill(e.rates, e.logger, user.ID, sessionID, platform)

	out := e.process(ctx, logger, text, turns, bill)
	bill.AddOutboundMessage()

	if err := e.commitSession(ctx, user, conv, sessionID, bill, text, out, start); err != nil {
		logger.Error("session commit failed", "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
		return "", err
	}
	logger.Debug("pipeline state", "state", stateResponded,
		"query_type", out.queryType, "cost", bill.Total().String(),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out.response, nil
}

// gateUser finds or registers the sender and enforces the status gate.
// A non-empty refusal means the message is answered without fulfilment.
func (e *Engine) gateUser(ctx context.Context, platform, senderID string) (*repo.User, string, error) {
	var user *repo.User
	var err error
	switch platform {
	case repo.PlatformWhatsApp:
		user, err = e.repo.GetUserByPhone(ctx, senderID)
		if err == nil && user == nil {
			user, err = e.repo.CreateActiveWhatsAppUser(ctx, senderID)
		}
	case repo.PlatformTelegram:
		user, err = e.repo.GetUserByTelegram(ctx, senderID)
		if err == nil && user == nil {
			user, err = e.repo.CreatePendingTelegramUser(ctx, senderID)
		}
	default:
		return nil, "", fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		return nil, "", fmt.Errorf("gate user: %w", err)
	}

	switch user.Status {
	case repo.StatusActive:
		return user, "", nil
	case repo.StatusSuspended:
		return user, msgSuspended, nil
	default:
		return user, msgPendingApproval, nil
	}
}

func (e *Engine) loadContext(ctx context.Context, user *repo.User) (*repo.Conversation, []llm.Turn, error) {
	conv, messages, err := e.repo.RecentConversation(ctx, user.ID, e.contextMessages)
	if err != nil {
		return nil, nil, fmt.Errorf("load context: %w", err)
	}
	if conv == nil {
		conv, err = e.repo.CreateConversation(ctx, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("create conversation: %w", err)
		}
	}
	turns := make([]llm.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, llm.Turn{UserQuery: m.UserQuery, ResponseText: m.ResponseText})
	}
	return conv, turns, nil
}

// process resolves the intent and dispatches it. Every path yields an
// outcome; failures become user-visible text, never a dropped message.
func (e *Engine) process(ctx context.Context, logger *slog.Logger, text string, turns []llm.Turn, bill *ledger.Bill) outcome {
	intent, err := e.resolver.Resolve(ctx, text, turns, bill)
	if err != nil {
		var validation *llm.ValidationError
		switch {
		case errors.As(err, &validation):
			logger.Debug("pipeline state", "state", stateErrored, "cause", "validation")
			return outcome{
				queryType:    "validation_failed",
				responseType: "clarification",
				response:     renderClarification(validation.Reason),
				errMessage:   err.Error(),
			}
		default:
			logger.Warn("intent resolution failed", "error", err)
			return outcome{
				queryType:    "unresolved",
				responseType: "rephrase",
				response:     msgRephrase,
				errMessage:   err.Error(),
			}
		}
	}
	logger.Debug("pipeline state", "state", stateIntentResolved, "intent", intent.Kind)

	out := e.dispatch(ctx, logger, intent)
	logger.Debug("pipeline state", "state", stateDispatched, "intent", intent.Kind, "response_type", out.responseType)
	return out
}

func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, intent *llm.Intent) outcome {
	switch intent.Kind {
	case llm.IntentMetalPricing:
		return e.handleMetalPricing(ctx)
	case llm.IntentGetStock:
		return e.handleStock(ctx, intent.Stock)
	case llm.IntentGetQuotation:
		return e.handleQuotation(ctx, intent.Quotation, false)
	case llm.IntentGetPricesOnly:
		return e.handleQuotation(ctx, intent.Quotation, true)
	default:
		logger.Error("intent outside closed set", "intent", intent.Kind)
		return outcome{
			queryType:    string(intent.Kind),
			responseType: "error",
			response:     msgRephrase,
			errMessage:   fmt.Sprintf("unhandled intent %q", intent.Kind),
		}
	}
}

func (e *Engine) handleMetalPricing(ctx context.Context) outcome {
	snap, err := e.prices.Snapshot(ctx, catalog.Copper, catalog.Aluminium)
	if err != nil {
		return outcome{
			queryType:    string(llm.IntentMetalPricing),
			responseType: "unavailable",
			response:     msgPriceUnavailable,
			errMessage:   err.Error(),
		}
	}
	return outcome{
		queryType:    string(llm.IntentMetalPricing),
		responseType: "metal_prices",
		response:     renderMetalPrices(snap),
		meta:         map[string]any{"as_of": snap.AsOf},
	}
}

func (e *Engine) handleStock(ctx context.Context, args *llm.StockArgs) outcome {
	info, err := e.stock.Lookup(ctx, args.Query)
	if err != nil {
		if errors.Is(err, stock.ErrUnavailable) {
			return outcome{
				queryType:    string(llm.IntentGetStock),
				responseType: "unavailable",
				response:     msgStockUnavailable,
				errMessage:   err.Error(),
			}
		}
		return outcome{
			queryType:    string(llm.IntentGetStock),
			responseType: "error",
			response:     msgStockUnavailable,
			errMessage:   err.Error(),
		}
	}
	return outcome{
		queryType:    string(llm.IntentGetStock),
		responseType: "stock",
		response:     info,
		meta:         map[string]any{"query": args.Query},
	}
}

func (e *Engine) handleQuotation(ctx context.Context, args *llm.QuotationArgs, priceOnly bool) outcome {
	kind := llm.IntentGetQuotation
	if priceOnly {
		kind = llm.IntentGetPricesOnly
	}

	snap, err := e.prices.Snapshot(ctx, catalog.Copper, catalog.Aluminium)
	if err != nil {
		if errors.Is(err, metalprice.ErrPriceUnavailable) {
			return outcome{
				queryType:    string(kind),
				responseType: "unavailable",
				response:     msgPriceUnavailable,
				errMessage:   err.Error(),
			}
		}
		return outcome{
			queryType:    string(kind),
			responseType: "error",
			response:     msgPriceUnavailable,
			errMessage:   err.Error(),
		}
	}

	if priceOnly {
		lines, err := quote.PriceOnly(args.Request(), snap)
		if err != nil {
			return pricingErrorOutcome(kind, err)
		}
		return outcome{
			queryType:    string(kind),
			responseType: "prices",
			response:     renderPriceOnly(lines, snap.AsOf),
			meta:         map[string]any{"lines": len(lines), "as_of": snap.AsOf},
		}
	}

	quotation, err := quote.Build(args.Request(), snap)
	if err != nil {
		return pricingErrorOutcome(kind, err)
	}
	return outcome{
		queryType:    string(kind),
		responseType: "quotation",
		response:     renderQuotation(quotation),
		meta: map[string]any{
			"lines":       len(quotation.Lines),
			"subtotal":    quotation.Subtotal.String(),
			"tax":         quotation.Tax.String(),
			"grand_total": quotation.GrandTotal.String(),
			"as_of":       quotation.PriceAsOf,
		},
	}
}

func pricingErrorOutcome(kind llm.IntentKind, err error) outcome {
	var pricing *quote.PricingError
	if errors.As(err, &pricing) {
		return outcome{
			queryType:    string(kind),
			responseType: "pricing_failed",
			response:     renderPricingFailure(pricing),
			errMessage:   err.Error(),
		}
	}
	return outcome{
		queryType:    string(kind),
		responseType: "error",
		response:     msgRephrase,
		errMessage:   err.Error(),
	}
}

// commit writes a session row for paths that never opened a bill, such
// as status refusals. The refusal reply still goes out on the wire, so
// it is billed like any other outbound message.
func (e *Engine) commit(ctx context.Context, user *repo.User, conv *repo.Conversation, bill *ledger.Bill, text string, out outcome, start time.Time) {
	sessionID := uuid.NewString()
	if bill == nil {
		bill = ledger.NewBill(e.rates, e.logger, user.ID, sessionID, user.Platform)
		bill.AddOutboundMessage()
	}
	if err := e.commitSession(ctx, user, conv, sessionID, bill, text, out, start); err != nil {
		e.logger.Error("session commit failed", "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
	}
}

// commitSession persists the QuerySession, its cost events and the
// conversation message in one transaction. Errored outcomes still carry
// their accrued cost.
func (e *Engine) commitSession(ctx context.Context, user *repo.User, conv *repo.Conversation, sessionID string, bill *ledger.Bill, text string, out outcome, start time.Time) error {
	session := repo.QuerySession{
		ID:               sessionID,
		UserID:           user.ID,
		QueryText:        text,
		QueryType:        out.queryType,
		ResponseType:     out.responseType,
		TotalCost:        bill.Total(),
		ProcessingTimeMS: int(time.Since(start).Milliseconds()),
		Platform:         user.Platform,
	}
	if conv != nil {
		session.ConversationID = &conv.ID
	}
	if out.errMessage != "" {
		session.ErrorMessage = &out.errMessage
	}

	var message *repo.ConversationMessage
	if conv != nil {
		message = &repo.ConversationMessage{
			ConversationID: conv.ID,
			SessionID:      sessionID,
			UserQuery:      text,
			ResponseText:   out.response,
			ResponseMeta:   out.meta,
		}
	}

	if err := e.repo.FinishSession(ctx, session, bill.Events(), message); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	// Reconcile the stored events against the session total. A mismatch
	// means the billing invariant broke somewhere between Bill and row.
	if recorded, err := e.repo.SessionCostTotal(ctx, sessionID); err == nil && !recorded.Equal(bill.Total()) {
		e.logger.Error("session cost mismatch",
			"session", sessionID, "events_total", recorded.String(), "session_total", bill.Total().String())
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("ledger").Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.QuerySessions.WithLabelValues(out.queryType, out.responseType).Inc()
		e.metrics.OutboundMessages.WithLabelValues(user.Platform).Inc()
		for _, ev := range bill.Events() {
			e.metrics.CostRecorded.WithLabelValues(ev.EventType).Inc()
		}
	}
	return nil
}
