// Package llm maps raw user text plus conversation context onto one of
// a closed set of structured intents via tool-calling providers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quote-bot/internal/ledger"
	"quote-bot/internal/metrics"
	"quote-bot/internal/quote"
)

// attemptsPerProvider allows one retry of the identical payload for
// transient failures before failing over.
const attemptsPerProvider = 2

// Resolver orchestrates the primary and secondary providers.
type Resolver struct {
	providers []Provider
	system    string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewResolver builds a resolver with an ordered fallback list. The
// secondary may be nil when only one provider is configured.
func NewResolver(primary, secondary Provider, systemPrompt string, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	providers := []Provider{primary}
	if secondary != nil {
		providers = append(providers, secondary)
	}
	return &Resolver{
		providers: providers,
		system:    systemPrompt,
		logger:    logger.With("component", "resolver"),
		metrics:   m,
	}
}

// Resolve turns the query into a validated intent. Every provider call,
// successful or not, is billed against the passed Bill: token counts
// when known, the flat failed-call rate otherwise. Validation failures
// are terminal; transient failures retry once then fail over.
func (r *Resolver) Resolve(ctx context.Context, query string, turns []Turn, bill *ledger.Bill) (*Intent, error) {
	req := Request{
		System:  r.system,
		Query:   query,
		Context: turns,
		Tools:   toolDefinitions(),
	}

	var lastErr error
	for _, provider := range r.providers {
		for attempt := 1; attempt <= attemptsPerProvider; attempt++ {
			start := time.Now()
			call, usage, err := provider.Invoke(ctx, req)
			r.observe(provider.Name(), usage, start, err)
			r.record(bill, provider.Name(), usage, err)

			if err != nil {
				lastErr = err
				var transient *TransientProviderError
				if errors.As(err, &transient) {
					r.logger.Warn("provider call failed",
						"provider", provider.Name(), "attempt", attempt, "error", err)
					continue
				}
				return nil, err
			}

			intent, err := parseToolCall(call)
			if err != nil {
				var validation *ValidationError
				if errors.As(err, &validation) {
					return nil, err
				}
				lastErr = err
				r.logger.Warn("tool call did not parse",
					"provider", provider.Name(), "tool", call.Name, "attempt", attempt, "error", err)
				continue
			}
			return intent, nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrIntentResolutionFailed, lastErr)
}

func (r *Resolver) observe(provider string, usage Usage, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.LLMRequests.WithLabelValues(provider, status).Inc()
		r.metrics.LLMLatency.WithLabelValues(provider, status).Observe(time.Since(start).Seconds())
		r.metrics.LLMTokens.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
		r.metrics.LLMTokens.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	}
}

func (r *Resolver) record(bill *ledger.Bill, provider string, usage Usage, err error) {
	if bill == nil {
		return
	}
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		meta := map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		}
		if err != nil {
			meta["failed"] = true
		}
		bill.AddLLMUsage(provider, usage.InputTokens, usage.OutputTokens, meta)
		return
	}
	if err != nil {
		bill.AddFailedCall(provider, nil)
	}
}

// parseToolCall validates the raw tool call against the closed intent
// set. An unknown tool or mistyped arguments is a ValidationError; it
// is never retried because the model already committed to a shape.
func parseToolCall(call *ToolCall) (*Intent, error) {
	switch call.Name {
	case toolMetalPrices:
		return &Intent{Kind: IntentMetalPricing}, nil

	case toolStockInfo:
		var args StockArgs
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, &ValidationError{Reason: "stock arguments did not decode: " + err.Error()}
		}
		if args.Query == "" {
			return nil, &ValidationError{Reason: "stock query is required"}
		}
		return &Intent{Kind: IntentGetStock, Stock: &args}, nil

	case toolQuotation:
		args, err := parseQuotationArgs(call.Input)
		if err != nil {
			return nil, err
		}
		return &Intent{Kind: IntentGetQuotation, Quotation: args}, nil

	case toolPricesOnly:
		args, err := parseQuotationArgs(call.Input)
		if err != nil {
			return nil, err
		}
		return &Intent{Kind: IntentGetPricesOnly, Quotation: args}, nil

	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

func parseQuotationArgs(input json.RawMessage) (*QuotationArgs, error) {
	var args QuotationArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, &ValidationError{Reason: "quotation arguments did not decode: " + err.Error()}
	}
	if len(args.Items) == 0 {
		return nil, &ValidationError{Reason: "at least one item is required"}
	}
	for i, item := range args.Items {
		if item.Quantity <= 0 {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: quantity must be a positive integer", i+1)}
		}
		if _, ok := quote.DiscountFor(quote.Tier(item.Tier)); !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: unknown tier %q", i+1, item.Tier)}
		}
		if err := item.Product.Normalize().Validate(); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: %v", i+1, err)}
		}
	}
	return &args, nil
}
