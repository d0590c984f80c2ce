package llm

import (
	"context"
	"encoding/json"

	"quote-bot/internal/catalog"
	"quote-bot/internal/quote"
)

// IntentKind is the closed set of intents the resolver may return.
type IntentKind string

const (
	IntentGetQuotation  IntentKind = "get_quotation"
	IntentGetPricesOnly IntentKind = "get_prices_only"
	IntentGetStock      IntentKind = "get_stock"
	IntentMetalPricing  IntentKind = "metal_pricing"
)

// QuoteItemArgs is one requested line as filled in by the model.
type QuoteItemArgs struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
	Tier     string          `json:"tier"`
}

// QuotationArgs holds the argument shape shared by the quotation and
// prices-only intents.
type QuotationArgs struct {
	Items []QuoteItemArgs `json:"items"`
}

// Request converts validated arguments into an engine request.
func (a QuotationArgs) Request() quote.Request {
	req := quote.Request{Items: make([]quote.RequestItem, 0, len(a.Items))}
	for _, item := range a.Items {
		req.Items = append(req.Items, quote.RequestItem{
			Product:  item.Product,
			Quantity: item.Quantity,
			Tier:     quote.Tier(item.Tier),
		})
	}
	return req
}

// StockArgs carries the free-form ERP stock query.
type StockArgs struct {
	Query string `json:"query"`
}

// Intent is the resolver's validated result. Kind discriminates which
// argument pointer is set; MetalPricing carries none.
type Intent struct {
	Kind      IntentKind
	Quotation *QuotationArgs
	Stock     *StockArgs
}

// Turn is one prior exchange supplied to the model as context.
type Turn struct {
	UserQuery    string
	ResponseText string
}

// Request is the provider-neutral payload. Both providers receive the
// same content; each adapter maps it onto its own wire format.
type Request struct {
	System  string
	Query   string
	Context []Turn
	Tools   []ToolDef
}

// ToolCall is the raw tool selection a provider returned, before
// validation against the intent schemas.
type ToolCall struct {
	Name  string
	Input json.RawMessage
}

// Usage carries the token counts a call consumed, for billing.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is implemented once per LLM backend.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*ToolCall, Usage, error)
}

// ToolDef describes one intent to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Tool names as presented to the providers.
const (
	toolMetalPrices = "get_metal_prices"
	toolStockInfo   = "get_stock_info"
	toolQuotation   = "generate_quotation"
	toolPricesOnly  = "get_prices_only"
)

func quoteItemsSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"kind":       map[string]any{"type": "string", "enum": []string{"power", "control", "flexible", "submersible", "solar"}},
						"conductor":  map[string]any{"type": "string", "enum": []string{"copper", "aluminium"}},
						"voltage":    map[string]any{"type": "string", "enum": []string{"lt", "ht"}, "description": "Required for power and control cable only"},
						"cores":      map[string]any{"type": "integer", "minimum": 1},
						"sqmm":       map[string]any{"type": "string", "description": "Conductor size in sq. mm, e.g. '2.5' or '240'"},
						"insulation": map[string]any{"type": "string", "enum": []string{"xlpe", "pvc"}},
						"armoured":   map[string]any{"type": "boolean"},
						"frls":       map[string]any{"type": "boolean"},
					},
					"required": []string{"kind", "conductor", "cores", "sqmm"},
				},
				"quantity": map[string]any{"type": "integer", "minimum": 1, "description": "Quantity in metres"},
				"tier":     map[string]any{"type": "string", "enum": []string{"retail", "dealer", "project", "oem"}},
			},
			"required": []string{"product", "quantity", "tier"},
		},
	}
}

// toolDefinitions builds the tool set sent on every resolver call.
func toolDefinitions() []ToolDef {
	itemsSchema := quoteItemsSchema()
	return []ToolDef{
		{
			Name:        toolMetalPrices,
			Description: "Get current copper and aluminium spot prices",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			},
		},
		{
			Name:        toolStockInfo,
			Description: "Check stock availability for electrical items in the ERP",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Stock query string, e.g. '4 C x 2.5 2XWYL'",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolQuotation,
			Description: "Generate a full quotation with tax and grand total for electrical items",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": itemsSchema,
				},
				"required": []string{"items"},
			},
		},
		{
			Name:        toolPricesOnly,
			Description: "Get per-item rates for electrical items without a full quotation",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": itemsSchema,
				},
				"required": []string{"items"},
			},
		},
	}
}
