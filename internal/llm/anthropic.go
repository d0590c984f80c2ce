package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
)

// Anthropic calls the Messages API in tool-use mode.
type Anthropic struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// AnthropicConfig holds Anthropic client configuration.
type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewAnthropic(cfg AnthropicConfig, logger *slog.Logger) *Anthropic {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Anthropic{
		logger:  logger.With("component", "anthropic"),
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends the request in Anthropic's wire format and returns the
// first tool_use block. Usage is reported even on failed calls so the
// caller can bill them.
func (a *Anthropic) Invoke(ctx context.Context, req Request) (*ToolCall, Usage, error) {
	messages := make([]anthropicMessage, 0, 2*len(req.Context)+1)
	for _, turn := range req.Context {
		messages = append(messages,
			anthropicMessage{Role: "user", Content: turn.UserQuery},
			anthropicMessage{Role: "assistant", Content: turn.ResponseText},
		)
	}
	messages = append(messages, anthropicMessage{Role: "user", Content: req.Query})

	body, err := json.Marshal(map[string]any{
		"model":       a.model,
		"max_tokens":  2048,
		"temperature": 0.0,
		"system":      req.System,
		"tool_choice": map[string]any{"type": "any"},
		"tools":       req.Tools,
		"messages":    messages,
	})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, fmt.Errorf("new anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	res, err := a.http.Do(httpReq)
	if err != nil {
		return nil, Usage{}, &TransientProviderError{Provider: a.Name(), Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, Usage{}, &TransientProviderError{Provider: a.Name(), Err: fmt.Errorf("read response: %w", err)}
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, Usage{}, &TransientProviderError{Provider: a.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	usage := Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens}

	if out.Error != nil {
		return nil, usage, &TransientProviderError{
			Provider: a.Name(),
			Err:      fmt.Errorf("%s: %s", out.Error.Type, out.Error.Message),
		}
	}
	if res.StatusCode >= 400 {
		return nil, usage, &TransientProviderError{
			Provider: a.Name(),
			Err:      fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	for _, block := range out.Content {
		if block.Type == "tool_use" {
			return &ToolCall{Name: block.Name, Input: block.Input}, usage, nil
		}
	}
	return nil, usage, &TransientProviderError{Provider: a.Name(), Err: ErrMalformedToolCall}
}
