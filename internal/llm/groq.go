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
	defaultGroqBaseURL = "https://api.groq.com"
	defaultGroqModel   = "moonshotai/kimi-k2-instruct"
)

// Groq calls the OpenAI-compatible chat completions API in
// function-calling mode.
type Groq struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// GroqConfig holds Groq client configuration.
type GroqConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewGroq(cfg GroqConfig, logger *slog.Logger) *Groq {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGroqBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultGroqModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Groq{
		logger:  logger.With("component", "groq"),
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

func (g *Groq) Name() string { return "groq" }

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke maps the shared request onto OpenAI function-calling format.
// The tool set is the same as Anthropic's, rewrapped per tool.
func (g *Groq) Invoke(ctx context.Context, req Request) (*ToolCall, Usage, error) {
	messages := make([]groqMessage, 0, 2*len(req.Context)+2)
	messages = append(messages, groqMessage{Role: "system", Content: req.System})
	for _, turn := range req.Context {
		messages = append(messages,
			groqMessage{Role: "user", Content: turn.UserQuery},
			groqMessage{Role: "assistant", Content: turn.ResponseText},
		)
	}
	messages = append(messages, groqMessage{Role: "user", Content: req.Query})

	tools := make([]map[string]any, 0, len(req.Tools))
	for _, tool := range req.Tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.InputSchema,
			},
		})
	}

	body, err := json.Marshal(map[string]any{
		"model":                 g.model,
		"messages":              messages,
		"tools":                 tools,
		"tool_choice":           "required",
		"temperature":           0.0,
		"max_completion_tokens": 2048,
	})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshal groq request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/openai/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, fmt.Errorf("new groq request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	res, err := g.http.Do(httpReq)
	if err != nil {
		return nil, Usage{}, &TransientProviderError{Provider: g.Name(), Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, Usage{}, &TransientProviderError{Provider: g.Name(), Err: fmt.Errorf("read response: %w", err)}
	}

	var out groqResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, Usage{}, &TransientProviderError{Provider: g.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	usage := Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens}

	if out.Error != nil {
		if out.Error.Code == "tool_use_failed" {
			return nil, usage, &TransientProviderError{Provider: g.Name(), Err: ErrMalformedToolCall}
		}
		return nil, usage, &TransientProviderError{
			Provider: g.Name(),
			Err:      fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message),
		}
	}
	if res.StatusCode >= 400 {
		return nil, usage, &TransientProviderError{
			Provider: g.Name(),
			Err:      fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	if len(out.Choices) > 0 {
		calls := out.Choices[0].Message.ToolCalls
		if len(calls) > 0 {
			return &ToolCall{
				Name:  calls[0].Function.Name,
				Input: json.RawMessage(calls[0].Function.Arguments),
			}, usage, nil
		}
	}
	return nil, usage, &TransientProviderError{Provider: g.Name(), Err: ErrMalformedToolCall}
}
