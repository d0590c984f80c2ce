// Package telegram is a long-polling Bot API transport. The API surface
// used is small enough that raw HTTP calls beat carrying an SDK.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quote-bot/internal/repo"
	"quote-bot/internal/sequence"
)

const defaultAPIBase = "https://api.telegram.org"

// longPollSeconds is the getUpdates hold time.
const longPollSeconds = 30

// MessageHandler processes one inbound message and returns the reply
// text.
type MessageHandler interface {
	HandleMessage(ctx context.Context, platform, senderID, text string) (string, error)
}

// AdminStore is the slice of the repository the admin commands need.
type AdminStore interface {
	ApproveTelegramUser(ctx context.Context, telegramID string) (bool, error)
	ListPendingUsers(ctx context.Context) ([]repo.User, error)
}

// Config holds bot configuration.
type Config struct {
	Token   string
	AdminID string
	BaseURL string
	Timeout time.Duration
}

// Bot long-polls getUpdates and routes messages to the handler. The
// configured admin may approve pending users with /approve.
type Bot struct {
	logger  *slog.Logger
	token   string
	adminID string
	baseURL string
	http    *http.Client
	handler MessageHandler
	store   AdminStore
	seq     *sequence.Queue
	offset  int64
}

func New(cfg Config, store AdminStore, handler MessageHandler, logger *slog.Logger) *Bot {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = (longPollSeconds + 15) * time.Second
	}
	return &Bot{
		logger:  logger.With("component", "telegram"),
		token:   cfg.Token,
		adminID: cfg.AdminID,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		handler: handler,
		store:   store,
		seq:     sequence.NewQueue(),
	}
}

type update struct {
	UpdateID int64          `json:"update_id"`
	Message  *updateMessage `json:"message"`
}

type updateMessage struct {
	MessageID int64       `json:"message_id"`
	From      *updateFrom `json:"from"`
	Chat      *updateChat `json:"chat"`
	Text      string      `json:"text"`
}

type updateFrom struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
}

type updateChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Run polls until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram bot polling")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("getUpdates failed", "error", err)
			time.Sleep(3 * time.Second)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= b.offset {
				b.offset = upd.UpdateID + 1
			}
			b.dispatch(ctx, upd)
		}
	}
}

// dispatch hands the update to a goroutine after reserving the sender's
// processing slot on the poll loop, so a sender's updates keep their
// batch order regardless of goroutine scheduling.
func (b *Bot) dispatch(ctx context.Context, upd update) {
	var key string
	if upd.Message != nil && upd.Message.From != nil {
		key = strconv.FormatInt(upd.Message.From.ID, 10)
	}
	start, release := b.seq.Reserve(key)
	go func() {
		start()
		defer release()
		b.handleUpdate(ctx, upd)
	}()
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d", b.baseURL, b.token, longPollSeconds, b.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var out struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram API returned ok=false (status %d)", res.StatusCode)
	}
	return out.Result, nil
}

func (b *Bot) handleUpdate(ctx context.Context, upd update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return
	}
	if msg.Chat.Type != "private" {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)

	var response string
	if strings.HasPrefix(text, "/") {
		response = b.handleCommand(ctx, senderID, text)
	} else {
		var err error
		response, err = b.handler.HandleMessage(ctx, repo.PlatformTelegram, senderID, text)
		if err != nil {
			b.logger.Error("message handling failed", "from", senderID, "error", err)
			return
		}
	}
	if response == "" {
		return
	}

	if err := b.SendMessage(ctx, msg.Chat.ID, response, msg.MessageID); err != nil {
		b.logger.Error("send reply failed", "chat", msg.Chat.ID, "error", err)
	}
}

// handleCommand serves the admin surface. Non-admin senders get a flat
// refusal for every command.
func (b *Bot) handleCommand(ctx context.Context, senderID, text string) string {
	fields := strings.Fields(text)
	command := fields[0]

	if command == "/start" {
		return "Send me a query: quotations, current rates, stock or metal prices."
	}

	if senderID != b.adminID {
		return "You are not authorised to use commands."
	}

	switch command {
	case "/approve":
		if len(fields) != 2 {
			return "Usage: /approve <telegram_id>"
		}
		ok, err := b.store.ApproveTelegramUser(ctx, fields[1])
		if err != nil {
			b.logger.Error("approve failed", "target", fields[1], "error", err)
			return "Approval failed, see logs."
		}
		if !ok {
			return "No pending user with that id."
		}
		return "User " + fields[1] + " approved."

	case "/pending":
		users, err := b.store.ListPendingUsers(ctx)
		if err != nil {
			b.logger.Error("list pending failed", "error", err)
			return "Lookup failed, see logs."
		}
		if len(users) == 0 {
			return "No users awaiting approval."
		}
		var sb strings.Builder
		sb.WriteString("Pending users:\n")
		for _, u := range users {
			if u.TelegramID != nil {
				fmt.Fprintf(&sb, "- %s (since %s)\n", *u.TelegramID, u.CreatedAt.Format("02 Jan 15:04"))
			}
		}
		return sb.String()

	default:
		return "Unknown command."
	}
}

// SendMessage posts a sendMessage call, replying to the given message
// id when non-zero.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyTo > 0 {
		payload["reply_to_message_id"] = replyTo
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: status %d", res.StatusCode)
	}
	return nil
}
