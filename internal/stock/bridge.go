// Package stock bridges user stock queries to the Tally ERP agent. The
// agent dials in over websocket and stays connected; lookups are
// correlated request/response frames with a per-request timeout.
package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quote-bot/internal/metrics"
)

// ErrUnavailable means the ERP agent is not connected or did not answer
// in time. The coordinator surfaces it as "temporarily unavailable",
// never as a fatal error.
var ErrUnavailable = errors.New("stock service unavailable")

type stockRequest struct {
	ID    string `json:"id"`
	Query string `json:"query"`
}

type stockResponse struct {
	ID        string  `json:"id"`
	StockInfo string  `json:"stock_info"`
	Error     *string `json:"error"`
}

type pendingResult struct {
	info string
	err  error
}

// Bridge owns the single agent connection and the pending-request map.
type Bridge struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan pendingResult
}

func New(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{
		logger:  logger.With("component", "stock"),
		metrics: m,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		pending: make(map[string]chan pendingResult),
	}
}

// Lookup sends the query to the connected agent and waits for the
// correlated response. The in-flight frame is abandoned on timeout; a
// late response finds no pending entry and is dropped.
func (b *Bridge) Lookup(ctx context.Context, query string) (string, error) {
	id := uuid.NewString()
	ch := make(chan pendingResult, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		b.observe("unavailable")
		return "", fmt.Errorf("%w: agent not connected", ErrUnavailable)
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	frame, err := json.Marshal(stockRequest{ID: id, Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal stock request: %w", err)
	}

	b.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	b.writeMu.Unlock()
	if err != nil {
		b.observe("error")
		return "", fmt.Errorf("%w: write failed: %v", ErrUnavailable, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			b.observe("error")
			return "", res.err
		}
		b.observe("ok")
		return res.info, nil
	case <-timer.C:
		b.observe("timeout")
		return "", fmt.Errorf("%w: request timed out", ErrUnavailable)
	case <-ctx.Done():
		b.observe("cancelled")
		return "", ctx.Err()
	}
}

// HandleAgent upgrades the ERP agent's connection and pumps responses
// back to waiting lookups. A new connection replaces the previous one.
func (b *Bridge) HandleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("agent upgrade failed", "error", err)
		return
	}
	b.logger.Info("erp agent connected", "remote", conn.RemoteAddr().String())

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop(conn)
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		b.logger.Info("erp agent disconnected")
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn("agent read error", "error", err)
			}
			return
		}
		b.deliver(payload)
	}
}

func (b *Bridge) deliver(payload []byte) {
	var res stockResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		b.logger.Warn("unparseable agent frame", "error", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[res.ID]
	if ok {
		delete(b.pending, res.ID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	if res.Error != nil {
		ch <- pendingResult{err: fmt.Errorf("%w: %s", ErrUnavailable, *res.Error)}
		return
	}
	ch <- pendingResult{info: res.StockInfo}
}

// Connected reports whether an agent is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) observe(status string) {
	if b.metrics != nil {
		b.metrics.StockLookups.WithLabelValues(status).Inc()
	}
}
