package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quote-bot/internal/catalog"
	"quote-bot/internal/metalprice"
	"quote-bot/internal/stock"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the slice of the repository the health and admin endpoints
// use.
type Store interface {
	Ping(ctx context.Context) error
	ApproveTelegramUser(ctx context.Context, telegramID string) (bool, error)
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Store  Store
	Prices *metalprice.Cache
	Stock  *stock.Bridge
}

// Server wraps an http.Server with predefined routes: health, metrics,
// the admin surface and the ERP stock agent websocket.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	deps       Dependencies
}

// New creates a new HTTP server listening on addr.
func New(addr string, logger *slog.Logger, deps Dependencies) *Server {
	server := &Server{
		logger: logger.With("component", "http"),
		deps:   deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/refresh-prices", server.handleRefreshPrices)
	mux.HandleFunc("/admin/approve", server.handleApprove)
	if deps.Stock != nil {
		mux.HandleFunc("/ws/erp", deps.Stock.HandleAgent)
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.logger.Warn("health check database ping failed", "error", err)
			code = http.StatusServiceUnavailable
			status["status"] = "degraded"
			status["database"] = "unreachable"
		}
	}
	if s.deps.Stock != nil && !s.deps.Stock.Connected() {
		status["stock_agent"] = "disconnected"
	}

	// The status line flushes the headers, so the content type has to
	// be set first.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("encode health response failed", "error", err)
	}
}

// handleRefreshPrices forces a spot price fetch for the named metal, or
// for all metals when none is given.
func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Prices == nil {
		http.Error(w, "price cache unavailable", http.StatusServiceUnavailable)
		return
	}

	metals := []catalog.Metal{catalog.Copper, catalog.Aluminium}
	if name := strings.TrimSpace(r.URL.Query().Get("metal")); name != "" {
		metal := catalog.Metal(strings.ToLower(name))
		if metal != catalog.Copper && metal != catalog.Aluminium {
			http.Error(w, "unknown metal", http.StatusBadRequest)
			return
		}
		metals = []catalog.Metal{metal}
	}

	result := make(map[string]any, len(metals))
	for _, metal := range metals {
		q, err := s.deps.Prices.Refresh(r.Context(), metal)
		if err != nil {
			s.logger.Error("price refresh failed", "metal", metal, "error", err)
			result[string(metal)] = map[string]string{"error": err.Error()}
			continue
		}
		result[string(metal)] = map[string]string{
			"price": q.Price.String(),
			"as_of": q.AsOf.Format(time.RFC3339),
		}
	}
	writeJSON(w, map[string]any{"status": "ok", "prices": result})
}

// handleApprove activates a pending Telegram user. This mirrors the
// admin /approve bot command for operators without Telegram access.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Store == nil {
		http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
		return
	}

	telegramID := strings.TrimSpace(r.URL.Query().Get("telegram_id"))
	if telegramID == "" {
		http.Error(w, "telegram_id query parameter is required", http.StatusBadRequest)
		return
	}

	ok, err := s.deps.Store.ApproveTelegramUser(r.Context(), telegramID)
	if err != nil {
		s.logger.Error("approval failed", "telegram_id", telegramID, "error", err)
		http.Error(w, "approval failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no pending user with that id", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "approved", "telegram_id": telegramID})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}
