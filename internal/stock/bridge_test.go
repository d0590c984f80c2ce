package stock

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeAgent dials the bridge and answers each request via the supplied
// reply function. A nil reply means stay silent.
func fakeAgent(t *testing.T, b *Bridge, reply func(req stockRequest) *stockResponse) *websocket.Conn {
	t.Helper()
	ws := httptest.NewServer(http.HandlerFunc(b.HandleAgent))
	t.Cleanup(ws.Close)

	url := "ws" + strings.TrimPrefix(ws.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req stockRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				continue
			}
			if reply == nil {
				continue
			}
			res := reply(req)
			if res == nil {
				continue
			}
			frame, _ := json.Marshal(res)
			conn.WriteMessage(websocket.TextMessage, frame)
		}
	}()

	// Wait for the bridge to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for !b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("agent never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestLookupUnavailableWithoutAgent(t *testing.T) {
	b := New(time.Second, slog.Default(), nil)
	_, err := b.Lookup(context.Background(), "4 C x 2.5")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	b := New(2*time.Second, slog.Default(), nil)
	fakeAgent(t, b, func(req stockRequest) *stockResponse {
		return &stockResponse{ID: req.ID, StockInfo: "In stock: 1200 m"}
	})

	info, err := b.Lookup(context.Background(), "4 C x 2.5 2XWYL")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info != "In stock: 1200 m" {
		t.Errorf("info = %q", info)
	}
}

func TestLookupTimesOut(t *testing.T) {
	b := New(50*time.Millisecond, slog.Default(), nil)
	fakeAgent(t, b, nil)

	_, err := b.Lookup(context.Background(), "anything")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestLookupAgentErrorIsUnavailable(t *testing.T) {
	b := New(2*time.Second, slog.Default(), nil)
	fakeAgent(t, b, func(req stockRequest) *stockResponse {
		msg := "tally offline"
		return &stockResponse{ID: req.ID, Error: &msg}
	})

	_, err := b.Lookup(context.Background(), "anything")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestLateResponseIsDropped(t *testing.T) {
	b := New(30*time.Millisecond, slog.Default(), nil)
	fakeAgent(t, b, func(req stockRequest) *stockResponse {
		time.Sleep(100 * time.Millisecond)
		return &stockResponse{ID: req.ID, StockInfo: "too late"}
	})

	_, err := b.Lookup(context.Background(), "anything")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want timeout ErrUnavailable", err)
	}
	// The late frame must not panic or leak; give it time to arrive.
	time.Sleep(150 * time.Millisecond)
}
