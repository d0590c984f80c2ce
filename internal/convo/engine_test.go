package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quote-bot/internal/catalog"
	"quote-bot/internal/ledger"
	"quote-bot/internal/llm"
	"quote-bot/internal/quote"
	"quote-bot/internal/repo"
	"quote-bot/internal/stock"
)

type finishedSession struct {
	session repo.QuerySession
	events  []repo.CostEvent
	message *repo.ConversationMessage
}

type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]*repo.User
	nextConv  int
	finished  []finishedSession
	finishErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*repo.User)}
}

func (f *fakeRepo) GetUserByPhone(_ context.Context, phone string) (*repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users["wa:"+phone], nil
}

func (f *fakeRepo) GetUserByTelegram(_ context.Context, id string) (*repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users["tg:"+id], nil
}

func (f *fakeRepo) CreatePendingTelegramUser(_ context.Context, id string) (*repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &repo.User{ID: "user-tg-" + id, TelegramID: &id, Status: repo.StatusPendingApproval, Platform: repo.PlatformTelegram}
	f.users["tg:"+id] = u
	return u, nil
}

func (f *fakeRepo) CreateActiveWhatsAppUser(_ context.Context, phone string) (*repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &repo.User{ID: "user-wa-" + phone, PhoneNumber: &phone, Status: repo.StatusActive, Platform: repo.PlatformWhatsApp}
	f.users["wa:"+phone] = u
	return u, nil
}

func (f *fakeRepo) ApproveTelegramUser(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users["tg:"+id]
	if u == nil || u.Status != repo.StatusPendingApproval {
		return false, nil
	}
	u.Status = repo.StatusActive
	return true, nil
}

func (f *fakeRepo) ListPendingUsers(context.Context) ([]repo.User, error) { return nil, nil }

func (f *fakeRepo) RecentConversation(context.Context, string, int) (*repo.Conversation, []repo.ConversationMessage, error) {
	return nil, nil, nil
}

func (f *fakeRepo) CreateConversation(_ context.Context, userID string) (*repo.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextConv++
	return &repo.Conversation{ID: fmt.Sprintf("conv-%d", f.nextConv), UserID: userID}, nil
}

func (f *fakeRepo) FinishSession(_ context.Context, s repo.QuerySession, events []repo.CostEvent, m *repo.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return f.finishErr
	}
	f.finished = append(f.finished, finishedSession{session: s, events: events, message: m})
	return nil
}

func (f *fakeRepo) SessionCostTotal(_ context.Context, sessionID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, fin := range f.finished {
		if fin.session.ID != sessionID {
			continue
		}
		for _, ev := range fin.events {
			total = total.Add(ev.CostAmount)
		}
	}
	return total, nil
}

func (f *fakeRepo) CurrentRates(context.Context) ([]repo.CostRate, error) { return nil, nil }
func (f *fakeRepo) Ping(context.Context) error                           { return nil }

func (f *fakeRepo) lastFinished(t *testing.T) finishedSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finished) == 0 {
		t.Fatal("no session was written")
	}
	return f.finished[len(f.finished)-1]
}

type fakeResolver struct {
	intent     *llm.Intent
	err        error
	billFailed bool
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, _ []llm.Turn, bill *ledger.Bill) (*llm.Intent, error) {
	if f.billFailed {
		bill.AddFailedCall("anthropic", nil)
	}
	return f.intent, f.err
}

type fakePrices struct {
	snap quote.PriceSnapshot
	err  error
}

func (f *fakePrices) Snapshot(context.Context, ...catalog.Metal) (quote.PriceSnapshot, error) {
	return f.snap, f.err
}

type fakeStock struct {
	info string
	err  error
}

func (f *fakeStock) Lookup(context.Context, string) (string, error) { return f.info, f.err }

func testRates() *ledger.RateTable {
	now := time.Now()
	return ledger.NewRateTable([]repo.CostRate{
		{ServiceProvider: "anthropic", CostType: "failed_call", UnitCost: decimal.RequireFromString("0.001"), UnitType: "call", EffectiveFrom: now},
		{ServiceProvider: "whatsapp", CostType: "outbound_message", UnitCost: decimal.RequireFromString("0.005"), UnitType: "message", EffectiveFrom: now},
		{ServiceProvider: "telegram", CostType: "outbound_message", UnitCost: decimal.Zero, UnitType: "message", EffectiveFrom: now},
	})
}

func testSnapshot() quote.PriceSnapshot {
	return quote.PriceSnapshot{
		Prices: map[catalog.Metal]decimal.Decimal{
			catalog.Copper:    decimal.NewFromInt(900),
			catalog.Aluminium: decimal.NewFromInt(260),
		},
		AsOf: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(r repo.Repository, resolver IntentResolver, prices PriceSource, st StockLookup) *Engine {
	return NewEngine(Config{
		Repo:     r,
		Resolver: resolver,
		Prices:   prices,
		Stock:    st,
		Rates:    testRates(),
	}, slog.Default(), nil)
}

func TestHandleMessageQuotationFlow(t *testing.T) {
	r := newFakeRepo()
	resolver := &fakeResolver{intent: &llm.Intent{
		Kind: llm.IntentGetQuotation,
		Quotation: &llm.QuotationArgs{Items: []llm.QuoteItemArgs{{
			Product:  catalog.Product{Kind: catalog.Power, Conductor: catalog.Aluminium, Voltage: catalog.LT, Cores: 4, SqMM: "240"},
			Quantity: 100,
			Tier:     "dealer",
		}}},
	}}
	e := newTestEngine(r, resolver, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, "919812345678", "quote 100m 4C 240 AL")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(resp, "Grand Total") || !strings.Contains(resp, "GST (18%)") {
		t.Errorf("response missing totals:\n%s", resp)
	}

	fin := r.lastFinished(t)
	if fin.session.QueryType != string(llm.IntentGetQuotation) || fin.session.ResponseType != "quotation" {
		t.Errorf("session = %s/%s", fin.session.QueryType, fin.session.ResponseType)
	}
	if fin.message == nil || fin.message.ResponseText != resp {
		t.Error("conversation message not written with response text")
	}

	sum := decimal.Zero
	for _, ev := range fin.events {
		sum = sum.Add(ev.CostAmount)
	}
	if !fin.session.TotalCost.Equal(sum) {
		t.Errorf("total_cost %s != event sum %s", fin.session.TotalCost, sum)
	}
}

func TestTelegramFirstContactIsPending(t *testing.T) {
	r := newFakeRepo()
	e := newTestEngine(r, &fakeResolver{}, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformTelegram, "555001", "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if resp != msgPendingApproval {
		t.Errorf("resp = %q", resp)
	}

	fin := r.lastFinished(t)
	if fin.session.ResponseType != "refusal" {
		t.Errorf("response_type = %s", fin.session.ResponseType)
	}
	if fin.message != nil {
		t.Error("refusal must not append conversation context")
	}

	u, _ := r.GetUserByTelegram(context.Background(), "555001")
	if u == nil || u.Status != repo.StatusPendingApproval {
		t.Errorf("user = %+v", u)
	}
}

func TestSuspendedUserRefused(t *testing.T) {
	r := newFakeRepo()
	phone := "919800000000"
	r.users["wa:"+phone] = &repo.User{ID: "u1", PhoneNumber: &phone, Status: repo.StatusSuspended, Platform: repo.PlatformWhatsApp}
	e := newTestEngine(r, &fakeResolver{}, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, phone, "quote please")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if resp != msgSuspended {
		t.Errorf("resp = %q", resp)
	}

	// The refusal still goes out on the wire: one outbound message
	// event at the platform rate, reconciled into the session total.
	fin := r.lastFinished(t)
	if len(fin.events) != 1 || fin.events[0].EventType != ledger.EventOutboundMessage {
		t.Fatalf("events = %+v, want one outbound_message", fin.events)
	}
	if want := decimal.RequireFromString("0.005"); !fin.session.TotalCost.Equal(want) {
		t.Errorf("total_cost = %s, want %s", fin.session.TotalCost, want)
	}
}

func TestErroredSessionKeepsAccruedCost(t *testing.T) {
	r := newFakeRepo()
	resolver := &fakeResolver{err: fmt.Errorf("%w: both providers down", llm.ErrIntentResolutionFailed), billFailed: true}
	e := newTestEngine(r, resolver, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, "919811111111", "gibberish")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if resp != msgRephrase {
		t.Errorf("resp = %q", resp)
	}

	fin := r.lastFinished(t)
	if fin.session.ErrorMessage == nil {
		t.Fatal("error_message not set")
	}
	if fin.session.TotalCost.IsZero() {
		t.Error("accrued cost was lost on the errored path")
	}
}

func TestValidationErrorAsksForClarification(t *testing.T) {
	r := newFakeRepo()
	resolver := &fakeResolver{err: &llm.ValidationError{Reason: "item 1: quantity must be a positive integer"}}
	e := newTestEngine(r, resolver, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, "919822222222", "quote cable")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(resp, "quantity must be a positive integer") {
		t.Errorf("clarification does not name the problem: %q", resp)
	}

	fin := r.lastFinished(t)
	if fin.session.ResponseType != "clarification" {
		t.Errorf("response_type = %s", fin.session.ResponseType)
	}
}

func TestStockUnavailableIsUserVisible(t *testing.T) {
	r := newFakeRepo()
	resolver := &fakeResolver{intent: &llm.Intent{Kind: llm.IntentGetStock, Stock: &llm.StockArgs{Query: "4 C x 2.5"}}}
	e := newTestEngine(r, resolver, &fakePrices{snap: testSnapshot()}, &fakeStock{err: stock.ErrUnavailable})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, "919833333333", "stock of 4 core 2.5?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if resp != msgStockUnavailable {
		t.Errorf("resp = %q", resp)
	}
	fin := r.lastFinished(t)
	if fin.session.ResponseType != "unavailable" {
		t.Errorf("response_type = %s", fin.session.ResponseType)
	}
}

func TestPricingFailureNamesTheLine(t *testing.T) {
	r := newFakeRepo()
	resolver := &fakeResolver{intent: &llm.Intent{
		Kind: llm.IntentGetQuotation,
		Quotation: &llm.QuotationArgs{Items: []llm.QuoteItemArgs{{
			Product:  catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 3, SqMM: "7"},
			Quantity: 50,
			Tier:     "retail",
		}}},
	}}
	e := newTestEngine(r, resolver, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, "919844444444", "quote 3C 7sqmm")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(resp, "line 1") {
		t.Errorf("pricing failure does not name the line: %q", resp)
	}
	fin := r.lastFinished(t)
	if fin.session.ResponseType != "pricing_failed" {
		t.Errorf("response_type = %s", fin.session.ResponseType)
	}
}

func TestPricesOnlyFlow(t *testing.T) {
	r := newFakeRepo()
	resolver := &fakeResolver{intent: &llm.Intent{
		Kind: llm.IntentGetPricesOnly,
		Quotation: &llm.QuotationArgs{Items: []llm.QuoteItemArgs{{
			Product:  catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 3, SqMM: "2.5"},
			Quantity: 1,
			Tier:     "retail",
		}}},
	}}
	e := newTestEngine(r, resolver, &fakePrices{snap: testSnapshot()}, &fakeStock{})

	resp, err := e.HandleMessage(context.Background(), repo.PlatformWhatsApp, "919855555555", "rate for 3C 2.5?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(resp, "Rates exclude GST") {
		t.Errorf("rate reply carries no GST disclaimer:\n%s", resp)
	}
	if strings.Contains(resp, "Grand Total") {
		t.Errorf("rate reply must not total up:\n%s", resp)
	}
	fin := r.lastFinished(t)
	if fin.session.QueryType != string(llm.IntentGetPricesOnly) || fin.session.ResponseType != "prices" {
		t.Errorf("session = %s/%s", fin.session.QueryType, fin.session.ResponseType)
	}
}
