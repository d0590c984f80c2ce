package quote

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quote-bot/internal/catalog"
)

func snapshot(cu, al float64) PriceSnapshot {
	return PriceSnapshot{
		Prices: map[catalog.Metal]decimal.Decimal{
			catalog.Copper:    decimal.NewFromFloat(cu),
			catalog.Aluminium: decimal.NewFromFloat(al),
		},
		AsOf: time.Now(),
	}
}

// Worked example: base 100.00, FRLS only (XLPE, no PVC), dealer tier 5%,
// quantity 10. Loaded 103.00, discounted 97.85, subtotal 978.50,
// grand total 978.50 × 1.18 = 1154.63.
func TestBuildLineWorkedExample(t *testing.T) {
	item := RequestItem{
		Product: catalog.Product{
			Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT,
			Cores: 4, SqMM: "2.5", Insulation: catalog.XLPE, FRLS: true,
		},
		Quantity: 10,
		Tier:     TierDealer,
	}

	line, err := BuildLine(decimal.NewFromInt(100), item)
	if err != nil {
		t.Fatalf("BuildLine: %v", err)
	}
	if got := line.LoadedUnit.StringFixed(2); got != "103.00" {
		t.Errorf("loaded unit = %s, want 103.00", got)
	}
	if got := line.UnitPrice.StringFixed(2); got != "97.85" {
		t.Errorf("unit price = %s, want 97.85", got)
	}
	if got := line.Subtotal.StringFixed(2); got != "978.50" {
		t.Errorf("subtotal = %s, want 978.50", got)
	}

	tax := line.Subtotal.Mul(decimal.NewFromFloat(0.18)).Round(2)
	if got := tax.StringFixed(2); got != "176.13" {
		t.Errorf("tax = %s, want 176.13", got)
	}
	grand := line.Subtotal.Mul(decimal.NewFromFloat(1.18)).Round(2)
	if got := grand.StringFixed(2); got != "1154.63" {
		t.Errorf("grand total = %s, want 1154.63", got)
	}
}

func TestLoadingsAreAdditiveOnBase(t *testing.T) {
	base := decimal.NewFromInt(200)
	item := RequestItem{
		Product: catalog.Product{
			Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT,
			Cores: 2, SqMM: "4", Insulation: catalog.PVC, FRLS: true,
		},
		Quantity: 1,
		Tier:     TierRetail,
	}

	line, err := BuildLine(base, item)
	if err != nil {
		t.Fatalf("BuildLine: %v", err)
	}
	// Additive: 200 × (1 + 0.03 + 0.05) = 216, not 200 × 1.03 × 1.05.
	if got := line.LoadedUnit.StringFixed(2); got != "216.00" {
		t.Errorf("loaded = %s, want 216.00 (additive loadings)", got)
	}
}

func TestLoadingsIndependentOfTier(t *testing.T) {
	base := decimal.NewFromInt(100)
	for _, tier := range []Tier{TierRetail, TierDealer, TierProject, TierOEM} {
		item := RequestItem{
			Product: catalog.Product{
				Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT,
				Cores: 2, SqMM: "4", FRLS: true,
			},
			Quantity: 1,
			Tier:     tier,
		}
		line, err := BuildLine(base, item)
		if err != nil {
			t.Fatalf("BuildLine(%s): %v", tier, err)
		}
		if got := line.LoadedUnit.StringFixed(2); got != "103.00" {
			t.Errorf("tier %s changed loaded price: %s", tier, got)
		}
	}
}

func TestBuildTotalsRoundOnce(t *testing.T) {
	req := Request{Items: []RequestItem{
		{
			Product:  catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 4, SqMM: "2.5"},
			Quantity: 100,
			Tier:     TierDealer,
		},
		{
			Product:  catalog.Product{Kind: catalog.Flexible, Conductor: catalog.Copper, Cores: 3, SqMM: "1.5", FRLS: true},
			Quantity: 250,
			Tier:     TierDealer,
		},
	}}

	q, err := Build(req, snapshot(800, 220))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(q.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(q.Lines))
	}

	// Grand total must equal the exact sum × 1.18, rounded once.
	exact := decimal.Zero
	for _, line := range q.Lines {
		exact = exact.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	want := exact.Mul(decimal.NewFromFloat(1.18)).Round(2)
	if !q.GrandTotal.Equal(want) {
		t.Errorf("grand total = %s, want %s", q.GrandTotal, want)
	}
	if !q.Tax.Equal(exact.Mul(decimal.NewFromFloat(0.18)).Round(2)) {
		t.Errorf("tax = %s not 18%% of exact subtotal", q.Tax)
	}
}

func TestBuildAllOrNothing(t *testing.T) {
	req := Request{Items: []RequestItem{
		{
			Product:  catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 4, SqMM: "2.5"},
			Quantity: 10,
			Tier:     TierDealer,
		},
		{
			// 7 sq. mm is not a catalogue size.
			Product:  catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 4, SqMM: "7"},
			Quantity: 10,
			Tier:     TierDealer,
		},
	}}

	_, err := Build(req, snapshot(800, 220))
	var pe *PricingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PricingError, got %v", err)
	}
	if pe.Line != 2 {
		t.Errorf("PricingError.Line = %d, want 2", pe.Line)
	}
}

func TestResolveBaseUsesSnapshotAndContent(t *testing.T) {
	p := catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 1, SqMM: "2.5"}
	base, err := ResolveBase(p, snapshot(1000, 220))
	if err != nil {
		t.Fatalf("ResolveBase: %v", err)
	}
	// 1000 × (2.5 × 1 × 8.96 / 1000) × 2.8 = 62.72
	if got := base.StringFixed(2); got != "62.72" {
		t.Errorf("base = %s, want 62.72", got)
	}
}

func TestResolveBaseMissingMetal(t *testing.T) {
	p := catalog.Product{Kind: catalog.Power, Conductor: catalog.Aluminium, Voltage: catalog.LT, Cores: 4, SqMM: "95"}
	snap := PriceSnapshot{Prices: map[catalog.Metal]decimal.Decimal{
		catalog.Copper: decimal.NewFromInt(800),
	}}
	if _, err := ResolveBase(p, snap); err == nil {
		t.Fatal("expected error for missing aluminium price")
	}
}

func TestBuildLineRejectsBadQuantityAndTier(t *testing.T) {
	p := catalog.Product{Kind: catalog.Power, Conductor: catalog.Copper, Voltage: catalog.LT, Cores: 4, SqMM: "2.5"}

	if _, err := BuildLine(decimal.NewFromInt(100), RequestItem{Product: p, Quantity: 0, Tier: TierRetail}); err == nil {
		t.Error("expected error for zero quantity")
	}
	if _, err := BuildLine(decimal.NewFromInt(100), RequestItem{Product: p, Quantity: 5, Tier: "wholesale"}); err == nil {
		t.Error("expected error for unknown tier")
	}
}
