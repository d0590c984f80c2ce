// Package quote implements the pricing engine. It is pure computation:
// callers pass in a spot-price snapshot and get back a fully priced,
// taxed quotation or an error. No I/O happens here.
package quote

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quote-bot/internal/catalog"
)

// PriceSnapshot carries the metal spot prices (Rs per kg) the engine
// prices against. The coordinator obtains it from the price cache.
type PriceSnapshot struct {
	Prices map[catalog.Metal]decimal.Decimal
	AsOf   time.Time
}

// RequestItem is one line of a quotation request.
type RequestItem struct {
	Product  catalog.Product
	Quantity int
	Tier     Tier
}

// Request is a full quotation request.
type Request struct {
	Items []RequestItem
}

// Line is one priced line of a quotation.
type Line struct {
	Product    catalog.Product
	Quantity   int
	BaseUnit   decimal.Decimal
	LoadedUnit decimal.Decimal
	UnitPrice  decimal.Decimal
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
}

// Quotation is the priced and taxed result for a request.
type Quotation struct {
	Lines      []Line
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	GrandTotal decimal.Decimal
	PriceAsOf  time.Time
}

// PricingError reports the first line that could not be priced. The
// engine never returns a partial quotation.
type PricingError struct {
	Line    int
	Product string
	Reason  string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("line %d (%s): %s", e.Line, e.Product, e.Reason)
}

// Build prices every line of the request against the snapshot. Either
// all lines price successfully or the whole request fails.
func Build(req Request, snap PriceSnapshot) (*Quotation, error) {
	if len(req.Items) == 0 {
		return nil, &PricingError{Line: 0, Product: "", Reason: "empty request"}
	}

	q := &Quotation{PriceAsOf: snap.AsOf}
	running := decimal.Zero

	for i, item := range req.Items {
		base, err := ResolveBase(item.Product, snap)
		if err != nil {
			return nil, &PricingError{Line: i + 1, Product: item.Product.Brief(), Reason: err.Error()}
		}
		line, err := BuildLine(base, item)
		if err != nil {
			return nil, &PricingError{Line: i + 1, Product: item.Product.Brief(), Reason: err.Error()}
		}
		running = running.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		q.Lines = append(q.Lines, line)
	}

	// Tax and grand total round once on the accumulated exact sum,
	// not per line.
	q.Subtotal = round2(running)
	q.Tax = round2(running.Mul(gstRate))
	q.GrandTotal = round2(running.Add(running.Mul(gstRate)))
	return q, nil
}

// PriceOnly prices lines without tax, for rate enquiries.
func PriceOnly(req Request, snap PriceSnapshot) ([]Line, error) {
	quotation, err := Build(req, snap)
	if err != nil {
		return nil, err
	}
	return quotation.Lines, nil
}

// BuildLine runs the fixed pricing pipeline for one line from a resolved
// base unit price: base → additive loadings → tier discount → quantity.
func BuildLine(base decimal.Decimal, item RequestItem) (Line, error) {
	if item.Quantity <= 0 {
		return Line{}, fmt.Errorf("quantity must be positive, got %d", item.Quantity)
	}
	discount, ok := DiscountFor(item.Tier)
	if !ok {
		return Line{}, fmt.Errorf("unknown discount tier %q", item.Tier)
	}

	loading := decimal.Zero
	if item.Product.FRLS {
		loading = loading.Add(loadingFRLS)
	}
	if item.Product.Insulation == catalog.PVC {
		loading = loading.Add(loadingPVC)
	}

	loaded := base.Add(base.Mul(loading))
	unit := loaded.Mul(decimal.NewFromInt(1).Sub(discount))
	subtotal := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))

	return Line{
		Product:    item.Product,
		Quantity:   item.Quantity,
		BaseUnit:   base,
		LoadedUnit: loaded,
		UnitPrice:  unit,
		Subtotal:   round2(subtotal),
		Discount:   discount,
	}, nil
}

// ResolveBase computes the base unit price for a product: metal spot
// price × conductor content per metre × size-class multiplier, with the
// HT and armoured construction factors folded in.
func ResolveBase(p catalog.Product, snap PriceSnapshot) (decimal.Decimal, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return decimal.Zero, err
	}

	spot, ok := snap.Prices[p.Conductor]
	if !ok {
		return decimal.Zero, fmt.Errorf("no spot price for %s", p.Conductor)
	}

	sizes, ok := permittedSizes[p.Kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price table for kind %q", p.Kind)
	}
	class, ok := sizes[p.SqMM]
	if !ok {
		return decimal.Zero, fmt.Errorf("size %s sq. mm not in %s catalogue", p.SqMM, p.Kind)
	}

	sqmm, err := decimal.NewFromString(p.SqMM)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad size %q: %w", p.SqMM, err)
	}

	// kg of conductor per metre: area × cores × density / 1000.
	content := sqmm.
		Mul(decimal.NewFromInt(int64(p.Cores))).
		Mul(conductorDensity[p.Conductor]).
		Div(decimal.NewFromInt(1000))

	base := spot.Mul(content).Mul(classMultipliers[p.Kind][class])
	if p.Voltage == catalog.HT {
		base = base.Mul(htFactor)
	}
	if p.Armoured {
		base = base.Mul(armouredFactor)
	}
	return base, nil
}

// round2 rounds to the currency minor unit, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
