package quote

import (
	"github.com/shopspring/decimal"

	"quote-bot/internal/catalog"
)

// Tier is the customer discount tier. Discounts are a fixed lookup, never
// a user-supplied percentage.
type Tier string

const (
	TierRetail  Tier = "retail"
	TierDealer  Tier = "dealer"
	TierProject Tier = "project"
	TierOEM     Tier = "oem"
)

var tierDiscounts = map[Tier]decimal.Decimal{
	TierRetail:  decimal.Zero,
	TierDealer:  decimal.NewFromFloat(0.05),
	TierProject: decimal.NewFromFloat(0.08),
	TierOEM:     decimal.NewFromFloat(0.12),
}

// DiscountFor returns the discount fraction for a tier.
func DiscountFor(t Tier) (decimal.Decimal, bool) {
	d, ok := tierDiscounts[t]
	return d, ok
}

// Loading and tax rates. FRLS and PVC loadings apply additively on the
// base price; GST applies once on the request total.
var (
	loadingFRLS = decimal.NewFromFloat(0.03)
	loadingPVC  = decimal.NewFromFloat(0.05)
	gstRate     = decimal.NewFromFloat(0.18)
)

// Conductor density in g/cm³, which is numerically kg per metre per
// 1000 mm² of cross-section.
var conductorDensity = map[catalog.Metal]decimal.Decimal{
	catalog.Copper:    decimal.NewFromFloat(8.96),
	catalog.Aluminium: decimal.NewFromFloat(2.70),
}

// armouredFactor covers the steel armour and heavier sheathing of
// armoured constructions; part of base price resolution, not a loading.
var armouredFactor = decimal.NewFromFloat(1.12)

// sizeClass buckets catalogue sizes for the multiplier table.
type sizeClass int

const (
	classSmall sizeClass = iota
	classMedium
	classLarge
)

// permittedSizes lists the catalogue sizes per conductor class. A size
// missing here is unresolvable and prices as a PricingError.
var permittedSizes = map[catalog.Kind]map[string]sizeClass{
	catalog.Power:       powerControlSizes,
	catalog.Control:     powerControlSizes,
	catalog.Flexible:    flexSizes,
	catalog.Submersible: submersibleSizes,
	catalog.Solar:       solarSizes,
}

var powerControlSizes = map[string]sizeClass{
	"1": classSmall, "1.5": classSmall, "2.5": classSmall, "4": classSmall, "6": classSmall,
	"10": classMedium, "16": classMedium, "25": classMedium, "35": classMedium, "50": classMedium,
	"70": classLarge, "95": classLarge, "120": classLarge, "150": classLarge,
	"185": classLarge, "240": classLarge, "300": classLarge, "400": classLarge,
}

var flexSizes = map[string]sizeClass{
	"0.5": classSmall, "0.75": classSmall, "1": classSmall, "1.5": classSmall, "2.5": classSmall,
	"4": classMedium, "6": classMedium, "10": classMedium,
}

var submersibleSizes = map[string]sizeClass{
	"1.5": classSmall, "2.5": classSmall, "4": classMedium, "6": classMedium,
	"10": classMedium, "16": classLarge, "25": classLarge,
}

var solarSizes = map[string]sizeClass{
	"4": classSmall, "6": classSmall, "10": classMedium, "16": classMedium,
}

// classMultipliers converts raw conductor metal value into a finished
// cable price. Smaller sizes carry proportionally more processing cost.
var classMultipliers = map[catalog.Kind]map[sizeClass]decimal.Decimal{
	catalog.Power: {
		classSmall:  decimal.NewFromFloat(2.8),
		classMedium: decimal.NewFromFloat(2.2),
		classLarge:  decimal.NewFromFloat(1.8),
	},
	catalog.Control: {
		classSmall:  decimal.NewFromFloat(3.0),
		classMedium: decimal.NewFromFloat(2.4),
		classLarge:  decimal.NewFromFloat(2.0),
	},
	catalog.Flexible: {
		classSmall:  decimal.NewFromFloat(3.2),
		classMedium: decimal.NewFromFloat(2.6),
		classLarge:  decimal.NewFromFloat(2.2),
	},
	catalog.Submersible: {
		classSmall:  decimal.NewFromFloat(3.4),
		classMedium: decimal.NewFromFloat(2.8),
		classLarge:  decimal.NewFromFloat(2.4),
	},
	catalog.Solar: {
		classSmall:  decimal.NewFromFloat(3.6),
		classMedium: decimal.NewFromFloat(3.0),
		classLarge:  decimal.NewFromFloat(2.6),
	},
}

// htFactor reflects the thicker insulation of HT rated constructions.
var htFactor = decimal.NewFromFloat(1.25)
