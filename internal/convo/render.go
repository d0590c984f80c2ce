package convo

import (
	"fmt"
	"strings"
	"time"

	"quote-bot/internal/catalog"
	"quote-bot/internal/quote"
)

// istZone is the timezone quoted prices and timestamps are presented in.
var istZone = time.FixedZone("IST", 5*3600+30*60)

var (
	metalOrder  = []catalog.Metal{catalog.Copper, catalog.Aluminium}
	metalLabels = map[catalog.Metal]string{
		catalog.Copper:    "Copper",
		catalog.Aluminium: "Aluminium",
	}
)

const (
	msgPendingApproval  = "Your account is awaiting approval. You will be notified once an administrator activates it."
	msgSuspended        = "Your account is suspended. Please contact the administrator."
	msgRephrase         = "Sorry, I could not understand that request. Please rephrase it."
	msgStockUnavailable = "Stock information is temporarily unavailable. Please try again in a few minutes."
	msgPriceUnavailable = "Metal prices are temporarily unavailable. Please try again in a few minutes."
)

func renderQuotation(q *quote.Quotation) string {
	var b strings.Builder
	b.WriteString("*Quotation*\n")
	for i, line := range q.Lines {
		fmt.Fprintf(&b, "%d. %s\n   %d m x Rs %s/m = Rs %s\n",
			i+1, line.Product.Describe(), line.Quantity, line.UnitPrice.StringFixed(2), line.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: Rs %s\n", q.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "GST (18%%): Rs %s\n", q.Tax.StringFixed(2))
	fmt.Fprintf(&b, "*Grand Total: Rs %s*\n", q.GrandTotal.StringFixed(2))
	fmt.Fprintf(&b, "\nPrices as of %s", q.PriceAsOf.In(istZone).Format("02 Jan 2006 15:04 IST"))
	return b.String()
}

func renderPriceOnly(lines []quote.Line, asOf time.Time) string {
	var b strings.Builder
	b.WriteString("*Current Rates*\n")
	for i, line := range lines {
		fmt.Fprintf(&b, "%d. %s: Rs %s/m\n", i+1, line.Product.Brief(), line.UnitPrice.StringFixed(2))
	}
	b.WriteString("\nRates exclude GST. ")
	fmt.Fprintf(&b, "As of %s", asOf.In(istZone).Format("02 Jan 2006 15:04 IST"))
	return b.String()
}

func renderMetalPrices(snap quote.PriceSnapshot) string {
	var b strings.Builder
	b.WriteString("*MCX Spot Prices*\n")
	for _, metal := range metalOrder {
		if price, ok := snap.Prices[metal]; ok {
			fmt.Fprintf(&b, "%s: Rs %s/kg\n", metalLabels[metal], price.StringFixed(2))
		}
	}
	fmt.Fprintf(&b, "\nAs of %s", snap.AsOf.In(istZone).Format("02 Jan 2006 15:04 IST"))
	return b.String()
}

func renderClarification(reason string) string {
	return "I could not process that request: " + reason + "\nPlease restate it with the missing details."
}

func renderPricingFailure(err *quote.PricingError) string {
	return fmt.Sprintf("I could not price line %d (%s): %s\nPlease check the item and try again.",
		err.Line, err.Product, err.Reason)
}
