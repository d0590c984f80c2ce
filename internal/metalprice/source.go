package metalprice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quote-bot/internal/catalog"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// commodityValue matches the quoted value element on the commodity page.
var commodityValue = regexp.MustCompile(`commodity-page__value[^>]*>\s*([^<]+)<`)

// HTTPSource scrapes spot prices from per-metal commodity pages.
type HTTPSource struct {
	urls   map[catalog.Metal]string
	client *http.Client
}

// NewHTTPSource builds a source for the configured metal price URLs.
func NewHTTPSource(copperURL, aluminiumURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		urls: map[catalog.Metal]string{
			catalog.Copper:    copperURL,
			catalog.Aluminium: aluminiumURL,
		},
		client: &http.Client{Timeout: timeout},
	}
}

// FetchSpotPrice downloads the commodity page and extracts the quoted
// price in Rs per kg.
func (s *HTTPSource) FetchSpotPrice(ctx context.Context, metal catalog.Metal) (decimal.Decimal, error) {
	url, ok := s.urls[metal]
	if !ok || url == "" {
		return decimal.Zero, fmt.Errorf("no price url configured for %s", metal)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch %s price: %w", metal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch %s price: unexpected status %d", metal, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price page: %w", err)
	}

	return ParsePricePage(body, metal)
}

// ParsePricePage extracts the spot price value from a commodity page.
func ParsePricePage(body []byte, metal catalog.Metal) (decimal.Decimal, error) {
	match := commodityValue.FindSubmatch(body)
	if match == nil {
		return decimal.Zero, fmt.Errorf("price value not found on %s page", metal)
	}

	raw := strings.TrimSpace(string(match[1]))
	raw = strings.ReplaceAll(raw, "₹", "")
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.TrimSpace(raw)

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s price %q: %w", metal, raw, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive %s price %s", metal, price)
	}
	return price, nil
}
