package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultCoinGeckoEndpoint   = "https://api.coingecko.com/api/v3/simple/price"
	defaultNowPaymentsEndpoint = "https://api.nowpayments.io/v1/exchange/rates"
	errorBodyLimit             = 512
)

// upstream holds what every HTTP-backed source needs to issue a request.
type upstream struct {
	name      string
	client    HTTPDoer
	endpoint  string
	apiKey    string
	keyHeader string
}

func newUpstream(name string, client HTTPDoer, endpoint, fallback, apiKey, keyHeader string) upstream {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = fallback
	}
	if client == nil {
		client = http.DefaultClient
	}
	return upstream{name: name, client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey), keyHeader: keyHeader}
}

// getJSON issues a GET with query and decodes a 200 response into out.
func (u upstream) getJSON(ctx context.Context, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s oracle: build request: %w", u.name, err)
	}
	req.URL.RawQuery = query.Encode()
	if u.apiKey != "" {
		req.Header.Set(u.keyHeader, u.apiKey)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s oracle: %w", u.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("%s oracle: status %d: %s", u.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%s oracle: decode: %w", u.name, err)
	}
	return nil
}

// positiveRate parses a decimal rate string as reported by a price API.
func (u upstream) positiveRate(raw string) (*big.Rat, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return nil, fmt.Errorf("%s oracle: invalid rate %q", u.name, raw)
	}
	return d.Rat(), nil
}

// CoinGeckoOracle reads the CoinGecko simple price API. The pair base is the
// priced coin and the quote is the fiat currency.
type CoinGeckoOracle struct {
	upstream
	ids map[string]string
	now func() time.Time
}

// NewCoinGeckoOracle builds the adapter. ids maps coin symbols to CoinGecko
// identifiers, e.g. ETH to "ethereum". Unmapped symbols are lowercased.
func NewCoinGeckoOracle(client HTTPDoer, endpoint, apiKey string, ids map[string]string) *CoinGeckoOracle {
	mapped := make(map[string]string, len(ids))
	for symbol, id := range ids {
		mapped[normaliseSymbol(symbol)] = strings.TrimSpace(id)
	}
	return &CoinGeckoOracle{
		upstream: newUpstream("coingecko", client, endpoint, defaultCoinGeckoEndpoint, apiKey, "x-cg-demo-api-key"),
		ids:      mapped,
		now:      time.Now,
	}
}

func (o *CoinGeckoOracle) coinID(symbol string) string {
	if id := o.ids[normaliseSymbol(symbol)]; id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// GetRate implements PriceOracle. The quote carries CoinGecko's
// last_updated_at when present, otherwise the fetch time.
func (o *CoinGeckoOracle) GetRate(ctx context.Context, base, quote string) (PriceQuote, error) {
	id := o.coinID(base)
	vs := strings.ToLower(normaliseSymbol(quote))
	if id == "" || vs == "" {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: base and quote required")
	}
	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", vs)
	query.Set("include_last_updated_at", "true")

	var payload map[string]map[string]json.Number
	if err := o.getJSON(ctx, query, &payload); err != nil {
		return PriceQuote{}, err
	}
	entry, ok := payload[id]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: no price for %s", base)
	}
	rate, err := o.positiveRate(entry[vs].String())
	if err != nil {
		return PriceQuote{}, err
	}
	observed := o.now().UTC()
	if secs, err := strconv.ParseInt(entry["last_updated_at"].String(), 10, 64); err == nil && secs > 0 {
		observed = time.Unix(secs, 0).UTC()
	}
	return PriceQuote{Rate: rate, Timestamp: observed, Source: o.name}, nil
}

// NowPaymentsOracle reads the NOWPayments exchange rate endpoint.
type NowPaymentsOracle struct {
	upstream
}

// NewNowPaymentsOracle builds the adapter. The API key header is only sent
// when a key is configured.
func NewNowPaymentsOracle(client HTTPDoer, endpoint, apiKey string) *NowPaymentsOracle {
	return &NowPaymentsOracle{
		upstream: newUpstream("nowpayments", client, endpoint, defaultNowPaymentsEndpoint, apiKey, "x-api-key"),
	}
}

// GetRate implements PriceOracle.
func (o *NowPaymentsOracle) GetRate(ctx context.Context, base, quote string) (PriceQuote, error) {
	query := url.Values{}
	query.Set("from", normaliseSymbol(base))
	query.Set("to", normaliseSymbol(quote))

	var payload struct {
		Rate      json.Number `json:"rate"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := o.getJSON(ctx, query, &payload); err != nil {
		return PriceQuote{}, err
	}
	rate, err := o.positiveRate(payload.Rate.String())
	if err != nil {
		return PriceQuote{}, err
	}
	return PriceQuote{Rate: rate, Timestamp: time.Unix(payload.Timestamp, 0).UTC(), Source: o.name}, nil
}
