package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
)

// RateTable maps a currency to how many units of it one unit of the base buys.
type RateTable map[domain.Currency]decimal.Decimal

func (t RateTable) clone() RateTable {
	out := make(RateTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

type RateProvider interface {
	LatestRates(ctx context.Context, base domain.Currency) (RateTable, error)
}

// FallbackRates is served when no table has ever been fetched.
func FallbackRates() RateTable {
	return RateTable{
		domain.GEL: decimal.NewFromInt(1),
		domain.USD: decimal.RequireFromString("0.37"),
		domain.EUR: decimal.RequireFromString("0.34"),
	}
}

const DefaultRatesURL = "https://api.exchangerate-api.com/v4/latest/"

// HTTPProvider reads exchangerate-api style documents: {"rates": {"USD": 0.37}}.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultRatesURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{baseURL: baseURL, client: client}
}

type ratesDocument struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (p *HTTPProvider) LatestRates(ctx context.Context, base domain.Currency) (RateTable, error) {
	url := strings.TrimRight(p.baseURL, "/") + "/" + string(base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: unexpected status %d", resp.StatusCode)
	}

	var doc ratesDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if len(doc.Rates) == 0 {
		return nil, fmt.Errorf("decode rates: empty rate table")
	}

	table := make(RateTable, len(doc.Rates)+1)
	for code, rate := range doc.Rates {
		if !rate.IsPositive() {
			continue
		}
		table[domain.Currency(strings.ToUpper(code))] = rate
	}
	table[base] = decimal.NewFromInt(1)
	return table, nil
}

// StaticProvider serves a fixed table. Used for local runs and tests.
type StaticProvider struct {
	Table RateTable
	Err   error
}

func (p StaticProvider) LatestRates(_ context.Context, _ domain.Currency) (RateTable, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Table.clone(), nil
}
