package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateEntry is a rate table shared between processes: units of each currency
// per one unit of Base.
type RateEntry struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

type RateCache interface {
	Get(ctx context.Context, base string) (*RateEntry, bool, error)
	Set(ctx context.Context, base string, value *RateEntry, ttl time.Duration) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ string) (*RateEntry, bool, error) {
	return nil, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ string, _ *RateEntry, _ time.Duration) error {
	return nil
}
