// Package currency converts money between currencies using a cached rate
// table that is refreshed from a RateProvider.
package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"kassa/backend/internal/cache"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/metrics"
)

// RatePrecision is the number of decimal places a conversion rate is frozen at.
const RatePrecision = 8

const (
	DefaultTTL           = 24 * time.Hour
	DefaultFetchTimeout  = 10 * time.Second
	DefaultRetryInterval = time.Minute
)

type Options struct {
	Base          domain.Currency
	TTL           time.Duration
	FetchTimeout  time.Duration
	RetryInterval time.Duration
	Cache         cache.RateCache
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Now           func() time.Time
}

type Snapshot struct {
	Base      domain.Currency `json:"base"`
	Rates     RateTable       `json:"rates"`
	FetchedAt time.Time       `json:"fetched_at"`
	Fallback  bool            `json:"fallback"`
}

func (s Snapshot) rate(from domain.Currency, to domain.Currency) (decimal.Decimal, error) {
	fromRate, ok := s.Rates[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, from)
	}
	toRate, ok := s.Rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, to)
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	return toRate.Div(fromRate).Round(RatePrecision), nil
}

type Converter struct {
	provider     RateProvider
	cache        cache.RateCache
	metrics      *metrics.Metrics
	logger       *zap.Logger
	base         domain.Currency
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	retry        *rate.Limiter
	refreshGroup singleflight.Group

	mu   sync.RWMutex
	snap Snapshot
}

func NewConverter(provider RateProvider, opts Options) *Converter {
	if opts.Base == "" {
		opts.Base = domain.BaseCurrency
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopRateCache{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	fallback := FallbackRates()
	fallback[opts.Base] = decimal.NewFromInt(1)

	return &Converter{
		provider:     provider,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		logger:       opts.Logger.Named("currency"),
		base:         opts.Base,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		retry:        rate.NewLimiter(rate.Every(opts.RetryInterval), 1),
		snap: Snapshot{
			Base:     opts.Base,
			Rates:    fallback,
			Fallback: true,
		},
	}
}

func (c *Converter) Base() domain.Currency {
	return c.base
}

// GetRate returns how many units of to one unit of from buys.
func (c *Converter) GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (decimal.Decimal, error) {
	return c.current(ctx).rate(from, to)
}

// Convert returns amount expressed in to, rounded to money scale, together
// with the rate used.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from domain.Currency, to domain.Currency) (decimal.Decimal, decimal.Decimal, error) {
	r, err := c.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return domain.RoundMoney(amount.Mul(r)), r, nil
}

func (c *Converter) Supports(ctx context.Context, code domain.Currency) bool {
	_, ok := c.current(ctx).Rates[code]
	return ok
}

func (c *Converter) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.snap
	out.Rates = c.snap.Rates.clone()
	return out
}

// Refresh replaces the snapshot with the latest table. Concurrent callers
// share one fetch. On failure the previous snapshot stays in place.
func (c *Converter) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do(string(c.base), func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Converter) current(ctx context.Context) Snapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if c.fresh(snap) {
		return snap
	}
	if !c.retry.AllowN(c.now(), 1) {
		return snap
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("serving stale exchange rates",
			zap.Bool("fallback", snap.Fallback),
			zap.Time("fetched_at", snap.FetchedAt),
			zap.Error(err),
		)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Converter) fresh(snap Snapshot) bool {
	if snap.Fallback || snap.FetchedAt.IsZero() {
		return false
	}
	return c.now().Sub(snap.FetchedAt) < c.ttl
}

func (c *Converter) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	if entry, ok := c.fromCache(ctx); ok {
		c.install(entry.Rates, entry.FetchedAt)
		c.metrics.RateRefresh("cache", nil, entry.FetchedAt)
		return nil
	}

	if c.provider == nil {
		err := errors.New("no rate provider configured")
		c.metrics.RateRefresh("provider", err, time.Time{})
		return err
	}

	table, err := c.provider.LatestRates(ctx, c.base)
	if err != nil {
		c.metrics.RateRefresh("provider", err, time.Time{})
		return fmt.Errorf("refresh rates: %w", err)
	}
	table = table.clone()
	table[c.base] = decimal.NewFromInt(1)

	fetchedAt := c.now()
	c.install(table, fetchedAt)
	c.metrics.RateRefresh("provider", nil, fetchedAt)
	c.logger.Info("exchange rates refreshed",
		zap.String("base", string(c.base)),
		zap.Int("currencies", len(table)),
	)

	if err := c.cache.Set(ctx, string(c.base), toEntry(c.base, table, fetchedAt), c.ttl); err != nil {
		c.logger.Warn("rate cache write failed", zap.Error(err))
	}
	return nil
}

type cachedRates struct {
	Rates     RateTable
	FetchedAt time.Time
}

func (c *Converter) fromCache(ctx context.Context) (cachedRates, bool) {
	entry, ok, err := c.cache.Get(ctx, string(c.base))
	if err != nil {
		c.logger.Warn("rate cache read failed", zap.Error(err))
		return cachedRates{}, false
	}
	if !ok || entry == nil || len(entry.Rates) == 0 {
		return cachedRates{}, false
	}
	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		return cachedRates{}, false
	}

	table := make(RateTable, len(entry.Rates)+1)
	for code, r := range entry.Rates {
		table[domain.Currency(code)] = r
	}
	table[c.base] = decimal.NewFromInt(1)
	return cachedRates{Rates: table, FetchedAt: entry.FetchedAt}, true
}

func (c *Converter) install(table RateTable, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{
		Base:      c.base,
		Rates:     table,
		FetchedAt: fetchedAt,
	}
}

func toEntry(base domain.Currency, table RateTable, fetchedAt time.Time) *cache.RateEntry {
	rates := make(map[string]decimal.Decimal, len(table))
	for code, r := range table {
		rates[string(code)] = r
	}
	return &cache.RateEntry{Base: string(base), Rates: rates, FetchedAt: fetchedAt}
}

// ParseCode normalises a user supplied currency code. It does not check the
// code against the rate table.
func ParseCode(code string) (domain.Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedCurrency, code)
		}
	}
	return domain.Currency(code), nil
}
