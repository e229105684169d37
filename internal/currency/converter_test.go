package currency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassa/backend/internal/cache"
	"kassa/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingProvider struct {
	calls atomic.Int32
	table RateTable
	err   error
}

func (p *countingProvider) LatestRates(_ context.Context, _ domain.Currency) (RateTable, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.table.clone(), nil
}

type memoryRateCache struct {
	mu      sync.Mutex
	entries map[string]*cache.RateEntry
}

func (c *memoryRateCache) Get(_ context.Context, base string) (*cache.RateEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[base]
	return e, ok, nil
}

func (c *memoryRateCache) Set(_ context.Context, base string, value *cache.RateEntry, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]*cache.RateEntry{}
	}
	c.entries[base] = value
	return nil
}

func liveTable() RateTable {
	return RateTable{
		domain.GEL: dec("1"),
		domain.USD: dec("0.37"),
		domain.EUR: dec("0.34"),
		"GBP":      dec("0.29"),
	}
}

func TestFallbackWhenProviderNeverAnswers(t *testing.T) {
	clock := newFakeClock()
	provider := &countingProvider{err: errors.New("connection refused")}
	conv := NewConverter(provider, Options{Now: clock.Now})

	r, err := conv.GetRate(context.Background(), domain.GEL, domain.USD)
	require.NoError(t, err)
	assert.True(t, r.Equal(dec("0.37")))
	assert.True(t, conv.Snapshot().Fallback)
	assert.False(t, conv.Supports(context.Background(), "GBP"))
}

func TestRatesFromProvider(t *testing.T) {
	clock := newFakeClock()
	conv := NewConverter(&countingProvider{table: liveTable()}, Options{Now: clock.Now})
	ctx := context.Background()

	r, err := conv.GetRate(ctx, domain.USD, domain.GEL)
	require.NoError(t, err)
	assert.True(t, r.Equal(dec("2.7027027")), "got %s", r)

	amount, used, err := conv.Convert(ctx, dec("100"), domain.USD, domain.GEL)
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("270.27")), "got %s", amount)
	assert.True(t, used.Equal(r))

	cross, err := conv.GetRate(ctx, domain.USD, domain.EUR)
	require.NoError(t, err)
	assert.True(t, cross.Equal(dec("0.91891892")), "got %s", cross)

	same, err := conv.GetRate(ctx, "GBP", "GBP")
	require.NoError(t, err)
	assert.True(t, same.Equal(dec("1")))
	assert.False(t, conv.Snapshot().Fallback)
}

func TestUnknownCurrencyIsRejected(t *testing.T) {
	conv := NewConverter(&countingProvider{table: liveTable()}, Options{})

	_, err := conv.GetRate(context.Background(), domain.GEL, "XYZ")
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	_, _, err = conv.Convert(context.Background(), dec("1"), "XYZ", domain.GEL)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
}

func TestSnapshotServedUntilTTLExpires(t *testing.T) {
	clock := newFakeClock()
	provider := &countingProvider{table: liveTable()}
	conv := NewConverter(provider, Options{Now: clock.Now, TTL: time.Hour, RetryInterval: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := conv.GetRate(ctx, domain.GEL, domain.USD)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), provider.calls.Load())

	clock.Advance(59 * time.Minute)
	_, _ = conv.GetRate(ctx, domain.GEL, domain.USD)
	assert.Equal(t, int32(1), provider.calls.Load())

	clock.Advance(2 * time.Minute)
	_, _ = conv.GetRate(ctx, domain.GEL, domain.USD)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestFailedRefreshIsRetriedAtMostOncePerInterval(t *testing.T) {
	clock := newFakeClock()
	provider := &countingProvider{err: errors.New("503")}
	conv := NewConverter(provider, Options{Now: clock.Now, RetryInterval: time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := conv.GetRate(ctx, domain.GEL, domain.EUR)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), provider.calls.Load())

	clock.Advance(time.Minute)
	_, _ = conv.GetRate(ctx, domain.GEL, domain.EUR)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestFailedRefreshKeepsLastSnapshot(t *testing.T) {
	clock := newFakeClock()
	provider := &countingProvider{table: liveTable()}
	conv := NewConverter(provider, Options{Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, conv.Refresh(ctx))
	fetchedAt := conv.Snapshot().FetchedAt

	provider.err = errors.New("timeout")
	clock.Advance(time.Hour)
	assert.Error(t, conv.Refresh(ctx))

	snap := conv.Snapshot()
	assert.Equal(t, fetchedAt, snap.FetchedAt)
	assert.True(t, conv.Supports(ctx, "GBP"))
}

type gatedProvider struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) LatestRates(ctx context.Context, _ domain.Currency) (RateTable, error) {
	if p.calls.Add(1) == 1 {
		close(p.started)
	}
	select {
	case <-p.release:
		return liveTable(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	provider := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	conv := NewConverter(provider, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- conv.Refresh(ctx)
		}()
	}

	<-provider.started
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestRefreshTimesOut(t *testing.T) {
	provider := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	conv := NewConverter(provider, Options{FetchTimeout: 20 * time.Millisecond})

	err := conv.Refresh(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, conv.Snapshot().Fallback)
}

func TestSharedCacheAvoidsSecondFetch(t *testing.T) {
	clock := newFakeClock()
	shared := &memoryRateCache{}
	first := &countingProvider{table: liveTable()}
	second := &countingProvider{table: liveTable()}

	a := NewConverter(first, Options{Now: clock.Now, Cache: shared})
	require.NoError(t, a.Refresh(context.Background()))

	b := NewConverter(second, Options{Now: clock.Now, Cache: shared})
	r, err := b.GetRate(context.Background(), domain.GEL, "GBP")
	require.NoError(t, err)

	assert.True(t, r.Equal(dec("0.29")))
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestParseCode(t *testing.T) {
	code, err := ParseCode(" usd ")
	require.NoError(t, err)
	assert.Equal(t, domain.USD, code)

	for _, bad := range []string{"", "US", "US1", "EURO"} {
		_, err := ParseCode(bad)
		assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency, bad)
	}
}
