package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kassa/backend/internal/discount"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/metrics"
	"kassa/backend/internal/store"
)

type Converter interface {
	Base() domain.Currency
	GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (decimal.Decimal, error)
	Convert(ctx context.Context, amount decimal.Decimal, from domain.Currency, to domain.Currency) (decimal.Decimal, decimal.Decimal, error)
	Supports(ctx context.Context, code domain.Currency) bool
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Service struct {
	repo      store.Repository
	engine    *discount.Engine
	converter Converter
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	locks     *keyedMutex
}

func New(repo store.Repository, engine *discount.Engine, converter Converter, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if engine == nil {
		engine = discount.NewEngine(opts.Logger)
	}

	return &Service{
		repo:      repo,
		engine:    engine,
		converter: converter,
		logger:    opts.Logger.Named("service"),
		metrics:   opts.Metrics,
		now:       opts.Now,
		locks:     newKeyedMutex(),
	}
}

// Ready reports whether the backing store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}
