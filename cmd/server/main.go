package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"kassa/backend/internal/cache"
	"kassa/backend/internal/config"
	"kassa/backend/internal/currency"
	"kassa/backend/internal/discount"
	"kassa/backend/internal/logger"
	"kassa/backend/internal/metrics"
	"kassa/backend/internal/service"
	"kassa/backend/internal/store"
	"kassa/backend/internal/store/memory"
	pgstore "kassa/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	base, err := currency.ParseCode(cfg.BaseCurrency)
	if err != nil {
		log.Fatal("invalid base currency", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(log); err != nil {
				log.Fatal("migration failed", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory", zap.String("shift_id", memory.DemoShiftID))
	}

	rateCache := cache.RateCache(cache.NoopRateCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRateCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop rate cache", zap.Error(err))
		} else {
			rateCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("rate cache: redis")
		}
	} else {
		log.Info("rate cache: noop")
	}

	m := metrics.New()
	provider := currency.NewHTTPProvider(cfg.RatesURL, &http.Client{Timeout: cfg.RatesFetchTimeout})
	converter := currency.NewConverter(provider, currency.Options{
		Base:          base,
		TTL:           cfg.RatesTTL,
		FetchTimeout:  cfg.RatesFetchTimeout,
		RetryInterval: cfg.RatesRetryInterval,
		Cache:         rateCache,
		Metrics:       m,
		Logger:        log,
	})
	if err := converter.Refresh(ctx); err != nil {
		log.Warn("initial rate refresh failed, serving fallback rates", zap.Error(err))
	}

	svc := service.New(repo, discount.NewEngine(log), converter, service.Options{
		Logger:  log,
		Metrics: m,
	})

	scheduler := gocron.NewScheduler(time.UTC)
	if err := scheduleRateRefresh(scheduler, cfg.RatesRefreshAt, converter, log); err != nil {
		log.Fatal("rate refresh schedule failed", zap.Error(err))
	}
	scheduler.StartAsync()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           newMux(m, svc),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("kassa core listening", zap.String("addr", cfg.Address()), zap.String("base_currency", string(base)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func loggerConfig(cfg config.Config) logger.Config {
	lc := logger.ForEnvironment(cfg.Env)
	if cfg.LogLevel != "" {
		lc.Level = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		lc.Format = cfg.LogFormat
	}
	return lc
}

type refresher interface {
	Refresh(ctx context.Context) error
}

// scheduleRateRefresh registers the daily rate refresh at HH:MM UTC.
func scheduleRateRefresh(s *gocron.Scheduler, at string, r refresher, log *zap.Logger) error {
	_, err := s.Every(1).Day().At(at).Do(func() {
		if err := r.Refresh(context.Background()); err != nil {
			log.Warn("scheduled rate refresh failed", zap.Error(err))
			return
		}
		log.Info("scheduled rate refresh done")
	})
	return err
}

type readiness interface {
	Ready(ctx context.Context) error
}

func newMux(m *metrics.Metrics, ready readiness) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready.Ready(ctx); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
