package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/walletledger/internal/api"
	"github.com/punchamoorthee/walletledger/internal/cache"
	"github.com/punchamoorthee/walletledger/internal/config"
	"github.com/punchamoorthee/walletledger/internal/identity"
	"github.com/punchamoorthee/walletledger/internal/logging"
	"github.com/punchamoorthee/walletledger/internal/notify"
	"github.com/punchamoorthee/walletledger/internal/service"
	"github.com/punchamoorthee/walletledger/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	safe := cfg.Redact()
	log.WithFields(logrus.Fields{
		"db_source":     safe.DBSource,
		"env":           safe.Env,
		"port":          safe.Port,
		"cache_backend": safe.CacheBackend,
		"lock_timeout":  safe.LockTimeout.String(),
		"notify":        safe.NotifyEnabled,
	}).Info("configuration loaded")
	if cfg.IsProduction() && cfg.CacheBackend == config.CacheBackendMemory {
		log.Warn("in-process cache is not shared between instances")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DBSource, cfg.DBMaxConns)
	if err != nil {
		log.WithError(err).Fatal("unable to connect to database")
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(pool); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("migrations applied")
	}

	backend, err := newCacheBackend(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("cache unavailable")
	}
	views := cache.NewBalanceCache(backend, cfg.WalletCacheTTL, cfg.ListCacheTTL, log)

	ledger := store.NewStore(pool, cfg.LockTimeout)
	users := identity.NewDirectory(pool)

	var notifier notify.Notifier = notify.Noop{}
	var async *notify.AsyncNotifier
	if cfg.NotifyEnabled {
		handler := notify.ThankYou(ledger, users, notify.LogMailer{Log: log}, cfg.ThankYouThreshold)
		async = notify.NewAsyncNotifier(handler, cfg.NotifyQueueSize, cfg.NotifyWorkers, log)
		async.Start(ctx)
		notifier = async
	}

	svc := service.NewWalletService(ledger, users, views, notifier, log)
	handler := api.NewHandler(svc, pool.Ping, log)

	var limiter *api.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, limiter, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}
	if async != nil {
		async.Stop()
	}
	log.Info("server stopped")
}

func newCacheBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (cache.Cache, error) {
	if cfg.CacheBackend == config.CacheBackendMemory {
		log.Info("using in-process cache")
		return cache.NewMemoryCache(cfg.WalletCacheTTL, 2*cfg.WalletCacheTTL), nil
	}

	rc := cache.NewRedisCache(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		return nil, err
	}
	log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	return rc, nil
}
