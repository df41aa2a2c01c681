package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexedwards/scs/v2"
	"github.com/ardanlabs/conf/v3"
	"github.com/comprepues/vault/api"
	"github.com/comprepues/vault/api/background"
	"github.com/comprepues/vault/config"
	"github.com/comprepues/vault/core/backend"
	"github.com/comprepues/vault/core/cartstore"
	"github.com/comprepues/vault/core/cartimer"
	"github.com/comprepues/vault/core/checkout"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/session"
	"github.com/comprepues/vault/rate"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			return
		}
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	const prefix = "VAULT"
	var cfg config.Config
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return err
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Log.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	be, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
		Breaker: backend.BreakerConfig{
			Failures:    cfg.Backend.BreakerFailures,
			OpenTimeout: cfg.Backend.BreakerOpen,
			Interval:    cfg.Backend.BreakerInterval,
			HalfOpen:    cfg.Backend.BreakerHalfOpen,
		},
	}, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to build the backend client: %w", err)
	}

	var cache cartstore.Cache
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Address, err)
		}
		cache = cartstore.NewRedisCache(rdb, cfg.Redis.SnapshotTTL)
		logger.Infof("caching vault snapshots in redis at %s", cfg.Redis.Address)
	} else {
		cache = cartstore.NewMemoryCache(cfg.Redis.SnapshotTTL)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.Session.Lifetime
	sessionManager.IdleTimeout = cfg.Session.IdleTimeout
	sessionManager.Cookie.Name = "vault_session"
	sessionManager.Cookie.Secure = cfg.Session.Secure
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode

	bg := background.New(logger)
	clock := clockwork.NewRealClock()

	svc := checkout.New(be, logger)
	flows := checkout.NewFlows(be, clock, cfg.Vault.ExpiredTTL, logger)

	connect := func(c claims.Claims) session.Backend {
		return be.WithToken(c.Token)
	}
	registry := session.New(session.Config{
		Timer:       cartimer.Config{Tick: cfg.Vault.Tick, Poll: cfg.Vault.Poll},
		IdleTimeout: cfg.Vault.IdleTimeout,
		Sweep:       cfg.Vault.Sweep,
	}, clock, connect, cache, svc, logger)
	registry.Start()
	defer registry.Shutdown()

	limiter := rate.NewLimiter(cfg.Rate.Burst, cfg.Rate.Expiry, rate.Every(cfg.Rate.Interval))
	defer limiter.Stop()

	mux := api.APIMux(api.APIConfig{
		CorsOrigin: cfg.Cors.Origin,
		Log:        logger,
		Session:    sessionManager,
		Registry:   registry,
		Checkout:   svc,
		Expired:    flows,
		Limiter:    limiter,
		Background: bg,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}
