package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/haukened/handlegate/internal/claims/common/clock"
	"github.com/haukened/handlegate/internal/claims/common/log"
	"github.com/haukened/handlegate/internal/claims/config"
	"github.com/haukened/handlegate/internal/claims/domain"
	"github.com/haukened/handlegate/internal/claims/gateways/httpapi"
	"github.com/haukened/handlegate/internal/claims/infra/metrics"
	"github.com/haukened/handlegate/internal/claims/infra/redis"
	"github.com/haukened/handlegate/internal/claims/repos/claimcache"
	"github.com/haukened/handlegate/internal/claims/repos/claimstore/bolt"
	"github.com/haukened/handlegate/internal/claims/repos/claimstore/postgres"
	"github.com/haukened/handlegate/internal/claims/repos/filter"
	"github.com/haukened/handlegate/internal/claims/services/bootstrap"
	"github.com/haukened/handlegate/internal/claims/services/resolver"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "handlegated"

	connectTimeout = 10 * time.Second
)

// claimStore is what the resolver and the bootstrap jobs need from the
// authoritative store.
type claimStore interface {
	resolver.Store
	bootstrap.Source
}

// Application holds all the components of the service
type Application struct {
	config    *config.AppConfig
	clock     clock.Clock
	logger    log.Logger
	store     claimStore
	filter    filter.Membership
	cache     claimcache.Cache
	metrics   *metrics.Metrics
	resolver  *resolver.Resolver
	readiness *readiness
	server    *http.Server
	listener  net.Listener
	closers   []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info(map[string]any{
		"app":           appName,
		"version":       version,
		"env":           cfg.Env,
		"log_level":     cfg.LogLevel,
		"http_addr":     cfg.HTTPAddr,
		"store_driver":  cfg.StoreDriver,
		"filter_kind":   cfg.FilterKind,
		"cache_backend": cfg.CacheBackend,
	}, "Starting handlegate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	if err := app.Run(ctx); err != nil {
		log.Error(map[string]any{"error": err}, "Server failed")
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info(nil, "handlegate stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	app := &Application{
		config:    cfg,
		clock:     clock.RealClock{},
		logger:    log.GetLogger(),
		metrics:   metrics.New(),
		readiness: &readiness{},
	}

	if err := app.buildRepositories(ctx); err != nil {
		app.close()
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	policy := domain.TreatAsTaken
	if cfg.UncertainPolicy == "available" {
		policy = domain.TreatAsAvailable
	}
	app.resolver = resolver.NewResolver(resolver.ResolverOptions{
		Filter:       app.filter,
		Cache:        app.cache,
		Store:        app.store,
		Clock:        app.clock,
		Logger:       app.logger.With(map[string]any{"component": "resolver"}),
		Metrics:      app.metrics,
		Policy:       policy,
		StoreTimeout: cfg.StoreTimeout,
	})

	app.registerGauges()

	api := httpapi.New(httpapi.Options{
		Resolver:  app.resolver,
		Readiness: app.readiness,
		Metrics:   app.metrics.Handler(),
		Logger:    app.logger.With(map[string]any{"component": "http"}),
	})

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
	}
	app.listener = ln
	app.server = &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return app, nil
}

// buildRepositories creates the store, filter and cache.
func (app *Application) buildRepositories(ctx context.Context) error {
	cfg := app.config
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case "postgres":
		pool, err := postgres.Connect(cctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })
		app.readiness.depend("postgres", pool.Ping)
		store := postgres.New(pool)
		if err := store.Migrate(cctx); err != nil {
			return err
		}
		app.store = store
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o750); err != nil {
			return fmt.Errorf("create bolt directory: %w", err)
		}
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, store.Close)
		app.store = store
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	log.Info(map[string]any{"driver": cfg.StoreDriver, "timeout": cfg.StoreTimeout.String()}, "Authoritative store configured")

	f, err := filter.New(filter.Kind(cfg.FilterKind), filter.Options{
		Capacity:    uint64(cfg.FilterCapacity),
		FPRate:      cfg.FilterFPRate,
		MaxSegments: cfg.FilterMaxSegments,
	})
	if err != nil {
		return err
	}
	app.filter = f
	st := f.Stats()
	log.Info(map[string]any{
		"kind":             st.Kind,
		"capacity":         st.Capacity,
		"fingerprint_bits": st.FingerprintBits,
		"fp_rate":          cfg.FilterFPRate,
	}, "Membership filter configured")

	switch cfg.CacheBackend {
	case "redis":
		client, err := redis.New(cctx, redis.Options{URL: cfg.RedisURL, ReadTimeout: cfg.StoreTimeout, WriteTimeout: cfg.StoreTimeout})
		if err != nil {
			return err
		}
		app.closers = append(app.closers, client.Close)
		app.readiness.depend("redis", client.Health)
		app.cache = claimcache.NewRedis(client, cfg.CacheTTL)
	default:
		c, err := claimcache.NewMemory(cfg.CacheMaxEntries, cfg.CacheTTL, app.clock)
		if err != nil {
			return err
		}
		app.cache = c
	}
	log.Info(map[string]any{
		"backend":     app.cache.Stats().Backend,
		"max_entries": cfg.CacheMaxEntries,
		"ttl":         cfg.CacheTTL.String(),
	}, "Positive cache configured")
	return nil
}

func (app *Application) registerGauges() {
	app.metrics.RegisterGauge("handlegate_filter_count", "Tokens held by the membership filter",
		func() float64 { return float64(app.filter.Stats().Count) })
	app.metrics.RegisterGauge("handlegate_filter_load_factor", "Occupied fraction of filter slots",
		func() float64 { return app.filter.Stats().LoadFactor })
	app.metrics.RegisterGauge("handlegate_filter_estimated_fp_rate", "Estimated filter false-positive rate",
		func() float64 { return app.filter.Stats().EstimatedFPRate })
	app.metrics.RegisterGauge("handlegate_cache_entries", "Entries held by the positive cache",
		func() float64 { return float64(app.cache.Stats().Len) })
}

// Address returns the bound HTTP address.
func (app *Application) Address() string {
	return app.listener.Addr().String()
}

// Run starts bootstrap and the HTTP server and blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	defer app.close()

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var handle *bootstrap.Handle
	if app.config.BootstrapDisabled {
		log.Info(nil, "Bootstrap disabled, filter absent answers stay untrusted")
		app.readiness.markReady()
	} else {
		handle = bootstrap.Start(jobCtx, bootstrap.Options{
			Source:          app.store,
			Filter:          app.filter,
			Cache:           app.cache,
			Clock:           app.clock,
			Logger:          app.logger.With(map[string]any{"component": "bootstrap"}),
			Metrics:         app.metrics,
			FilterBatchSize: app.config.BootstrapFilterBatch,
			CacheBatchSize:  app.config.BootstrapCacheBatch,
			WindowDays:      app.config.BootstrapWindowDays,
			OnFilterLoaded:  app.resolver.MarkFilterComplete,
		})
		app.readiness.watch(handle)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.server.Serve(app.listener)
	}()
	log.Info(map[string]any{"address": app.Address()}, "HTTP server started")

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(nil, "Shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during HTTP shutdown")
	}

	if handle != nil {
		cancelJobs()
		select {
		case <-handle.Done():
		case <-shutdownCtx.Done():
			log.Warn(map[string]any{"timeout": app.config.ShutdownTimeout.String()}, "Shutdown timeout exceeded")
			return fmt.Errorf("shutdown timeout")
		}
	}

	log.Info(nil, "Graceful shutdown completed")
	return nil
}

func (app *Application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			log.Warn(map[string]any{"error": err}, "Error releasing resource")
		}
	}
	app.closers = nil
}
