// Package app assembles the service from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/drug-price-aggregator/internal/aggregate"
	"github.com/fairyhunter13/drug-price-aggregator/internal/cache"
	"github.com/fairyhunter13/drug-price-aggregator/internal/catalog"
	"github.com/fairyhunter13/drug-price-aggregator/internal/config"
	"github.com/fairyhunter13/drug-price-aggregator/internal/geo"
	httpapi "github.com/fairyhunter13/drug-price-aggregator/internal/http"
	"github.com/fairyhunter13/drug-price-aggregator/internal/lookup"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
	"github.com/fairyhunter13/drug-price-aggregator/internal/provider"
	"github.com/fairyhunter13/drug-price-aggregator/internal/queue"
	"github.com/fairyhunter13/drug-price-aggregator/internal/refdata"
	"github.com/fairyhunter13/drug-price-aggregator/internal/store"
)

// Components holds every long-lived piece of the service.
type Components struct {
	Cfg        config.Config
	Ref        *refdata.Dataset
	Aggregator *aggregate.Aggregator
	Catalog    *catalog.Catalog
	Ranker     *geo.Ranker
	Alerts     *store.Store
	Lookup     *lookup.Service
	Manager    *queue.Manager
	API        *httpapi.App
	Handler    http.Handler

	closers []func()
}

// Options overrides pieces of the default wiring.
type Options struct {
	// Providers replaces the providers built from configuration.
	Providers []provider.Provider
	Notifier  queue.Notifier
	Persister store.Persister
}

// Build wires the service. Close must be called to release the alert
// persister.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Components, error) {
	ref, err := refdata.Load(cfg.ReferenceDataPath)
	if err != nil {
		return nil, err
	}
	c := &Components{Cfg: cfg, Ref: ref}

	providers := opts.Providers
	if providers == nil {
		providers, err = BuildProviders(cfg, ref)
		if err != nil {
			return nil, err
		}
	}

	kw := &ref.Keywords
	if len(kw.OTC) == 0 && len(kw.Prescription) == 0 {
		kw = nil
	}
	c.Aggregator = aggregate.New(providers, aggregate.Options{
		Timeout:       cfg.ProviderTimeout,
		Cache:         cache.New[model.DrugRecord](cfg.AggregateCacheTTL, cache.WithName("aggregate"), cache.WithShards(cfg.CacheShards)),
		NegativeCache: cache.New[model.DrugRecord](cfg.NegativeCacheTTL, cache.WithName("aggregate_negative"), cache.WithShards(cfg.CacheShards)),
		Keywords:      kw,
	})
	c.Catalog = catalog.New(ref.Catalog, cfg.SearchLimit)
	c.Ranker = geo.NewRanker(ref.Pharmacies.Local, ref.Pharmacies.Regional, geo.Options{
		Limit:            cfg.NearestLimit,
		RegionalRadiusKm: cfg.RegionalRadiusKm,
	})

	persister := opts.Persister
	if persister == nil {
		persister, err = c.openPersister(ctx)
		if err != nil {
			return nil, err
		}
	}
	c.Alerts, err = store.Open(ctx, persister)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load alerts: %w", err)
	}

	c.Lookup = lookup.New(c.Catalog, c.Aggregator, c.Alerts, ref.Foreign)
	c.Manager = queue.NewManager(cfg, queue.New(128), c.Lookup, opts.Notifier)

	c.API = httpapi.NewApp(cfg)
	c.API.Aggregator = c.Aggregator
	c.API.Catalog = c.Catalog
	c.API.Ranker = c.Ranker
	c.API.Alerts = c.Alerts
	c.API.Lookup = c.Lookup
	c.API.Manager = c.Manager
	c.Handler = httpapi.NewRouter(c.API)

	active, annulled := c.Catalog.Counts()
	obs.Logger.Info("service_built",
		"sources", c.Aggregator.Sources(),
		"catalog_active", active,
		"catalog_annulled", annulled,
		"pharmacies_local", len(ref.Pharmacies.Local),
		"pharmacies_regional", len(ref.Pharmacies.Regional),
	)
	return c, nil
}

func (c *Components) openPersister(ctx context.Context) (store.Persister, error) {
	switch {
	case c.Cfg.DatabaseURL != "":
		pg, err := store.OpenPostgres(ctx, c.Cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pg.Close)
		obs.Logger.Info("alert_store", "backend", "postgres")
		return pg, nil
	case c.Cfg.AlertStorePath != "":
		obs.Logger.Info("alert_store", "backend", "file", "path", c.Cfg.AlertStorePath)
		return store.NewFilePersister(c.Cfg.AlertStorePath), nil
	default:
		obs.Logger.Info("alert_store", "backend", "memory")
		return nil, nil
	}
}

// BuildProviders returns the configured providers in merge priority order:
// source_a, source_b, registry, reference. Network providers get a shared
// result cache; the reference table is always present.
func BuildProviders(cfg config.Config, ref *refdata.Dataset) ([]provider.Provider, error) {
	pc := cache.New[[]model.RawCandidate](cfg.ProviderCacheTTL, cache.WithName("provider"), cache.WithShards(cfg.CacheShards))
	var out []provider.Provider

	for _, s := range []struct{ id, url string }{
		{"source_a", cfg.SourceAURL},
		{"source_b", cfg.SourceBURL},
	} {
		if s.url == "" {
			continue
		}
		sc, ok := ref.Source(s.id)
		if !ok {
			return nil, fmt.Errorf("%s: no selectors in reference data", s.id)
		}
		src, err := provider.NewHTMLSource(provider.HTMLSourceOptions{
			ID:        s.id,
			SearchURL: s.url,
			Selectors: sc.Selectors,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.ProviderTimeout,
			MaxItems:  sc.MaxItems,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.id, err)
		}
		out = append(out, provider.WithCache(src, pc))
	}

	if cfg.RegistryAPIURL != "" {
		reg, err := provider.NewRegistryAPI(provider.RegistryAPIOptions{
			BaseURL:   cfg.RegistryAPIURL,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.ProviderTimeout,
			RPS:       cfg.RegistryAPIRPS,
		})
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		out = append(out, provider.WithCache(reg, pc))
	}

	out = append(out, provider.NewStatic("reference", ref.Prices))
	return out, nil
}

// Serve runs the HTTP server, the check workers and the alert sweeper until
// ctx is cancelled, then drains queued checks and shuts the server down.
func (c *Components) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              c.Cfg.HTTPAddr,
		Handler:           c.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	c.Manager.Start(workCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Logger.Info("http_listen", "addr", c.Cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return c.Manager.RunSweeper(gctx, c.Alerts, c.Cfg.AlertSweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.API.StartShutdown()
		obs.Logger.Info("shutdown_drain_begin", "backlog_size", c.Manager.BacklogSize(), "worker_count", c.Manager.WorkerCount())

		ctxDrain, cancelDrain := context.WithTimeout(context.Background(), c.Cfg.ShutdownTimeout)
		defer cancelDrain()
		if c.Manager.DrainUntil(ctxDrain) {
			obs.Logger.Info("shutdown_drain_complete")
		} else {
			obs.Logger.Warn("shutdown_drain_timeout")
		}

		ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSrv()
		if err := srv.Shutdown(ctxSrv); err != nil {
			obs.Logger.Error("http_shutdown_error", "error", err.Error())
		}
		c.Manager.Stop()
		return nil
	})
	return g.Wait()
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
