// Package aggregate fans a drug query out to every provider and merges the
// answers into one DrugRecord.
package aggregate

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/drug-price-aggregator/internal/cache"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
	"github.com/fairyhunter13/drug-price-aggregator/internal/provider"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

// Options configures an Aggregator. Nil caches disable caching at that level.
type Options struct {
	// Timeout bounds each provider call individually.
	Timeout time.Duration
	// Cache holds found records.
	Cache *cache.Cache[model.DrugRecord]
	// NegativeCache holds found=false records, usually with a shorter TTL.
	NegativeCache *cache.Cache[model.DrugRecord]
	Keywords      *KeywordTable
}

// Aggregator merges provider results. Providers are listed in priority order.
type Aggregator struct {
	providers []provider.Provider
	timeout   time.Duration
	positive  *cache.Cache[model.DrugRecord]
	negative  *cache.Cache[model.DrugRecord]
	keywords  KeywordTable
	sf        singleflight.Group
}

func New(providers []provider.Provider, opts Options) *Aggregator {
	kw := DefaultKeywords
	if opts.Keywords != nil {
		kw = *opts.Keywords
	}
	to := opts.Timeout
	if to <= 0 {
		to = 8 * time.Second
	}
	return &Aggregator{
		providers: slices.Clone(providers),
		timeout:   to,
		positive:  opts.Cache,
		negative:  opts.NegativeCache,
		keywords:  kw,
	}
}

// Sources returns provider names in priority order.
func (a *Aggregator) Sources() []string {
	out := make([]string, len(a.providers))
	for i, p := range a.providers {
		out[i] = p.Name()
	}
	return out
}

// Aggregate returns the merged record for query. It never fails: providers
// that error or time out are skipped, and a query nobody answers yields
// Found=false.
func (a *Aggregator) Aggregate(ctx context.Context, query string) model.DrugRecord {
	q := strings.TrimSpace(query)
	key := textnorm.Key(q)
	if key == "" {
		return model.DrugRecord{QueryName: q, ContributingSources: []string{}}
	}

	if rec, ok := a.cached(key); ok {
		obs.Aggregations.WithLabelValues("cached").Inc()
		obs.Logger.Debug("aggregate_cache_hit", "query", q, "found", rec.Found)
		rec.QueryName = q
		return rec
	}

	// Identical concurrent misses share one fan-out. The shared call must not
	// be cut short by whichever caller happened to start it.
	v, _, _ := a.sf.Do(key, func() (any, error) {
		rec := a.fanOut(context.WithoutCancel(ctx), q)
		if rec.Found {
			if a.positive != nil {
				a.positive.Set(key, rec)
			}
		} else if a.negative != nil {
			a.negative.Set(key, rec)
		}
		return rec, nil
	})
	rec := clone(v.(model.DrugRecord))
	rec.QueryName = q
	return rec
}

func (a *Aggregator) cached(key string) (model.DrugRecord, bool) {
	if a.positive != nil {
		if rec, ok := a.positive.Get(key); ok {
			return clone(rec), true
		}
	}
	if a.negative != nil {
		if rec, ok := a.negative.Get(key); ok {
			return clone(rec), true
		}
	}
	return model.DrugRecord{}, false
}

func (a *Aggregator) fanOut(ctx context.Context, query string) model.DrugRecord {
	results := make([]provider.Result, len(a.providers))
	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			results[i] = provider.Call(ctx, p, query, a.timeout)
		}(i, p)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			obs.Logger.Warn("provider_failed",
				"source", r.Source,
				"query", query,
				"error", r.Err.Error(),
				"elapsed_ms", r.Elapsed.Milliseconds(),
			)
		}
	}

	rec := Merge(query, results, a.keywords)
	if rec.Found {
		obs.Aggregations.WithLabelValues("found").Inc()
	} else {
		obs.Aggregations.WithLabelValues("not_found").Inc()
	}
	obs.Logger.Info("aggregate_done",
		"query", query,
		"found", rec.Found,
		"sources", rec.ContributingSources,
	)
	return rec
}

// Merge combines provider results, given in priority order, into one record.
// Failed results are ignored. The first candidate names the record; scalar
// fields take the first non-empty value; prices span every priced candidate.
func Merge(query string, results []provider.Result, kw KeywordTable) model.DrugRecord {
	rec := model.DrugRecord{QueryName: query, ContributingSources: []string{}}
	for _, r := range results {
		if !r.OK() {
			continue
		}
		for _, c := range r.Candidates {
			if !rec.Found {
				rec.Found = true
				rec.DisplayName = c.Name
				rec.SourceID = c.SourceID
			}
			if c.SourceID != "" && !slices.Contains(rec.ContributingSources, c.SourceID) {
				rec.ContributingSources = append(rec.ContributingSources, c.SourceID)
			}
			if c.Price != nil {
				p := *c.Price
				if rec.PriceMin == nil || p < *rec.PriceMin {
					rec.PriceMin = model.Int64(p)
				}
				if rec.PriceMax == nil || p > *rec.PriceMax {
					rec.PriceMax = model.Int64(p)
				}
			}
			firstNonEmpty(&rec.Manufacturer, c.Manufacturer)
			firstNonEmpty(&rec.Country, c.Country)
			firstNonEmpty(&rec.ImageURL, c.ImageURL)
			firstNonEmpty(&rec.Link, c.Link)
			firstNonEmpty(&rec.Description, c.Description)
		}
	}
	if rec.Found {
		cl := kw.Classify(rec.DisplayName)
		rec.PrescriptionRequired = cl.PrescriptionRequired
		rec.MarkingPresent = cl.MarkingPresent
	}
	return rec
}

func firstNonEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

// clone copies the record so callers cannot mutate cached state.
func clone(r model.DrugRecord) model.DrugRecord {
	if r.PriceMin != nil {
		r.PriceMin = model.Int64(*r.PriceMin)
	}
	if r.PriceMax != nil {
		r.PriceMax = model.Int64(*r.PriceMax)
	}
	r.ContributingSources = slices.Clone(r.ContributingSources)
	if r.ContributingSources == nil {
		r.ContributingSources = []string{}
	}
	return r
}
