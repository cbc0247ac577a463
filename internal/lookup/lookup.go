// Package lookup answers a free-text drug query: the local catalog first,
// then the aggregator on a local miss, then alert evaluation on the fresh
// price.
package lookup

import (
	"context"
	"strings"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
	"github.com/fairyhunter13/drug-price-aggregator/internal/refdata"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

type Searcher interface {
	Search(query string, category model.Category) []model.CatalogRecord
}

type Aggregator interface {
	Aggregate(ctx context.Context, query string) model.DrugRecord
}

type Evaluator interface {
	Evaluate(ctx context.Context, drugName string, observedPriceMin int64) []model.PriceAlert
}

type Request struct {
	Query    string
	Category model.Category
	// Force aggregates even when the catalog has matches.
	Force bool
}

type Result struct {
	Query   string                `json:"query"`
	Catalog []model.CatalogRecord `json:"catalog"`
	Drug    *model.DrugRecord     `json:"drug,omitempty"`
	Fired   []model.PriceAlert    `json:"fired_alerts,omitempty"`
	// Suggestions is set only when nothing was found anywhere.
	Suggestions *refdata.Foreign `json:"suggestions,omitempty"`
}

// Service wires the catalog, aggregator and alert store together. A nil
// Evaluator disables alert evaluation.
type Service struct {
	catalog Searcher
	agg     Aggregator
	alerts  Evaluator
	foreign refdata.Foreign
}

func New(catalog Searcher, agg Aggregator, alerts Evaluator, foreign refdata.Foreign) *Service {
	return &Service{catalog: catalog, agg: agg, alerts: alerts, foreign: foreign}
}

// Lookup never fails; a query without usable text yields an empty result.
func (s *Service) Lookup(ctx context.Context, req Request) Result {
	q := strings.TrimSpace(req.Query)
	res := Result{Query: q, Catalog: []model.CatalogRecord{}}
	if textnorm.Key(q) == "" {
		return res
	}

	if hits := s.catalog.Search(q, req.Category); len(hits) > 0 {
		res.Catalog = hits
	}
	if len(res.Catalog) > 0 && !req.Force {
		obs.Logger.Debug("lookup_catalog_hit", "query", q, "matches", len(res.Catalog))
		return res
	}

	rec, fired := s.Check(ctx, q)
	res.Drug = &rec
	res.Fired = fired
	if !rec.Found && len(res.Catalog) == 0 && len(s.foreign.Pharmacies) > 0 {
		f := s.foreign
		res.Suggestions = &f
	}
	return res
}

// Check aggregates drugName and evaluates alerts against its lowest price.
func (s *Service) Check(ctx context.Context, drugName string) (model.DrugRecord, []model.PriceAlert) {
	rec := s.agg.Aggregate(ctx, drugName)
	if s.alerts == nil || !rec.Found || rec.PriceMin == nil {
		return rec, nil
	}
	return rec, s.alerts.Evaluate(ctx, drugName, *rec.PriceMin)
}
