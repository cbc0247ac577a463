// Package catalog searches the preloaded drug registry.
//
// Matching is a linear scan in catalog order: a record matches when any query
// token is a substring of its name, international name or manufacturer.
// Active and annulled records are deduplicated and capped separately, so a name
// that is both registered and annulled shows up twice and a crowd of active
// matches never hides an annulment.
package catalog

import (
	"strings"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

// DefaultLimit caps search results per partition (active, annulled).
const DefaultLimit = 20

type indexed struct {
	rec    model.CatalogRecord
	fields [3]string
}

// Catalog is immutable after New and safe for concurrent readers.
type Catalog struct {
	items []indexed
	limit int
}

// New indexes records in the given order. limit caps each partition;
// limit <= 0 means DefaultLimit.
func New(records []model.CatalogRecord, limit int) *Catalog {
	if limit <= 0 {
		limit = DefaultLimit
	}
	items := make([]indexed, len(records))
	for i, r := range records {
		items[i] = indexed{
			rec: r,
			fields: [3]string{
				textnorm.Normalize(r.Name),
				textnorm.Normalize(r.InternationalName),
				textnorm.Normalize(r.Manufacturer),
			},
		}
	}
	return &Catalog{items: items, limit: limit}
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.items) }

// Counts returns active and annulled record counts.
func (c *Catalog) Counts() (active, annulled int) {
	for _, it := range c.items {
		if it.rec.Annulled {
			annulled++
		} else {
			active++
		}
	}
	return active, annulled
}

// Search returns matching records in catalog order. CategoryAny searches
// every category. Annulled records match regardless of category since the
// annulment list is one registry. Queries without a usable token return nil.
func (c *Catalog) Search(query string, category model.Category) []model.CatalogRecord {
	tokens := textnorm.Tokens(query)
	if len(tokens) == 0 {
		return nil
	}

	type dedupKey struct {
		annulled bool
		name     string
	}
	seen := make(map[dedupKey]struct{})
	var out []model.CatalogRecord
	var active, annulled int
	for _, it := range c.items {
		if active == c.limit && annulled == c.limit {
			break
		}
		if it.rec.Annulled && annulled == c.limit || !it.rec.Annulled && active == c.limit {
			continue
		}
		if !it.rec.Annulled && category != model.CategoryAny && it.rec.Category != category {
			continue
		}
		if !it.matches(tokens) {
			continue
		}
		k := dedupKey{annulled: it.rec.Annulled, name: strings.TrimSpace(it.rec.Name)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it.rec)
		if it.rec.Annulled {
			annulled++
		} else {
			active++
		}
	}
	return out
}

func (it *indexed) matches(tokens []string) bool {
	for _, t := range tokens {
		for _, f := range it.fields {
			if f != "" && strings.Contains(f, t) {
				return true
			}
		}
	}
	return false
}
