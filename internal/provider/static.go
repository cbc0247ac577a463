package provider

import (
	"context"
	"strings"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

// StaticEntry is one row of a reference price table. Price is in minor units;
// zero means unknown.
type StaticEntry struct {
	Name         string `yaml:"name"`
	Price        int64  `yaml:"price"`
	Manufacturer string `yaml:"manufacturer"`
	Country      string `yaml:"country"`
	Link         string `yaml:"link"`
}

// Static answers from an in-memory reference table. It never fails.
type Static struct {
	id      string
	entries []StaticEntry
	names   []string
}

func NewStatic(id string, entries []StaticEntry) *Static {
	if id == "" {
		id = "reference"
	}
	s := &Static{id: id, entries: entries, names: make([]string, len(entries))}
	for i, e := range entries {
		s.names[i] = textnorm.Normalize(e.Name)
	}
	return s
}

func (s *Static) Name() string { return s.id }

// Fetch returns entries whose name contains any query token.
func (s *Static) Fetch(_ context.Context, query string) ([]model.RawCandidate, error) {
	tokens := textnorm.Tokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	var out []model.RawCandidate
	for i, e := range s.entries {
		if !containsAny(s.names[i], tokens) {
			continue
		}
		c := model.RawCandidate{
			Name:         e.Name,
			Manufacturer: e.Manufacturer,
			Country:      e.Country,
			Link:         e.Link,
			SourceID:     s.id,
		}
		if e.Price > 0 {
			c.Price = model.Int64(e.Price)
		}
		out = append(out, c)
	}
	return out, nil
}

func containsAny(hay string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(hay, t) {
			return true
		}
	}
	return false
}
