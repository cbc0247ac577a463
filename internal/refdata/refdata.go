// Package refdata loads the reference dataset: the drug registry, pharmacy
// locations, fallback prices, classification keywords and scrape selectors.
package refdata

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/drug-price-aggregator/internal/aggregate"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/provider"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrEmpty is returned when a dataset has no catalog records.
var ErrEmpty = errors.New("reference data has no catalog records")

// SourceConfig describes one scraped pharmacy site. SearchURL may be left
// empty in the file and supplied by configuration.
type SourceConfig struct {
	ID        string             `yaml:"id"`
	SearchURL string             `yaml:"search_url"`
	MaxItems  int                `yaml:"max_items"`
	Selectors provider.Selectors `yaml:"selectors"`
}

type ForeignPharmacy struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Foreign lists where to buy a drug that is not sold locally.
type Foreign struct {
	Pharmacies []ForeignPharmacy `yaml:"pharmacies" json:"pharmacies"`
	Delivery   []string          `yaml:"delivery" json:"delivery"`
}

type Pharmacies struct {
	Local    []model.PharmacyLocation `yaml:"local"`
	Regional []model.PharmacyLocation `yaml:"regional"`
}

type Dataset struct {
	Catalog    []model.CatalogRecord  `yaml:"catalog"`
	Pharmacies Pharmacies             `yaml:"pharmacies"`
	Prices     []provider.StaticEntry `yaml:"prices"`
	Keywords   aggregate.KeywordTable `yaml:"keywords"`
	Sources    []SourceConfig         `yaml:"sources"`
	Foreign    Foreign                `yaml:"foreign"`
}

// Source returns the scrape config with the given ID.
func (d *Dataset) Source(id string) (SourceConfig, bool) {
	for _, s := range d.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Default returns the embedded dataset.
func Default() (*Dataset, error) {
	return Parse(defaultYAML)
}

// Load reads the dataset at path, or the embedded one when path is empty.
func Load(path string) (*Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	d, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes and validates a YAML dataset. Unknown keys are rejected.
func Parse(b []byte) (*Dataset, error) {
	var d Dataset
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode reference data: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Dataset) validate() error {
	if len(d.Catalog) == 0 {
		return ErrEmpty
	}
	for i, r := range d.Catalog {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("catalog[%d]: name is required", i)
		}
		if _, ok := model.ParseCategory(string(r.Category)); !ok {
			return fmt.Errorf("catalog[%d] %q: unknown category %q", i, r.Name, r.Category)
		}
	}
	for _, set := range [][]model.PharmacyLocation{d.Pharmacies.Local, d.Pharmacies.Regional} {
		for _, p := range set {
			if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
				return fmt.Errorf("pharmacy %q: coordinates out of range", p.Name)
			}
		}
	}
	for _, p := range d.Prices {
		if p.Price < 0 {
			return fmt.Errorf("price %q: negative", p.Name)
		}
	}
	seen := make(map[string]bool)
	for _, s := range d.Sources {
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("source %q: id must be set and unique", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
