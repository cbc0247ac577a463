// Package model defines domain types used by the service.
package model

import (
	"encoding/json"
	"time"
)

// TriState is a yes/no answer that may also be unknown.
type TriState int8

const (
	Unknown TriState = iota
	Yes
	No
)

func (t TriState) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes Unknown as null.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case Yes:
		return []byte("true"), nil
	case No:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (t *TriState) UnmarshalJSON(b []byte) error {
	var v *bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch {
	case v == nil:
		*t = Unknown
	case *v:
		*t = Yes
	default:
		*t = No
	}
	return nil
}

// RawCandidate is one provider's view of a product matching a query.
// Prices are in minor currency units.
type RawCandidate struct {
	Name         string `json:"name"`
	Price        *int64 `json:"price,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	Country      string `json:"country,omitempty"`
	Description  string `json:"description,omitempty"`
	SourceID     string `json:"source_id"`
	Link         string `json:"link,omitempty"`
}

// DrugRecord is the merged result of one aggregation.
type DrugRecord struct {
	QueryName            string   `json:"query_name"`
	DisplayName          string   `json:"display_name,omitempty"`
	Found                bool     `json:"found"`
	PriceMin             *int64   `json:"price_min,omitempty"`
	PriceMax             *int64   `json:"price_max,omitempty"`
	Manufacturer         string   `json:"manufacturer,omitempty"`
	Country              string   `json:"country,omitempty"`
	PrescriptionRequired TriState `json:"prescription_required"`
	MarkingPresent       TriState `json:"marking_present"`
	Description          string   `json:"description,omitempty"`
	ImageURL             string   `json:"image_url,omitempty"`
	Link                 string   `json:"link,omitempty"`
	SourceID             string   `json:"source_id,omitempty"`
	ContributingSources  []string `json:"contributing_sources"`
}

// Category is the registry section a catalog record belongs to.
type Category string

const (
	CategoryAny        Category = ""
	CategorySubstance  Category = "substance"
	CategoryInVivo     Category = "invivo"
	CategoryTechnology Category = "technology"
	CategoryDiagnostic Category = "diagnostic"
)

// ParseCategory maps user input to a Category. Unknown values report false.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryAny, CategorySubstance, CategoryInVivo, CategoryTechnology, CategoryDiagnostic:
		return Category(s), true
	}
	return CategoryAny, false
}

// CatalogRecord is a registry entry. Records are immutable after load.
type CatalogRecord struct {
	Name               string   `json:"name" yaml:"name"`
	InternationalName  string   `json:"international_name,omitempty" yaml:"international_name"`
	Form               string   `json:"form,omitempty" yaml:"form"`
	Country            string   `json:"country,omitempty" yaml:"country"`
	Manufacturer       string   `json:"manufacturer,omitempty" yaml:"manufacturer"`
	RegistrationNumber string   `json:"registration_number,omitempty" yaml:"registration_number"`
	RegistrationDate   string   `json:"registration_date,omitempty" yaml:"registration_date"`
	Category           Category `json:"category" yaml:"category"`
	Annulled           bool     `json:"annulled" yaml:"annulled"`
}

// PharmacyLocation is a physical pharmacy.
type PharmacyLocation struct {
	Name         string  `json:"name" yaml:"name"`
	Address      string  `json:"address" yaml:"address"`
	Phone        string  `json:"phone,omitempty" yaml:"phone"`
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
	WorkingHours string  `json:"working_hours,omitempty" yaml:"working_hours"`
	RegionTag    string  `json:"region_tag,omitempty" yaml:"region_tag"`
}

// NearbyPharmacy pairs a pharmacy with its distance from the query point.
type NearbyPharmacy struct {
	Pharmacy   PharmacyLocation `json:"pharmacy"`
	DistanceKm float64          `json:"distance_km"`
}

// PriceAlert is a user's request to be told when a drug gets cheap enough.
type PriceAlert struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	DrugName          string    `json:"drug_name"`
	TargetPrice       int64     `json:"target_price"`
	CreatedAt         time.Time `json:"created_at"`
	LastObservedPrice *int64    `json:"last_observed_price,omitempty"`
	Active            bool      `json:"active"`
}

// PriceCheck is a queued request to re-price a watched drug.
type PriceCheck struct {
	DrugName string `json:"drug_name"`
	Sequence uint64 `json:"-"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
