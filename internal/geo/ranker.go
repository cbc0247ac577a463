// Package geo ranks pharmacies by great-circle distance.
package geo

import (
	"math"
	"sort"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Haversine.
	EarthRadiusKm = 6371.0
	// DefaultLimit caps Nearest results.
	DefaultLimit = 10
	// DefaultRegionalRadiusKm is the radius above which the regional set is swept.
	DefaultRegionalRadiusKm = 10.0
)

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dφ/2)*math.Sin(dφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Ranker searches a dense local set of pharmacies, and a sparser regional set
// only for radii above the regional threshold.
type Ranker struct {
	local            []model.PharmacyLocation
	regional         []model.PharmacyLocation
	limit            int
	regionalRadiusKm float64
}

// Options tunes a Ranker. Zero values take the package defaults.
type Options struct {
	Limit            int
	RegionalRadiusKm float64
}

func NewRanker(local, regional []model.PharmacyLocation, opts Options) *Ranker {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.RegionalRadiusKm <= 0 {
		opts.RegionalRadiusKm = DefaultRegionalRadiusKm
	}
	return &Ranker{
		local:            local,
		regional:         regional,
		limit:            opts.Limit,
		regionalRadiusKm: opts.RegionalRadiusKm,
	}
}

// ValidCoordinates reports whether lat/lon are finite and in range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Nearest returns pharmacies within radiusKm of (lat, lon), closest first,
// capped at the configured limit. Equal distances keep set order, local first.
func (r *Ranker) Nearest(lat, lon, radiusKm float64) []model.NearbyPharmacy {
	if !ValidCoordinates(lat, lon) || math.IsNaN(radiusKm) || radiusKm < 0 {
		return nil
	}
	var out []model.NearbyPharmacy
	collect := func(set []model.PharmacyLocation) {
		for _, p := range set {
			d := Haversine(lat, lon, p.Latitude, p.Longitude)
			if d <= radiusKm {
				out = append(out, model.NearbyPharmacy{Pharmacy: p, DistanceKm: d})
			}
		}
	}
	collect(r.local)
	if radiusKm > r.regionalRadiusKm {
		collect(r.regional)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > r.limit {
		out = out[:r.limit]
	}
	return out
}
