// Package geo provides geographic utility functions for swap-cycle matching.
//
// Distance uses the Haversine formula on WGS-84 coordinates. When a location
// has no coordinates, every function degrades to comparing the Kenyan
// administrative hierarchy (county > district > zone > sub-county > ward)
// instead of failing.
package geo

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kitabu/swapcycle/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// UnknownDistance is the sentinel returned when either location lacks
	// coordinates. Always check for it before comparing distances.
	UnknownDistance = -1.0
)

// Hierarchy priority tiers, first match wins (checked in this strict order).
const (
	PrioritySameSchool    = 100
	PrioritySameWard      = 90
	PrioritySameZone      = 80
	PrioritySameSubCounty = 70
	PrioritySameDistrict  = 60
	PrioritySameCounty    = 50
	PriorityDifferent     = 20
)

// Logistics cost tiers in KES.
var (
	CostFree   = decimal.Zero
	CostNear   = decimal.NewFromInt(50)  // ≤5 km or same ward
	CostMedium = decimal.NewFromInt(100) // ≤20 km or same zone
	CostFar    = decimal.NewFromInt(200) // ≤50 km or same county
	CostRemote = decimal.NewFromInt(300) // everything else
)

// ─── Distance ───────────────────────────────────────────────

// DistanceKm returns the great-circle distance between two locations in
// kilometers, or UnknownDistance if either side has no coordinates.
//
// Complexity: O(1)
func DistanceKm(a, b model.Location) float64 {
	if a.Coords == nil || b.Coords == nil {
		return UnknownDistance
	}
	return haversineKm(*a.Coords, *b.Coords)
}

func haversineKm(a, b model.GeoPoint) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// ─── Hierarchy priority ─────────────────────────────────────

// HierarchyPriority scores how administratively close two school sites are,
// on the fixed tier scale {100, 90, 80, 70, 60, 50, 20}. Same school is free
// (100); tiers are checked strictly from ward outward.
func HierarchyPriority(a, b model.Location, schoolA, schoolB int64) int {
	if schoolA != 0 && schoolA == schoolB {
		return PrioritySameSchool
	}
	switch {
	case sameField(a.Ward, b.Ward):
		return PrioritySameWard
	case sameField(a.Zone, b.Zone):
		return PrioritySameZone
	case sameField(a.SubCounty, b.SubCounty):
		return PrioritySameSubCounty
	case sameField(a.District, b.District):
		return PrioritySameDistrict
	case sameField(a.County, b.County):
		return PrioritySameCounty
	}
	return PriorityDifferent
}

// ─── Logistics cost ─────────────────────────────────────────

// LogisticsCostKES estimates the travel cost between two school sites in KES.
// Same school → 0. With coordinates on both sides the cost is distance-tiered;
// otherwise it falls back to the administrative hierarchy.
func LogisticsCostKES(a, b model.Location, schoolA, schoolB int64) decimal.Decimal {
	if schoolA != 0 && schoolA == schoolB {
		return CostFree
	}

	if d := DistanceKm(a, b); d != UnknownDistance {
		switch {
		case d <= 5:
			return CostNear
		case d <= 20:
			return CostMedium
		case d <= 50:
			return CostFar
		}
		return CostRemote
	}

	// Hierarchy fallback when either side has no coordinates.
	switch {
	case sameField(a.Ward, b.Ward):
		return CostNear
	case sameField(a.Zone, b.Zone):
		return CostMedium
	case sameField(a.County, b.County):
		return CostFar
	}
	return CostRemote
}

// ─── Cycle-level aggregates ─────────────────────────────────

// AllSameCounty reports whether every site sits in one county. Empty county
// strings never collapse together.
func AllSameCounty(sites []model.SchoolSite) bool {
	return allSame(sites, func(s model.SchoolSite) string { return s.Location.County })
}

// AllSameZone reports whether every site sits in one zone.
func AllSameZone(sites []model.SchoolSite) bool {
	return allSame(sites, func(s model.SchoolSite) string { return s.Location.Zone })
}

// PrimaryCounty returns the most frequent county among the sites; ties break
// to the first-seen county. Empty counties are ignored.
func PrimaryCounty(sites []model.SchoolSite) string {
	counts := make(map[string]int, len(sites))
	var order []string
	for _, s := range sites {
		c := normField(s.Location.County)
		if c == "" {
			continue
		}
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}

	best := ""
	bestCount := 0
	for _, c := range order {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}

// MaxPairwiseDistanceKm returns the largest measurable distance over ALL
// pairs of sites, or UnknownDistance when no pair has coordinates.
//
// Complexity: O(S²) — but S ≤ 5 for a swap cycle, so effectively constant.
func MaxPairwiseDistanceKm(sites []model.SchoolSite) float64 {
	max := UnknownDistance
	for i := 0; i < len(sites); i++ {
		for j := i + 1; j < len(sites); j++ {
			d := DistanceKm(sites[i].Location, sites[j].Location)
			if d != UnknownDistance && d > max {
				max = d
			}
		}
	}
	return max
}

// AvgAdjacentDistanceKm returns the mean distance over ring-adjacent pairs
// (site i to site i+1, wrapping around), skipping pairs without coordinates.
// Returns UnknownDistance when no adjacent pair is measurable.
func AvgAdjacentDistanceKm(sites []model.SchoolSite) float64 {
	if len(sites) < 2 {
		return 0
	}
	total := 0.0
	measured := 0
	for i := range sites {
		next := sites[(i+1)%len(sites)]
		d := DistanceKm(sites[i].Location, next.Location)
		if d != UnknownDistance {
			total += d
			measured++
		}
	}
	if measured == 0 {
		return UnknownDistance
	}
	return total / float64(measured)
}

// GeographicScore is the mean HierarchyPriority over all pairs of sites —
// not just ring-adjacent ones, since everyone travels to one drop point.
func GeographicScore(sites []model.SchoolSite) float64 {
	if len(sites) < 2 {
		return 0
	}
	total := 0
	pairs := 0
	for i := 0; i < len(sites); i++ {
		for j := i + 1; j < len(sites); j++ {
			total += HierarchyPriority(sites[i].Location, sites[j].Location, sites[i].SchoolID, sites[j].SchoolID)
			pairs++
		}
	}
	return float64(total) / float64(pairs)
}

// Centroid returns the arithmetic mean of the coordinates of the sites that
// have them. The second return is false when no site has coordinates.
func Centroid(sites []model.SchoolSite) (model.GeoPoint, bool) {
	var sumLat, sumLon float64
	n := 0
	for _, s := range sites {
		if s.Location.Coords == nil {
			continue
		}
		sumLat += s.Location.Coords.Lat
		sumLon += s.Location.Coords.Lon
		n++
	}
	if n == 0 {
		return model.GeoPoint{}, false
	}
	return model.GeoPoint{Lat: sumLat / float64(n), Lon: sumLon / float64(n)}, true
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func sameField(a, b string) bool {
	a, b = normField(a), normField(b)
	return a != "" && a == b
}

func normField(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func allSame(sites []model.SchoolSite, field func(model.SchoolSite) string) bool {
	if len(sites) == 0 {
		return false
	}
	first := normField(field(sites[0]))
	if first == "" {
		return false
	}
	for _, s := range sites[1:] {
		if normField(field(s)) != first {
			return false
		}
	}
	return true
}
