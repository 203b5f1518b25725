package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/kitabu/swapcycle/internal/model"
	"github.com/kitabu/swapcycle/pkg/geo"
)

// ErrNoDropPoint is returned when no participant has coordinates and no
// stored drop point is usable. Every persisted cycle needs a resolvable
// drop point, so this is a hard failure, not a soft fallback.
var ErrNoDropPoint = errors.New("no usable drop point: no participant coordinates and no stored point")

// DropPointSelector picks the single meeting location for a cycle's
// participants, minimizing aggregate travel.
type DropPointSelector struct {
	store DropPointStore
}

// NewDropPointSelector creates a selector over the given store.
func NewDropPointSelector(store DropPointStore) *DropPointSelector {
	return &DropPointSelector{store: store}
}

// Select resolves a drop point for the given participant school sites, in
// priority order:
//
//  1. All participants at one school → that school (zero travel).
//  2. Existing active drop points in the modal county → the one with the
//     lowest average distance to the participants.
//  3. Centroid of participant coordinates → the participant school closest
//     to it, persisted as a new drop point.
//
// New drop points are created idempotently on school id: an existing row for
// the same school is reused rather than duplicated.
func (s *DropPointSelector) Select(ctx context.Context, sites []model.SchoolSite) (*model.DropPoint, error) {
	if len(sites) == 0 {
		return nil, ErrNoDropPoint
	}

	// ── Case 1: everyone at the same school ─────────────
	if allSameSchool(sites) {
		dp, err := s.ensureSchoolDropPoint(ctx, sites[0])
		if err != nil {
			return nil, err
		}
		log.Printf("[droppoint] All participants at %s — using it directly", sites[0].SchoolName)
		return dp, nil
	}

	// ── Case 2: existing drop point in the modal county ─
	county := geo.PrimaryCounty(sites)
	if county != "" {
		existing, err := s.store.FindActiveByCounty(ctx, county)
		if err != nil {
			return nil, fmt.Errorf("droppoint: list county %q: %w", county, err)
		}
		if len(existing) > 0 {
			dp := closestByAvgDistance(existing, sites)
			if dp == nil {
				// No participant coordinates to average over; any stored
				// point in the county beats failing the cycle.
				dp = &existing[0]
			}
			log.Printf("[droppoint] Reusing %s in %s for %d participants", dp.Name, county, len(sites))
			return dp, nil
		}
	}

	// ── Case 3: participant school nearest the centroid ─
	centroid, ok := geo.Centroid(sites)
	if !ok {
		return nil, ErrNoDropPoint
	}

	best := nearestSiteTo(centroid, sites)
	if best == nil {
		return nil, ErrNoDropPoint
	}

	dp, err := s.ensureSchoolDropPoint(ctx, *best)
	if err != nil {
		return nil, err
	}
	log.Printf("[droppoint] Created/reused centroid drop point at %s", best.SchoolName)
	return dp, nil
}

// ensureSchoolDropPoint returns the stored drop point for the school,
// creating it if absent. The school must have coordinates to become a drop
// point — persisted cycles never carry a null-coordinate meeting place.
func (s *DropPointSelector) ensureSchoolDropPoint(ctx context.Context, site model.SchoolSite) (*model.DropPoint, error) {
	existing, err := s.store.FindBySchoolID(ctx, site.SchoolID)
	if err != nil {
		return nil, fmt.Errorf("droppoint: lookup school %d: %w", site.SchoolID, err)
	}
	if existing != nil {
		return existing, nil
	}

	if site.Location.Coords == nil {
		return nil, ErrNoDropPoint
	}

	dp := &model.DropPoint{
		SchoolID: site.SchoolID,
		Name:     site.SchoolName,
		Address:  site.SchoolName,
		County:   site.Location.County,
		Zone:     site.Location.Zone,
		Coords:   *site.Location.Coords,
		Active:   true,
	}
	if err := s.store.Create(ctx, dp); err != nil {
		return nil, fmt.Errorf("droppoint: create for school %d: %w", site.SchoolID, err)
	}
	return dp, nil
}

// closestByAvgDistance returns the candidate minimizing mean distance to the
// sites, or nil when no candidate-site pair is measurable.
func closestByAvgDistance(candidates []model.DropPoint, sites []model.SchoolSite) *model.DropPoint {
	var best *model.DropPoint
	bestAvg := math.MaxFloat64

	for i := range candidates {
		dpLoc := model.Location{Coords: &candidates[i].Coords}
		total := 0.0
		measured := 0
		for _, site := range sites {
			d := geo.DistanceKm(dpLoc, site.Location)
			if d != geo.UnknownDistance {
				total += d
				measured++
			}
		}
		if measured == 0 {
			continue
		}
		avg := total / float64(measured)
		if avg < bestAvg {
			bestAvg = avg
			best = &candidates[i]
		}
	}
	return best
}

// nearestSiteTo returns the site with coordinates closest to the point.
func nearestSiteTo(pt model.GeoPoint, sites []model.SchoolSite) *model.SchoolSite {
	ref := model.Location{Coords: &pt}
	var best *model.SchoolSite
	bestDist := math.MaxFloat64

	for i := range sites {
		d := geo.DistanceKm(ref, sites[i].Location)
		if d == geo.UnknownDistance {
			continue
		}
		if d < bestDist {
			bestDist = d
			best = &sites[i]
		}
	}
	return best
}

func allSameSchool(sites []model.SchoolSite) bool {
	first := sites[0].SchoolID
	if first == 0 {
		return false
	}
	for _, s := range sites[1:] {
		if s.SchoolID != first {
			return false
		}
	}
	return true
}
