// Package repository provides PostgreSQL access for the swap-cycle system.
// The service layer depends on the interfaces in internal/service; the
// structs here are the pgx-backed implementations.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitabu/swapcycle/internal/model"
)

// ListingRepository loads the active swap listings the graph is built from.
type ListingRepository struct {
	pool *pgxpool.Pool
}

// NewListingRepository creates a listing repository backed by the given pool.
func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

// ActiveSwapListings returns every active, unsold swap listing joined with
// its owner and the owner's school. Listings whose owner has no school come
// back with SchoolID 0 and are discarded by the graph builder.
func (r *ListingRepository) ActiveSwapListings(ctx context.Context) ([]model.SwapListing, error) {
	query := `
		SELECT
			l.id, l.seller_id, u.full_name,
			COALESCE(s.id, 0), COALESCE(s.name, ''), COALESCE(s.level, ''),
			COALESCE(s.county, ''), COALESCE(s.district, ''), COALESCE(s.zone, ''),
			COALESCE(s.sub_county, ''), COALESCE(s.ward, ''),
			s.x_coord, s.y_coord,
			l.title, l.author, l.subject, l.class_grade, l.condition,
			COALESCE(l.willing_to_swap_for, '')
		FROM swap_listings l
		JOIN users u ON u.id = l.seller_id
		LEFT JOIN schools s ON s.id = u.school_id
		WHERE l.listing_type = 'swap'
		  AND l.status = 'active'
		  AND l.sold_at IS NULL
		ORDER BY l.created_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("active swap listings: %w", err)
	}
	defer rows.Close()

	var listings []model.SwapListing
	for rows.Next() {
		var l model.SwapListing
		var lat, lon *float64
		if err := rows.Scan(
			&l.ListingID, &l.UserID, &l.UserName,
			&l.SchoolID, &l.SchoolName, &l.SchoolLevel,
			&l.Location.County, &l.Location.District, &l.Location.Zone,
			&l.Location.SubCounty, &l.Location.Ward,
			&lat, &lon,
			&l.Title, &l.Author, &l.Subject, &l.Grade, &l.Condition,
			&l.WillingToSwapFor,
		); err != nil {
			return nil, fmt.Errorf("scan swap listing: %w", err)
		}
		if lat != nil && lon != nil {
			l.Location.Coords = &model.GeoPoint{Lat: *lat, Lon: *lon}
		}
		listings = append(listings, l)
	}

	return listings, rows.Err()
}
