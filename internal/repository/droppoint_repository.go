package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitabu/swapcycle/internal/model"
)

// DropPointRepository persists the exchange meeting points.
type DropPointRepository struct {
	pool *pgxpool.Pool
}

// NewDropPointRepository creates a drop-point repository.
func NewDropPointRepository(pool *pgxpool.Pool) *DropPointRepository {
	return &DropPointRepository{pool: pool}
}

// school_id is NULL for admin-seeded points not tied to a school.
const dropPointColumns = `id, COALESCE(school_id, 0), name, address, county, zone, x_coord, y_coord, active, created_at`

// FindActiveByCounty returns the active drop points in a county
// (case-insensitive match, counties are stored as entered).
func (r *DropPointRepository) FindActiveByCounty(ctx context.Context, county string) ([]model.DropPoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+dropPointColumns+` FROM drop_points WHERE LOWER(county) = LOWER($1) AND active ORDER BY id ASC`,
		county)
	if err != nil {
		return nil, fmt.Errorf("drop points in county %q: %w", county, err)
	}
	defer rows.Close()

	var points []model.DropPoint
	for rows.Next() {
		dp, err := scanDropPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drop point: %w", err)
		}
		points = append(points, *dp)
	}
	return points, rows.Err()
}

// FindBySchoolID returns the drop point registered at a school, or (nil, nil)
// when none exists — the selector's idempotency check before creating one.
func (r *DropPointRepository) FindBySchoolID(ctx context.Context, schoolID int64) (*model.DropPoint, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+dropPointColumns+` FROM drop_points WHERE school_id = $1`, schoolID)
	dp, err := scanDropPoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("drop point for school %d: %w", schoolID, err)
	}
	return dp, nil
}

// Create inserts a new drop point and writes the generated id back.
func (r *DropPointRepository) Create(ctx context.Context, dp *model.DropPoint) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO drop_points (school_id, name, address, county, zone, x_coord, y_coord, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`,
		dp.SchoolID, dp.Name, dp.Address, dp.County, dp.Zone,
		dp.Coords.Lat, dp.Coords.Lon, dp.Active,
	).Scan(&dp.ID, &dp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert drop point for school %d: %w", dp.SchoolID, err)
	}
	return nil
}

func scanDropPoint(row rowScanner) (*model.DropPoint, error) {
	dp := &model.DropPoint{}
	err := row.Scan(
		&dp.ID, &dp.SchoolID, &dp.Name, &dp.Address, &dp.County, &dp.Zone,
		&dp.Coords.Lat, &dp.Coords.Lon, &dp.Active, &dp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return dp, nil
}
