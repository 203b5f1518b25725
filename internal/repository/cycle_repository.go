package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitabu/swapcycle/internal/model"
	"github.com/kitabu/swapcycle/internal/service"
)

// CycleRepository persists swap cycles and participants. Status transitions
// are conditional updates (WHERE status = expected) so concurrent writers
// serialize through the database instead of overwriting each other — the
// same guard the booking path of a marketplace needs for its inventory rows.
type CycleRepository struct {
	pool *pgxpool.Pool
}

// NewCycleRepository creates a cycle repository backed by the given pool.
func NewCycleRepository(pool *pgxpool.Pool) *CycleRepository {
	return &CycleRepository{pool: pool}
}

const cycleColumns = `
	id, cycle_type, status, priority_score, primary_county,
	is_same_county, is_same_zone, total_logistics_cost, avg_cost_per_participant,
	max_distance_km, avg_distance_km, confirmation_deadline, completion_deadline,
	total_participants, confirmed_participants, drop_point_id, created_at, updated_at`

// participantColumns returns the participant column list, alias-qualified
// when the query joins other tables.
func participantColumns(alias string) string {
	cols := []string{
		"id", "cycle_id", "user_id", "position", "book_to_give_id", "book_to_receive_id",
		"school_id", "school_name", "county", "district", "zone", "sub_county", "ward",
		"x_coord", "y_coord", "logistics_cost", "confirmed", "confirmed_at",
		"book_dropped", "dropped_at", "drop_photo_url", "book_collected", "collected_at",
		"collection_qr", "status",
	}
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return " " + strings.Join(cols, ", ")
}

// CreateCycle inserts a cycle and its participant ring in one transaction.
// The generated ids are written back into the passed structs.
func (r *CycleRepository) CreateCycle(ctx context.Context, cycle *model.SwapCycle, participants []*model.CycleParticipant) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("create cycle: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO swap_cycles (
			cycle_type, status, priority_score, primary_county,
			is_same_county, is_same_zone, total_logistics_cost, avg_cost_per_participant,
			max_distance_km, avg_distance_km, confirmation_deadline, completion_deadline,
			total_participants, confirmed_participants, drop_point_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14)
		RETURNING id, created_at, updated_at
	`,
		cycle.CycleType, cycle.Status, cycle.PriorityScore, cycle.PrimaryCounty,
		cycle.IsSameCounty, cycle.IsSameZone, cycle.TotalLogisticsCost, cycle.AvgCostPerParticipant,
		cycle.MaxDistanceKm, cycle.AvgDistanceKm, cycle.ConfirmationDeadline, cycle.CompletionDeadline,
		cycle.TotalParticipants, cycle.DropPointID,
	).Scan(&cycle.ID, &cycle.CreatedAt, &cycle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, p := range participants {
		p.CycleID = cycle.ID
		var lat, lon *float64
		if p.Location.Coords != nil {
			lat, lon = &p.Location.Coords.Lat, &p.Location.Coords.Lon
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO cycle_participants (
				cycle_id, user_id, position, book_to_give_id, book_to_receive_id,
				school_id, school_name, county, district, zone, sub_county, ward,
				x_coord, y_coord, logistics_cost, collection_qr, status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			RETURNING id
		`,
			p.CycleID, p.UserID, p.Position, p.BookToGiveID, p.BookToReceiveID,
			p.SchoolID, p.SchoolName, p.Location.County, p.Location.District, p.Location.Zone,
			p.Location.SubCounty, p.Location.Ward, lat, lon,
			p.LogisticsCost, p.CollectionQR, model.ParticipantPending,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("insert participant (user %d): %w", p.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create cycle: commit: %w", err)
	}
	return nil
}

// GetCycle fetches a single cycle by id.
func (r *CycleRepository) GetCycle(ctx context.Context, id int64) (*model.SwapCycle, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+cycleColumns+` FROM swap_cycles WHERE id = $1`, id)
	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCycleNotFound
		}
		return nil, fmt.Errorf("get cycle %d: %w", id, err)
	}
	return c, nil
}

// ListParticipants returns a cycle's participants ordered by ring position.
func (r *CycleRepository) ListParticipants(ctx context.Context, cycleID int64) ([]model.CycleParticipant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT`+participantColumns("")+` FROM cycle_participants WHERE cycle_id = $1 ORDER BY position ASC`,
		cycleID)
	if err != nil {
		return nil, fmt.Errorf("list participants for cycle %d: %w", cycleID, err)
	}
	defer rows.Close()

	var participants []model.CycleParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

// GetParticipant fetches one participant by (cycle, user).
func (r *CycleRepository) GetParticipant(ctx context.Context, cycleID, userID int64) (*model.CycleParticipant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+participantColumns("")+` FROM cycle_participants WHERE cycle_id = $1 AND user_id = $2`,
		cycleID, userID)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("get participant (cycle %d, user %d): %w", cycleID, userID, err)
	}
	return p, nil
}

// TransitionStatus moves a cycle between statuses with a conditional update.
// Returns service.ErrStaleStatus when the stored status no longer matches.
// Pairs outside the state machine's legal edges are rejected before touching
// the database.
func (r *CycleRepository) TransitionStatus(ctx context.Context, cycleID int64, from, to model.CycleStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("transition cycle %d %s→%s: not a legal transition", cycleID, from, to)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE swap_cycles
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, cycleID, from, to)
	if err != nil {
		return fmt.Errorf("transition cycle %d %s→%s: %w", cycleID, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrStaleStatus
	}
	return nil
}

// MarkConfirmed flags a participant as confirmed.
func (r *CycleRepository) MarkConfirmed(ctx context.Context, participantID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cycle_participants
		SET confirmed = TRUE, confirmed_at = $2, status = $3
		WHERE id = $1
	`, participantID, at, model.ParticipantConfirmed)
	if err != nil {
		return fmt.Errorf("mark participant %d confirmed: %w", participantID, err)
	}
	return nil
}

// IncrementConfirmedCount bumps the cycle's confirmed counter atomically and
// returns the new value with the total, so the caller can detect the exact
// confirmation that makes the counts equal.
func (r *CycleRepository) IncrementConfirmedCount(ctx context.Context, cycleID int64) (int, int, error) {
	var confirmed, total int
	err := r.pool.QueryRow(ctx, `
		UPDATE swap_cycles
		SET confirmed_participants = confirmed_participants + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING confirmed_participants, total_participants
	`, cycleID).Scan(&confirmed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("increment confirmed count for cycle %d: %w", cycleID, err)
	}
	return confirmed, total, nil
}

// MarkDroppedOff flags a participant's book as delivered.
func (r *CycleRepository) MarkDroppedOff(ctx context.Context, participantID int64, photoURL string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cycle_participants
		SET book_dropped = TRUE, dropped_at = $2, drop_photo_url = $3, status = $4
		WHERE id = $1
	`, participantID, at, photoURL, model.ParticipantDropped)
	if err != nil {
		return fmt.Errorf("mark participant %d dropped off: %w", participantID, err)
	}
	return nil
}

// MarkCollected flags a participant's incoming book as picked up.
func (r *CycleRepository) MarkCollected(ctx context.Context, participantID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cycle_participants
		SET book_collected = TRUE, collected_at = $2, status = $3
		WHERE id = $1
	`, participantID, at, model.ParticipantCollected)
	if err != nil {
		return fmt.Errorf("mark participant %d collected: %w", participantID, err)
	}
	return nil
}

// CountCollected returns how many of the cycle's participants have collected.
func (r *CycleRepository) CountCollected(ctx context.Context, cycleID int64) (int, int, error) {
	var collected, total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE book_collected), COUNT(*)
		FROM cycle_participants
		WHERE cycle_id = $1
	`, cycleID).Scan(&collected, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("count collected for cycle %d: %w", cycleID, err)
	}
	return collected, total, nil
}

// ListPendingPastDeadline returns pending cycles whose confirmation deadline
// has passed, for the timeout sweep.
func (r *CycleRepository) ListPendingPastDeadline(ctx context.Context, now time.Time) ([]model.SwapCycle, error) {
	return r.listByStatusPastDeadline(ctx, model.CyclePendingConfirmation, "confirmation_deadline", now)
}

// ListActivePastDeadline returns active cycles past their completion
// deadline, for the completion sweep.
func (r *CycleRepository) ListActivePastDeadline(ctx context.Context, now time.Time) ([]model.SwapCycle, error) {
	return r.listByStatusPastDeadline(ctx, model.CycleActive, "completion_deadline", now)
}

func (r *CycleRepository) listByStatusPastDeadline(ctx context.Context, status model.CycleStatus, deadlineCol string, now time.Time) ([]model.SwapCycle, error) {
	// deadlineCol is one of two fixed column names, never user input.
	query := fmt.Sprintf(`SELECT%s FROM swap_cycles WHERE status = $1 AND %s < $2 ORDER BY %s ASC`,
		cycleColumns, deadlineCol, deadlineCol)

	rows, err := r.pool.Query(ctx, query, status, now)
	if err != nil {
		return nil, fmt.Errorf("list %s cycles past %s: %w", status, deadlineCol, err)
	}
	defer rows.Close()

	var cycles []model.SwapCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, *c)
	}
	return cycles, rows.Err()
}

// ─── Row scanning ───────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*model.SwapCycle, error) {
	c := &model.SwapCycle{}
	err := row.Scan(
		&c.ID, &c.CycleType, &c.Status, &c.PriorityScore, &c.PrimaryCounty,
		&c.IsSameCounty, &c.IsSameZone, &c.TotalLogisticsCost, &c.AvgCostPerParticipant,
		&c.MaxDistanceKm, &c.AvgDistanceKm, &c.ConfirmationDeadline, &c.CompletionDeadline,
		&c.TotalParticipants, &c.ConfirmedParticipants, &c.DropPointID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanParticipant(row rowScanner) (*model.CycleParticipant, error) {
	p := &model.CycleParticipant{}
	var lat, lon *float64
	var photoURL *string
	err := row.Scan(
		&p.ID, &p.CycleID, &p.UserID, &p.Position, &p.BookToGiveID, &p.BookToReceiveID,
		&p.SchoolID, &p.SchoolName, &p.Location.County, &p.Location.District, &p.Location.Zone,
		&p.Location.SubCounty, &p.Location.Ward, &lat, &lon,
		&p.LogisticsCost, &p.Confirmed, &p.ConfirmedAt,
		&p.BookDropped, &p.DroppedAt, &photoURL, &p.BookCollected, &p.CollectedAt,
		&p.CollectionQR, &p.Status,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		p.Location.Coords = &model.GeoPoint{Lat: *lat, Lon: *lon}
	}
	if photoURL != nil {
		p.DropPhotoURL = *photoURL
	}
	return p, nil
}
