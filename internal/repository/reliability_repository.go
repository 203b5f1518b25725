package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitabu/swapcycle/internal/model"
)

// DefaultScore is the reliability score assumed for users with no record.
const DefaultScore = 50.0

// ReliabilityRepository reads and writes per-user reliability records.
// Records are lazily created: Get synthesizes a default for unknown users,
// and Save upserts.
type ReliabilityRepository struct {
	pool *pgxpool.Pool
}

// NewReliabilityRepository creates a reliability repository.
func NewReliabilityRepository(pool *pgxpool.Pool) *ReliabilityRepository {
	return &ReliabilityRepository{pool: pool}
}

// Get returns the user's reliability record, or a default-valued record
// (score 50.00, no counters) when none is stored yet.
func (r *ReliabilityRepository) Get(ctx context.Context, userID int64) (*model.UserReliabilityScore, error) {
	s := &model.UserReliabilityScore{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT score, completed_cycles, completed_swaps, cancelled_swaps,
		       timed_out_swaps, penalty_points, badges, updated_at
		FROM user_reliability_scores
		WHERE user_id = $1
	`, userID).Scan(
		&s.Score, &s.CompletedCycles, &s.CompletedSwaps, &s.CancelledSwaps,
		&s.TimedOutSwaps, &s.PenaltyPoints, &s.Badges, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.Score = DefaultScore
			return s, nil
		}
		return nil, fmt.Errorf("get reliability for user %d: %w", userID, err)
	}
	return s, nil
}

// GetScores batch-loads scores for the given users, applying the default for
// anyone without a record. Used by the detector when scoring cycles.
func (r *ReliabilityRepository) GetScores(ctx context.Context, userIDs []int64) (map[int64]float64, error) {
	scores := make(map[int64]float64, len(userIDs))
	for _, id := range userIDs {
		scores[id] = DefaultScore
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id, score FROM user_reliability_scores WHERE user_id = ANY($1)`,
		userIDs)
	if err != nil {
		return nil, fmt.Errorf("batch reliability scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan reliability score: %w", err)
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

// Save upserts the record. The score is written as-is — the service layer
// owns clamping — but the CHECK constraint on the table backstops [0, 100].
func (r *ReliabilityRepository) Save(ctx context.Context, s *model.UserReliabilityScore) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_reliability_scores (
			user_id, score, completed_cycles, completed_swaps, cancelled_swaps,
			timed_out_swaps, penalty_points, badges, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			completed_cycles = EXCLUDED.completed_cycles,
			completed_swaps = EXCLUDED.completed_swaps,
			cancelled_swaps = EXCLUDED.cancelled_swaps,
			timed_out_swaps = EXCLUDED.timed_out_swaps,
			penalty_points = EXCLUDED.penalty_points,
			badges = EXCLUDED.badges,
			updated_at = NOW()
	`,
		s.UserID, s.Score, s.CompletedCycles, s.CompletedSwaps, s.CancelledSwaps,
		s.TimedOutSwaps, s.PenaltyPoints, s.Badges,
	)
	if err != nil {
		return fmt.Errorf("save reliability for user %d: %w", s.UserID, err)
	}
	return nil
}
