package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kitabu/swapcycle/internal/model"
	"github.com/kitabu/swapcycle/internal/service"
)

// CycleViewRepository serves the denormalized cycle read model (cycle +
// drop point + ordered participant ring with user/book joins), cached in
// Redis and invalidated by the lifecycle on every state transition.
type CycleViewRepository struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewCycleViewRepository creates the read-model repository.
func NewCycleViewRepository(pool *pgxpool.Pool, redis *redis.Client) *CycleViewRepository {
	return &CycleViewRepository{pool: pool, redis: redis}
}

const (
	cycleDetailKeyPrefix = "cycle:detail:"
	cycleDetailTTL       = 5 * time.Minute
)

func cycleDetailKey(cycleID int64) string {
	return fmt.Sprintf("%s%d", cycleDetailKeyPrefix, cycleID)
}

// GetCycleDetail returns the full read model for one cycle.
//
// Strategy:
//  1. Try Redis (fast path).
//  2. On miss, assemble from PostgreSQL and cache with a short TTL. The TTL
//     is a backstop only — transitions invalidate explicitly.
func (r *CycleViewRepository) GetCycleDetail(ctx context.Context, cycleID int64) (*model.CycleDetail, error) {
	// ── Fast path: Redis cache ──────────────────────────
	if raw, err := r.redis.Get(ctx, cycleDetailKey(cycleID)).Bytes(); err == nil {
		var detail model.CycleDetail
		if err := json.Unmarshal(raw, &detail); err == nil {
			return &detail, nil
		}
		// Corrupt cache entry — fall through to the DB and rewrite it.
	}

	// ── Slow path: assemble from PostgreSQL ─────────────
	detail, err := r.loadDetail(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(detail); err == nil {
		if err := r.redis.Set(ctx, cycleDetailKey(cycleID), raw, cycleDetailTTL).Err(); err != nil {
			log.Printf("[view] cache cycle #%d: %v", cycleID, err)
		}
	}
	return detail, nil
}

// InvalidateCycleDetail drops the cached read model. Best-effort: a failed
// delete just means the TTL cleans up.
func (r *CycleViewRepository) InvalidateCycleDetail(ctx context.Context, cycleID int64) {
	if err := r.redis.Del(ctx, cycleDetailKey(cycleID)).Err(); err != nil {
		log.Printf("[view] invalidate cycle #%d: %v", cycleID, err)
	}
}

func (r *CycleViewRepository) loadDetail(ctx context.Context, cycleID int64) (*model.CycleDetail, error) {
	cycles := NewCycleRepository(r.pool)

	cycle, err := cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	detail := &model.CycleDetail{Cycle: *cycle}

	dp, err := scanDropPoint(r.pool.QueryRow(ctx,
		`SELECT `+dropPointColumns+` FROM drop_points WHERE id = $1`, cycle.DropPointID))
	if err != nil {
		return nil, fmt.Errorf("drop point %d for cycle %d: %w", cycle.DropPointID, cycleID, err)
	}
	detail.DropPoint = *dp

	rows, err := r.pool.Query(ctx, `
		SELECT`+participantColumns(`p`)+`,
		       u.full_name,
		       COALESCE(gl.title, ''), COALESCE(rl.title, '')
		FROM cycle_participants p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN swap_listings gl ON gl.id = p.book_to_give_id
		LEFT JOIN swap_listings rl ON rl.id = p.book_to_receive_id
		WHERE p.cycle_id = $1
		ORDER BY p.position ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("participants for cycle %d: %w", cycleID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var pd model.ParticipantDetail
		var lat, lon *float64
		var photoURL *string
		if err := rows.Scan(
			&pd.ID, &pd.CycleID, &pd.UserID, &pd.Position, &pd.BookToGiveID, &pd.BookToReceiveID,
			&pd.SchoolID, &pd.SchoolName, &pd.Location.County, &pd.Location.District, &pd.Location.Zone,
			&pd.Location.SubCounty, &pd.Location.Ward, &lat, &lon,
			&pd.LogisticsCost, &pd.Confirmed, &pd.ConfirmedAt,
			&pd.BookDropped, &pd.DroppedAt, &photoURL, &pd.BookCollected, &pd.CollectedAt,
			&pd.CollectionQR, &pd.Status,
			&pd.UserName, &pd.GiveBookTitle, &pd.ReceiveBookTitle,
		); err != nil {
			return nil, fmt.Errorf("scan participant detail: %w", err)
		}
		if lat != nil && lon != nil {
			pd.Location.Coords = &model.GeoPoint{Lat: *lat, Lon: *lon}
		}
		if photoURL != nil {
			pd.DropPhotoURL = *photoURL
		}
		detail.Participants = append(detail.Participants, pd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(detail.Participants) == 0 {
		return nil, service.ErrCycleNotFound
	}
	return detail, nil
}
