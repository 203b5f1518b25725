package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitabu/swapcycle/internal/model"
)

// NotificationRepository records notification rows. Delivery (push/SMS/email)
// is handled downstream by the notification workers; the engine only decides
// content and target.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create inserts one notification row.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, message, action_url)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, n.UserID, n.Title, n.Message, n.ActionURL).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification for user %d: %w", n.UserID, err)
	}
	return nil
}
