package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"zapblast/internal/models"
)

type WebhookEventRepo struct {
	db *sqlx.DB
}

func NewWebhookEventRepo(db *sqlx.DB) *WebhookEventRepo {
	return &WebhookEventRepo{db: db}
}

const webhookEventColumns = `id, tenant_id, event_type, phone, status, payload,
	processed, created_at, processed_at`

// Insert logs a raw provider event before any processing happens so a crash
// mid-apply can be replayed from storage.
func (r *WebhookEventRepo) Insert(ctx context.Context, e *models.WebhookEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, tenant_id, event_type, phone, status, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`, e.ID, e.TenantID, e.EventType, e.Phone, e.Status, e.Payload, e.CreatedAt)
	return err
}

func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed = TRUE, processed_at = $1 WHERE id = $2
	`, at, id)
	return err
}

// ListUnprocessed returns pending events oldest first, for startup replay and
// the admin replay endpoint.
func (r *WebhookEventRepo) ListUnprocessed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.WebhookEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE processed = FALSE
		ORDER BY created_at ASC LIMIT $1
	`, limit)
	return out, err
}

func (r *WebhookEventRepo) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM webhook_events WHERE processed = FALSE`)
	return n, err
}
