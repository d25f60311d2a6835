package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"zapblast/internal/models"
)

type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, tenant_id, conversation_id, direction, kind, body,
	template_id, status, provider_message_id, error, created_at, updated_at`

func (r *MessageRepo) Create(ctx context.Context, m *models.Message) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, conversation_id, direction, kind, body,
			template_id, status, provider_message_id, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, m.ID, m.TenantID, m.ConversationID, m.Direction, m.Kind, m.Body,
		m.TemplateID, m.Status, m.ProviderMessageID, m.Error, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *MessageRepo) MarkSent(ctx context.Context, id, providerMessageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'sent', provider_message_id = $1, error = NULL, updated_at = $2
		WHERE id = $3
	`, providerMessageID, time.Now().UTC(), id)
	return err
}

func (r *MessageRepo) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'failed', error = $1, updated_at = $2 WHERE id = $3
	`, reason, time.Now().UTC(), id)
	return err
}

// ApplyProviderStatus promotes a conversation message on a delivery event.
// Same forward-only rule as campaign recipients: stale events lose.
func (r *MessageRepo) ApplyProviderStatus(ctx context.Context, tenantID, providerMessageID string, status models.MessageStatus, at time.Time) (bool, error) {
	var guard string
	switch status {
	case models.MessageDelivered:
		guard = `'sent'`
	case models.MessageRead:
		guard = `'sent', 'delivered'`
	case models.MessageFailed:
		guard = `'pending', 'sent'`
	default:
		return false, nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = $1, updated_at = $2
		WHERE tenant_id = $3 AND provider_message_id = $4 AND status IN (`+guard+`)
	`, status, at, tenantID, providerMessageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *MessageRepo) ListByConversation(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []models.Message
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, tenantID, conversationID, limit, offset)
	return out, err
}
