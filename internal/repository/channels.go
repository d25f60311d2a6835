package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"zapblast/internal/models"
)

type ChannelRepo struct {
	db *sqlx.DB
}

func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Create(ctx context.Context, c *models.Channel) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (id, tenant_id, status, phone_number, provider_token, subscription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.TenantID, c.Status, c.PhoneNumber, c.ProviderToken, c.SubscriptionID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *ChannelRepo) GetByID(ctx context.Context, id string) (*models.Channel, error) {
	var c models.Channel
	err := r.db.GetContext(ctx, &c, `
		SELECT id, tenant_id, status, phone_number, provider_token, subscription_id, created_at, updated_at
		FROM channels WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChannelRepo) ListByTenant(ctx context.Context, tenantID string) ([]models.Channel, error) {
	var out []models.Channel
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, status, phone_number, provider_token, subscription_id, created_at, updated_at
		FROM channels WHERE tenant_id = $1 ORDER BY created_at ASC
	`, tenantID)
	return out, err
}

func (r *ChannelRepo) UpdateStatus(ctx context.Context, id string, status models.ChannelStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now().UTC(), id)
	return err
}

func (r *ChannelRepo) SetCredentials(ctx context.Context, id, providerToken, subscriptionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET provider_token = $1, subscription_id = $2, updated_at = $3 WHERE id = $4
	`, providerToken, subscriptionID, time.Now().UTC(), id)
	return err
}
