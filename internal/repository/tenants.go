package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"zapblast/internal/models"
)

type TenantRepo struct {
	db *sqlx.DB
}

func NewTenantRepo(db *sqlx.DB) *TenantRepo {
	return &TenantRepo{db: db}
}

func (r *TenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, token, webhook_url, default_country_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.Token, t.WebhookURL, t.DefaultCountryCode, t.CreatedAt)
	return err
}

func (r *TenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `
		SELECT id, name, token, webhook_url, default_country_code, created_at
		FROM tenants WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepo) GetByToken(ctx context.Context, token string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `
		SELECT id, name, token, webhook_url, default_country_code, created_at
		FROM tenants WHERE token = $1
	`, token)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepo) List(ctx context.Context) ([]models.Tenant, error) {
	var out []models.Tenant
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, name, token, webhook_url, default_country_code, created_at
		FROM tenants ORDER BY created_at ASC
	`)
	return out, err
}
