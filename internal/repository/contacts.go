package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
)

type ContactRepo struct {
	db *sqlx.DB
}

func NewContactRepo(db *sqlx.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

// UpsertBatch writes contacts in chunks, inserting new rows and refreshing
// name/email on existing ones. A blocked contact stays blocked: the upsert
// never touches is_blocked. One failing chunk is logged and skipped rather
// than aborting the rest; the second return value counts the rows lost that
// way. The returned slice carries the canonical id and is_blocked flag for
// every phone that made it to storage, in no particular order.
func (r *ContactRepo) UpsertBatch(ctx context.Context, tenantID string, contacts []models.Contact) ([]models.Contact, int) {
	var resolved []models.Contact
	failed := 0

	for start := 0; start < len(contacts); start += chunkSize {
		end := start + chunkSize
		if end > len(contacts) {
			end = len(contacts)
		}
		chunk := contacts[start:end]

		if err := r.upsertChunk(ctx, tenantID, chunk); err != nil {
			log.Warn().Err(err).
				Str("tenant_id", tenantID).
				Int("chunk_size", len(chunk)).
				Msg("Contact upsert chunk failed, skipping")
			failed += len(chunk)
			continue
		}

		rows, err := r.selectByPhones(ctx, tenantID, chunk)
		if err != nil {
			log.Warn().Err(err).
				Str("tenant_id", tenantID).
				Msg("Contact chunk readback failed, skipping")
			failed += len(chunk)
			continue
		}
		resolved = append(resolved, rows...)
	}

	return resolved, failed
}

func (r *ContactRepo) upsertChunk(ctx context.Context, tenantID string, chunk []models.Contact) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, c := range chunk {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (id, tenant_id, phone, name, email, is_blocked, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
			ON CONFLICT (tenant_id, phone) DO UPDATE SET
				name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE contacts.name END,
				email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE contacts.email END,
				updated_at = excluded.updated_at
		`, c.ID, tenantID, c.Phone, c.Name, c.Email, now, now)
		if err != nil {
			return fmt.Errorf("upsert contact %s: %w", c.Phone, err)
		}
	}

	return tx.Commit()
}

func (r *ContactRepo) selectByPhones(ctx context.Context, tenantID string, chunk []models.Contact) ([]models.Contact, error) {
	args := make([]interface{}, 0, len(chunk)+1)
	args = append(args, tenantID)
	for _, c := range chunk {
		args = append(args, c.Phone)
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, phone, name, email, is_blocked, created_at, updated_at
		FROM contacts
		WHERE tenant_id = $1 AND phone IN (%s)
	`, placeholders(2, len(chunk)))

	var out []models.Contact
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ContactRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.GetContext(ctx, &c, `
		SELECT id, tenant_id, phone, name, email, is_blocked, created_at, updated_at
		FROM contacts WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepo) GetByPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.GetContext(ctx, &c, `
		SELECT id, tenant_id, phone, name, email, is_blocked, created_at, updated_at
		FROM contacts WHERE tenant_id = $1 AND phone = $2
	`, tenantID, phone)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetBlocked flips the opt-out flag. Campaign sends skip blocked contacts.
func (r *ContactRepo) SetBlocked(ctx context.Context, tenantID, id string, blocked bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET is_blocked = $1, updated_at = $2
		WHERE tenant_id = $3 AND id = $4
	`, blocked, time.Now().UTC(), tenantID, id)
	return err
}
