package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
)

type RecipientRepo struct {
	db *sqlx.DB
}

func NewRecipientRepo(db *sqlx.DB) *RecipientRepo {
	return &RecipientRepo{db: db}
}

const recipientColumns = `id, campaign_id, contact_id, tenant_id, phone, status,
	provider_message_id, attempts, variables, last_error, sent_at, delivered_at,
	read_at, failed_at, created_at, updated_at`

// DeleteByCampaign clears the rows of any previous run so a restart rebuilds
// the queue from scratch.
func (r *RecipientRepo) DeleteByCampaign(ctx context.Context, campaignID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BulkInsert writes queued recipients in chunks. A failing chunk is logged
// and skipped; the return value is the number of rows actually inserted so
// the caller can decide whether the run is viable at all.
func (r *RecipientRepo) BulkInsert(ctx context.Context, recipients []models.Recipient) int {
	inserted := 0
	now := time.Now().UTC()

	for start := 0; start < len(recipients); start += chunkSize {
		end := start + chunkSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		if err := r.insertChunk(ctx, chunk, now); err != nil {
			log.Warn().Err(err).
				Int("chunk_size", len(chunk)).
				Msg("Recipient insert chunk failed, skipping")
			continue
		}
		inserted += len(chunk)
	}

	return inserted
}

func (r *RecipientRepo) insertChunk(ctx context.Context, chunk []models.Recipient, now time.Time) error {
	const cols = 10
	var sb strings.Builder
	sb.WriteString(`INSERT INTO campaign_recipients
		(id, campaign_id, contact_id, tenant_id, phone, status, attempts, variables, created_at, updated_at)
		VALUES `)

	args := make([]interface{}, 0, len(chunk)*cols)
	for i, rec := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "(%s)", placeholders(i*cols+1, cols))
		args = append(args, rec.ID, rec.CampaignID, rec.ContactID, rec.TenantID,
			rec.Phone, models.RecipientQueued, 0, rec.Variables, now, now)
	}

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *RecipientRepo) GetByID(ctx context.Context, id string) (*models.Recipient, error) {
	var rec models.Recipient
	err := r.db.GetContext(ctx, &rec, `
		SELECT `+recipientColumns+` FROM campaign_recipients WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListQueuedBatch returns the next batch to dispatch, oldest rows first so a
// campaign drains in insertion order.
func (r *RecipientRepo) ListQueuedBatch(ctx context.Context, campaignID string, limit int) ([]models.Recipient, error) {
	var out []models.Recipient
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+recipientColumns+` FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, campaignID, limit)
	return out, err
}

func (r *RecipientRepo) ListByCampaign(ctx context.Context, campaignID, status string, limit, offset int) ([]models.Recipient, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var out []models.Recipient
	if status != "" {
		err := r.db.SelectContext(ctx, &out, `
			SELECT `+recipientColumns+` FROM campaign_recipients
			WHERE campaign_id = $1 AND status = $2
			ORDER BY created_at ASC, id ASC LIMIT $3 OFFSET $4
		`, campaignID, status, limit, offset)
		return out, err
	}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+recipientColumns+` FROM campaign_recipients
		WHERE campaign_id = $1
		ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	return out, err
}

// MarkSent records a successful provider accept. Guarded on queued so a
// double dispatch cannot double-count.
func (r *RecipientRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET
			status = 'sent', provider_message_id = $1, sent_at = $2,
			attempts = attempts + 1, last_error = NULL, updated_at = $3
		WHERE id = $4 AND status = 'queued'
	`, providerMessageID, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkFailed records a dispatch-time failure. Guarded on queued.
func (r *RecipientRepo) MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET
			status = 'failed', last_error = $1, failed_at = $2,
			attempts = attempts + 1, updated_at = $3
		WHERE id = $4 AND status = 'queued'
	`, reason, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkDelivered promotes sent to delivered. Any other current status means
// the event arrived late or out of order and is ignored.
func (r *RecipientRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'delivered', delivered_at = $1, updated_at = $2
		WHERE id = $3 AND status = 'sent'
	`, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkRead promotes sent or delivered to read. A read implies a delivery, so
// delivered_at is backfilled when the delivered event never arrived.
func (r *RecipientRepo) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET
			status = 'read', read_at = $1,
			delivered_at = COALESCE(delivered_at, $2), updated_at = $3
		WHERE id = $4 AND status IN ('sent', 'delivered')
	`, at, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkFailedAfterSent handles the provider reporting failure for a message it
// had accepted. Only a sent recipient can take this path; the caller swaps
// the campaign counters when it returns true.
func (r *RecipientRepo) MarkFailedAfterSent(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET
			status = 'failed', last_error = $1, failed_at = $2, updated_at = $3
		WHERE id = $4 AND status = 'sent'
	`, reason, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *RecipientRepo) FindByProviderMessageID(ctx context.Context, tenantID, providerMessageID string) (*models.Recipient, error) {
	var rec models.Recipient
	err := r.db.GetContext(ctx, &rec, `
		SELECT `+recipientColumns+` FROM campaign_recipients
		WHERE tenant_id = $1 AND provider_message_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, tenantID, providerMessageID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindLatestSentByPhone is the fallback match for status events that carry a
// phone but no message id.
func (r *RecipientRepo) FindLatestSentByPhone(ctx context.Context, tenantID, phone string) (*models.Recipient, error) {
	var rec models.Recipient
	err := r.db.GetContext(ctx, &rec, `
		SELECT `+recipientColumns+` FROM campaign_recipients
		WHERE tenant_id = $1 AND phone = $2 AND status IN ('sent', 'delivered')
		ORDER BY sent_at DESC LIMIT 1
	`, tenantID, phone)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListStuckSent returns recipients sitting in sent since before the cutoff,
// oldest first, for the reconciliation sweep. Either scope filter may be
// empty; campaign narrows further than tenant when both are set.
func (r *RecipientRepo) ListStuckSent(ctx context.Context, campaignID, tenantID string, cutoff time.Time, limit int) ([]models.Recipient, error) {
	var out []models.Recipient
	switch {
	case campaignID != "":
		err := r.db.SelectContext(ctx, &out, `
			SELECT `+recipientColumns+` FROM campaign_recipients
			WHERE campaign_id = $1 AND status = 'sent'
				AND provider_message_id IS NOT NULL
				AND sent_at IS NOT NULL AND sent_at <= $2
			ORDER BY sent_at ASC
			LIMIT $3
		`, campaignID, cutoff, limit)
		return out, err
	case tenantID != "":
		err := r.db.SelectContext(ctx, &out, `
			SELECT `+recipientColumns+` FROM campaign_recipients
			WHERE tenant_id = $1 AND status = 'sent'
				AND provider_message_id IS NOT NULL
				AND sent_at IS NOT NULL AND sent_at <= $2
			ORDER BY sent_at ASC
			LIMIT $3
		`, tenantID, cutoff, limit)
		return out, err
	default:
		err := r.db.SelectContext(ctx, &out, `
			SELECT `+recipientColumns+` FROM campaign_recipients
			WHERE status = 'sent'
				AND provider_message_id IS NOT NULL
				AND sent_at IS NOT NULL AND sent_at <= $1
			ORDER BY sent_at ASC
			LIMIT $2
		`, cutoff, limit)
		return out, err
	}
}

// AnnotateNoWebhook stamps an advisory note on a sent recipient without
// touching its status. The guard keeps the write idempotent across sweeps
// carrying the same message.
func (r *RecipientRepo) AnnotateNoWebhook(ctx context.Context, id, note string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'sent' AND (last_error IS NULL OR last_error <> $4)
	`, note, at, id, note)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountByStatus projects the per-status totals for a campaign.
func (r *RecipientRepo) CountByStatus(ctx context.Context, campaignID string) (models.CampaignStats, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) AS n FROM campaign_recipients
		WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return models.CampaignStats{}, err
	}
	defer rows.Close()

	var stats models.CampaignStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.CampaignStats{}, err
		}
		stats.Total += n
		switch models.RecipientStatus(status) {
		case models.RecipientQueued:
			stats.Queued = n
		case models.RecipientSent:
			stats.Sent = n
		case models.RecipientDelivered:
			stats.Delivered = n
		case models.RecipientRead:
			stats.Read = n
		case models.RecipientFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}
