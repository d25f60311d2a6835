package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"zapblast/internal/models"
)

type CampaignRepo struct {
	db *sqlx.DB
}

func NewCampaignRepo(db *sqlx.DB) *CampaignRepo {
	return &CampaignRepo{db: db}
}

const campaignColumns = `id, tenant_id, channel_id, name, body, template_id, media_url,
	media_thumb_url, media_mime, speed, status, total_recipients, sent_count,
	failed_count, started_at, completed_at, claim_owner, claim_expires_at,
	created_at, updated_at`

func (r *CampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, tenant_id, channel_id, name, body, template_id,
			media_url, media_thumb_url, media_mime, speed, status,
			total_recipients, sent_count, failed_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, 0, $12, $13)
	`, c.ID, c.TenantID, c.ChannelID, c.Name, c.Body, c.TemplateID,
		c.MediaURL, c.MediaThumbURL, c.MediaMime, c.Speed, c.Status,
		c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := r.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepo) GetForTenant(ctx context.Context, tenantID, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := r.db.GetContext(ctx, &c, `
		SELECT `+campaignColumns+` FROM campaigns WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []models.Campaign
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	return out, err
}

// ListRunnable returns campaigns the scheduler should consider: running and
// not yet fully resolved. Claimed ones are included; the claim is checked at
// processing time, not here.
func (r *CampaignRepo) ListRunnable(ctx context.Context) ([]models.Campaign, error) {
	var out []models.Campaign
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'running' AND sent_count + failed_count < total_recipients
		ORDER BY started_at ASC
	`)
	return out, err
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now().UTC(), id)
	return err
}

// SetMedia attaches uploaded media to a draft campaign.
func (r *CampaignRepo) SetMedia(ctx context.Context, id, url, thumbURL, mime string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET media_url = $1, media_thumb_url = $2, media_mime = $3, updated_at = $4
		WHERE id = $5
	`, url, thumbURL, mime, time.Now().UTC(), id)
	return err
}

// StartRun flips the campaign to running with a fresh counter baseline.
// A restart of a completed or failed campaign goes through here too, which is
// why counters reset and completed_at clears.
func (r *CampaignRepo) StartRun(ctx context.Context, id string, total int, speed models.SpeedTier, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status = 'running',
			total_recipients = $1,
			sent_count = 0,
			failed_count = 0,
			speed = $2,
			started_at = $3,
			completed_at = NULL,
			claim_owner = NULL,
			claim_expires_at = NULL,
			updated_at = $4
		WHERE id = $5
	`, total, speed, startedAt, startedAt, id)
	return err
}

// Claim takes the per-campaign dispatch lease via compare-and-set. It
// succeeds only when the campaign is running and either unclaimed or holding
// an expired lease, so two scheduler ticks (or two instances) can never
// process the same campaign concurrently.
func (r *CampaignRepo) Claim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET claim_owner = $1, claim_expires_at = $2, updated_at = $3
		WHERE id = $4 AND status = 'running'
			AND (claim_owner IS NULL OR claim_expires_at IS NULL OR claim_expires_at < $5)
	`, owner, now.Add(lease), now, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RefreshClaim extends the lease mid-batch. A zero-row result means the
// campaign was paused, completed or taken over, and the caller must stop
// sending immediately.
func (r *CampaignRepo) RefreshClaim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET claim_expires_at = $1, updated_at = $2
		WHERE id = $3 AND claim_owner = $4 AND status = 'running'
	`, now.Add(lease), now, id, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *CampaignRepo) ReleaseClaim(ctx context.Context, id, owner string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET claim_owner = NULL, claim_expires_at = NULL, updated_at = $1
		WHERE id = $2 AND claim_owner = $3
	`, time.Now().UTC(), id, owner)
	return err
}

func (r *CampaignRepo) IncrementSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET sent_count = sent_count + 1, updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), id)
	return err
}

func (r *CampaignRepo) IncrementFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET failed_count = failed_count + 1, updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), id)
	return err
}

// SwapSentToFailed moves one unit from sent to failed in a single statement,
// used when a webhook reports post-send failure. The sent_count guard keeps
// the pair of counters from ever summing past total_recipients.
func (r *CampaignRepo) SwapSentToFailed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET sent_count = sent_count - 1, failed_count = failed_count + 1, updated_at = $1
		WHERE id = $2 AND sent_count > 0
	`, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteIfDone marks the campaign completed once every recipient resolved.
// The guard repeats the arithmetic inside the statement so concurrent
// increments cannot complete a campaign early.
func (r *CampaignRepo) CompleteIfDone(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'completed', completed_at = $1,
			claim_owner = NULL, claim_expires_at = NULL, updated_at = $2
		WHERE id = $3 AND status = 'running'
			AND total_recipients > 0
			AND sent_count + failed_count >= total_recipients
	`, now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
