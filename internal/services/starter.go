package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// StartRequest is the payload of a campaign start call.
type StartRequest struct {
	CampaignID string           `json:"campaign_id"`
	Contacts   []ContactInput   `json:"contacts"`
	Speed      models.SpeedTier `json:"speed,omitempty"`
}

// StartResult reports what a successful start enqueued, with enough counts
// for the caller to see how much of its input survived normalization.
type StartResult struct {
	Success               bool   `json:"success"`
	CampaignID            string `json:"campaign_id"`
	Enqueued              int    `json:"enqueued"`
	TotalContactsReceived int    `json:"total_contacts_received"`
	UniqueValidPhones     int    `json:"unique_valid_phones"`
	SkippedBlocked        int    `json:"skipped_blocked,omitempty"`
	UpsertErrors          int    `json:"upsert_errors,omitempty"`
	InsertErrors          int    `json:"insert_errors,omitempty"`
}

// Starter builds the recipient queue for a campaign run: preflight, resolve,
// wipe the previous run, bulk insert, flip to running.
type Starter struct {
	campaigns  *repository.CampaignRepo
	channels   *repository.ChannelRepo
	recipients *repository.RecipientRepo
	resolver   *Resolver
	preflight  *Preflight

	// kick asks the scheduler to process the first batch right away instead
	// of waiting for the next tick. Fire-and-forget.
	kick func(campaignID string)
}

func NewStarter(
	campaigns *repository.CampaignRepo,
	channels *repository.ChannelRepo,
	recipients *repository.RecipientRepo,
	resolver *Resolver,
	preflight *Preflight,
) *Starter {
	return &Starter{
		campaigns:  campaigns,
		channels:   channels,
		recipients: recipients,
		resolver:   resolver,
		preflight:  preflight,
		kick:       func(string) {},
	}
}

// SetKick wires the scheduler's immediate-dispatch hook. Separate from the
// constructor because the scheduler is built after the starter.
func (s *Starter) SetKick(kick func(campaignID string)) {
	if kick != nil {
		s.kick = kick
	}
}

// Start runs the whole queue build. Preflight failures and resolution
// failures abort before any rows are written; once recipients are inserted
// the campaign flips to running and the first batch is kicked off.
func (s *Starter) Start(ctx context.Context, tenant *models.Tenant, req StartRequest) (*StartResult, error) {
	campaign, err := s.campaigns.GetForTenant(ctx, tenant.ID, req.CampaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status == models.CampaignRunning {
		return nil, ErrCampaignAlreadyRunning
	}

	speed := campaign.Speed
	if req.Speed != "" {
		if !req.Speed.Valid() {
			return nil, ErrInvalidSpeed
		}
		speed = req.Speed
	}
	if !speed.Valid() {
		speed = models.SpeedNormal
	}

	channel, err := s.channels.GetByID(ctx, campaign.ChannelID)
	if err != nil || channel.TenantID != tenant.ID {
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load channel: %w", err)
		}
		return nil, ErrChannelNotFound
	}

	if _, err := s.preflight.Validate(ctx, channel); err != nil {
		return nil, err
	}

	resolution, err := s.resolver.Resolve(ctx, tenant, req.Contacts)
	if err != nil {
		return nil, err
	}

	// Idempotent restart: the previous run's rows go first, so starting the
	// same campaign twice can never double its recipients.
	if deleted, err := s.recipients.DeleteByCampaign(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("clear previous run: %w", err)
	} else if deleted > 0 {
		log.Info().Str("campaign_id", campaign.ID).Int64("deleted", deleted).
			Msg("Cleared recipients from previous run")
	}

	rows := make([]models.Recipient, 0, len(resolution.Contacts))
	skippedBlocked := 0
	for _, rc := range resolution.Contacts {
		if rc.IsBlocked {
			skippedBlocked++
			continue
		}
		rows = append(rows, models.Recipient{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			ContactID:  rc.Contact.ID,
			TenantID:   tenant.ID,
			Phone:      rc.Phone,
			Variables:  encodeVariables(rc.Variables),
		})
	}

	inserted := s.recipients.BulkInsert(ctx, rows)
	if inserted == 0 {
		return nil, fmt.Errorf("%w: %d candidates, 0 inserted", ErrNoRecipientsEnqueued, len(rows))
	}

	now := time.Now().UTC()
	if err := s.campaigns.StartRun(ctx, campaign.ID, inserted, speed, now); err != nil {
		return nil, fmt.Errorf("mark campaign running: %w", err)
	}

	log.Info().
		Str("campaign_id", campaign.ID).
		Str("tenant_id", tenant.ID).
		Int("enqueued", inserted).
		Int("skipped_blocked", skippedBlocked).
		Str("speed", string(speed)).
		Msg("Campaign run started")

	go s.kick(campaign.ID)

	return &StartResult{
		Success:               true,
		CampaignID:            campaign.ID,
		Enqueued:              inserted,
		TotalContactsReceived: resolution.Received,
		UniqueValidPhones:     resolution.UniqueValid,
		SkippedBlocked:        skippedBlocked,
		UpsertErrors:          resolution.UpsertErrors,
		InsertErrors:          len(rows) - inserted,
	}, nil
}

// Pause flips a running campaign to paused. The dispatcher notices between
// messages and stops; the in-flight provider call is awaited, not abandoned.
func (s *Starter) Pause(ctx context.Context, tenantID, campaignID string) error {
	campaign, err := s.campaigns.GetForTenant(ctx, tenantID, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCampaignNotFound
		}
		return err
	}
	if campaign.Status != models.CampaignRunning {
		return ErrCampaignNotPausable
	}
	return s.campaigns.UpdateStatus(ctx, campaignID, models.CampaignPaused)
}

// Resume puts a paused campaign back into the scheduler's view and kicks an
// immediate batch.
func (s *Starter) Resume(ctx context.Context, tenantID, campaignID string) error {
	campaign, err := s.campaigns.GetForTenant(ctx, tenantID, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCampaignNotFound
		}
		return err
	}
	if campaign.Status != models.CampaignPaused {
		return ErrCampaignNotPausable
	}
	if err := s.campaigns.UpdateStatus(ctx, campaignID, models.CampaignRunning); err != nil {
		return err
	}
	go s.kick(campaignID)
	return nil
}

func encodeVariables(vars map[string]string) string {
	if len(vars) == 0 {
		return ""
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return ""
	}
	return string(b)
}
