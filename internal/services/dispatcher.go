package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapblast/internal/adapters/meta"
	"zapblast/internal/events"
	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// BatchResult is what one batch-processing call reports back: either work
// happened and some recipients remain, or there was nothing to do.
type BatchResult struct {
	Remaining int
	Noop      bool
}

// Dispatcher sends one rate-limited batch per call. The per-campaign claim
// in storage guarantees at most one in-flight batch per campaign even across
// multiple instances; the claim is refreshed before every message, which
// doubles as the pause check.
type Dispatcher struct {
	campaigns  *repository.CampaignRepo
	recipients *repository.RecipientRepo
	channels   *repository.ChannelRepo
	clients    *meta.ClientManager
	sink       EventPublisher

	owner     string
	batchSize int
	lease     time.Duration

	// sleep is swappable so tests do not sit through pacing delays.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewDispatcher(
	campaigns *repository.CampaignRepo,
	recipients *repository.RecipientRepo,
	channels *repository.ChannelRepo,
	clients *meta.ClientManager,
	sink EventPublisher,
	batchSize int,
	lease time.Duration,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 20
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	if sink == nil {
		sink = NopPublisher{}
	}
	return &Dispatcher{
		campaigns:  campaigns,
		recipients: recipients,
		channels:   channels,
		clients:    clients,
		sink:       sink,
		owner:      uuid.New().String(),
		batchSize:  batchSize,
		lease:      lease,
		sleep:      sleepCtx,
	}
}

// ProcessBatch claims the campaign, sends up to one batch with the
// campaign's pacing delay between messages, and releases the claim. Returns
// Noop when the campaign is not running or another worker holds the claim.
func (d *Dispatcher) ProcessBatch(ctx context.Context, campaignID string) (*BatchResult, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	if campaign.Status != models.CampaignRunning {
		return &BatchResult{Noop: true}, nil
	}
	if campaign.Remaining() <= 0 {
		if done, _ := d.campaigns.CompleteIfDone(ctx, campaignID, time.Now().UTC()); done {
			d.sink.CampaignEvent(events.EventCampaignCompleted, campaign)
		}
		return &BatchResult{Remaining: 0}, nil
	}

	now := time.Now().UTC()
	claimed, err := d.campaigns.Claim(ctx, campaignID, d.owner, now, d.lease)
	if err != nil {
		return nil, fmt.Errorf("claim campaign: %w", err)
	}
	if !claimed {
		return &BatchResult{Noop: true}, nil
	}
	defer func() {
		if err := d.campaigns.ReleaseClaim(context.WithoutCancel(ctx), campaignID, d.owner); err != nil {
			log.Warn().Err(err).Str("campaign_id", campaignID).Msg("Failed to release dispatch claim")
		}
	}()

	batch, err := d.recipients.ListQueuedBatch(ctx, campaignID, d.batchSize)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if len(batch) == 0 {
		d.finish(ctx, campaign)
		return d.remaining(ctx, campaignID)
	}

	client, prepErr := d.clientFor(ctx, campaign)
	if prepErr != nil {
		// Channel-level config problems fail each recipient in the batch
		// individually so the run drains instead of spinning forever.
		for _, rec := range batch {
			d.recordFailure(ctx, campaign, &rec, prepErr)
		}
		d.finish(ctx, campaign)
		return d.remaining(ctx, campaignID)
	}

	for i := range batch {
		if i > 0 && !d.sleep(ctx, campaign.Speed.Delay()) {
			log.Info().Str("campaign_id", campaignID).Msg("Batch interrupted by shutdown")
			break
		}

		// Re-checking the claim between messages picks up a pause or a
		// takeover; the message already on the wire is awaited, never
		// abandoned.
		alive, err := d.campaigns.RefreshClaim(ctx, campaignID, d.owner, time.Now().UTC(), d.lease)
		if err != nil || !alive {
			log.Info().Str("campaign_id", campaignID).Bool("claim_alive", alive).
				Msg("Stopping batch early, campaign paused or claim lost")
			break
		}

		d.sendOne(ctx, campaign, client, &batch[i])
	}

	d.finish(ctx, campaign)
	return d.remaining(ctx, campaignID)
}

// Owner identifies this dispatcher instance in claim rows.
func (d *Dispatcher) Owner() string { return d.owner }

// clientFor resolves the campaign's channel into a ready provider client,
// or a SendError naming the config problem.
func (d *Dispatcher) clientFor(ctx context.Context, campaign *models.Campaign) (*meta.Client, *meta.SendError) {
	channel, err := d.channels.GetByID(ctx, campaign.ChannelID)
	if err != nil {
		return nil, meta.NewSendError(meta.CodeChannelNotFound, meta.Remediation(meta.CodeChannelNotFound))
	}

	token, _, ok := ExtractToken(channel.ProviderToken)
	if !ok {
		return nil, meta.NewSendError(meta.CodeMissingToken, meta.Remediation(meta.CodeMissingToken))
	}
	if channel.SubscriptionID == "" {
		return nil, meta.NewSendError(meta.CodeMissingSubscription, meta.Remediation(meta.CodeMissingSubscription))
	}
	if token == channel.SubscriptionID {
		return nil, meta.NewSendError(meta.CodeTokenMisconfigured, meta.Remediation(meta.CodeTokenMisconfigured))
	}

	client, err := d.clients.For(channel, token)
	if err != nil {
		return nil, meta.NewSendError(meta.CodeProviderError, err.Error())
	}
	return client, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, campaign *models.Campaign, client *meta.Client, rec *models.Recipient) {
	to := "+" + rec.Phone
	vars := decodeVariables(rec.Variables)

	var providerMessageID string
	var err error
	switch {
	case campaign.TemplateID != "":
		providerMessageID, err = client.SendTemplate(ctx, to, campaign.TemplateID, templateComponents(vars))
	case campaign.MediaURL != "":
		providerMessageID, err = client.SendMedia(ctx, to, campaign.MediaURL, campaign.MediaMime, renderBody(campaign.Body, vars))
	default:
		providerMessageID, err = client.SendText(ctx, to, renderBody(campaign.Body, vars))
	}

	if err != nil {
		var sendErr *meta.SendError
		if !errors.As(err, &sendErr) {
			sendErr = meta.NewSendError(meta.CodeProviderError, err.Error())
		}
		d.recordFailure(ctx, campaign, rec, sendErr)
		return
	}

	now := time.Now().UTC()
	applied, err := d.recipients.MarkSent(ctx, rec.ID, providerMessageID, now)
	if err != nil {
		log.Error().Err(err).Str("recipient_id", rec.ID).Msg("Failed to record sent recipient")
		return
	}
	if !applied {
		// Someone already moved this row; the counter stays untouched.
		return
	}
	if err := d.campaigns.IncrementSent(ctx, campaign.ID); err != nil {
		log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("Failed to increment sent counter")
	}

	rec.Status = models.RecipientSent
	rec.ProviderMessageID = &providerMessageID
	rec.SentAt = &now
	d.sink.RecipientEvent(events.EventMessageSent, campaign, rec, "")

	log.Debug().
		Str("campaign_id", campaign.ID).
		Str("recipient_id", rec.ID).
		Str("provider_message_id", providerMessageID).
		Msg("Recipient sent")
}

func (d *Dispatcher) recordFailure(ctx context.Context, campaign *models.Campaign, rec *models.Recipient, sendErr *meta.SendError) {
	now := time.Now().UTC()
	applied, err := d.recipients.MarkFailed(ctx, rec.ID, sendErr.Error(), now)
	if err != nil {
		log.Error().Err(err).Str("recipient_id", rec.ID).Msg("Failed to record failed recipient")
		return
	}
	if !applied {
		return
	}
	if err := d.campaigns.IncrementFailed(ctx, campaign.ID); err != nil {
		log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("Failed to increment failed counter")
	}

	rec.Status = models.RecipientFailed
	rec.FailedAt = &now
	reason := sendErr.Error()
	rec.LastError = &reason
	d.sink.RecipientEvent(events.EventMessageFailed, campaign, rec, sendErr.Code)

	log.Warn().
		Str("campaign_id", campaign.ID).
		Str("recipient_id", rec.ID).
		Str("code", sendErr.Code).
		Msg("Recipient failed")
}

// finish closes the campaign out when its counters say every recipient
// resolved. The SQL guard makes this safe to call optimistically.
func (d *Dispatcher) finish(ctx context.Context, campaign *models.Campaign) {
	done, err := d.campaigns.CompleteIfDone(ctx, campaign.ID, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("Completion check failed")
		return
	}
	if done {
		log.Info().Str("campaign_id", campaign.ID).Msg("Campaign completed")
		d.sink.CampaignEvent(events.EventCampaignCompleted, campaign)
	}
}

func (d *Dispatcher) remaining(ctx context.Context, campaignID string) (*BatchResult, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("reload campaign: %w", err)
	}
	r := campaign.Remaining()
	if r < 0 {
		r = 0
	}
	return &BatchResult{Remaining: r}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
