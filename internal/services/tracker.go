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

	"zapblast/internal/events"
	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// IngressEvent is one provider-pushed webhook event after parsing.
type IngressEvent struct {
	EventType string         `json:"event_type"`
	Phone     string         `json:"phone"`
	Status    string         `json:"status"`
	Payload   IngressPayload `json:"payload"`
}

// IngressPayload is the provider-specific inner blob. Only the fields the
// tracker matches on are modeled.
type IngressPayload struct {
	ProviderMessageID string `json:"provider_message_id"`
	MessageID         string `json:"message_id"`
	ChannelID         string `json:"channel_id"`
	Body              string `json:"body"`
	Name              string `json:"name"`
}

// ProviderMessageID returns whichever message id field the provider filled.
func (e *IngressEvent) ProviderMessageID() string {
	if e.Payload.ProviderMessageID != "" {
		return e.Payload.ProviderMessageID
	}
	return e.Payload.MessageID
}

// ParseIngress decodes a raw webhook body. Used on live ingress and again
// when replaying stored events.
func ParseIngress(raw []byte) (*IngressEvent, error) {
	var evt IngressEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if evt.EventType == "" {
		return nil, errors.New("webhook payload missing event_type")
	}
	return &evt, nil
}

// ReconcileRequest scopes a polling-fallback pass. Zero values mean "all".
type ReconcileRequest struct {
	CampaignID          string `json:"campaign_id,omitempty"`
	TenantID            string `json:"tenant_id,omitempty"`
	AgeThresholdSeconds int    `json:"age_threshold_seconds,omitempty"`
}

// ReconcileResult reports one pass of the polling fallback.
type ReconcileResult struct {
	Checked    int   `json:"checked"`
	Updated    int   `json:"updated"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"duration_ms"`
}

const (
	defaultReconcileAge = 90 * time.Second
	minReconcileAge     = 30 * time.Second
	maxReconcileAge     = 3600 * time.Second
	noWebhookAfter      = 10 * time.Minute
	reconcileBatchCap   = 100
)

// Tracker is the delivery status tracker: it ingests provider webhooks
// (log first, apply second, mark processed last) and runs the polling
// fallback for recipients whose webhook never arrived.
type Tracker struct {
	recipients    *repository.RecipientRepo
	campaigns     *repository.CampaignRepo
	messages      *repository.MessageRepo
	conversations *repository.ConversationRepo
	contacts      *repository.ContactRepo
	channels      *repository.ChannelRepo
	eventLog      *repository.WebhookEventRepo
	sink          EventPublisher
}

func NewTracker(
	recipients *repository.RecipientRepo,
	campaigns *repository.CampaignRepo,
	messages *repository.MessageRepo,
	conversations *repository.ConversationRepo,
	contacts *repository.ContactRepo,
	channels *repository.ChannelRepo,
	eventLog *repository.WebhookEventRepo,
	sink EventPublisher,
) *Tracker {
	if sink == nil {
		sink = NopPublisher{}
	}
	return &Tracker{
		recipients:    recipients,
		campaigns:     campaigns,
		messages:      messages,
		conversations: conversations,
		contacts:      contacts,
		channels:      channels,
		eventLog:      eventLog,
		sink:          sink,
	}
}

// Ingest persists the raw event, then applies it. The write-ahead ordering
// means a crash between the two steps loses nothing: the event stays
// unprocessed and a replay picks it up. Returns the stored event id.
func (t *Tracker) Ingest(ctx context.Context, tenantID string, raw []byte) (string, error) {
	evt, err := ParseIngress(raw)
	if err != nil {
		return "", err
	}

	stored := &models.WebhookEvent{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EventType: evt.EventType,
		Phone:     digitsOnly(evt.Phone),
		Status:    evt.Status,
		Payload:   string(raw),
	}
	if err := t.eventLog.Insert(ctx, stored); err != nil {
		return "", fmt.Errorf("log webhook event: %w", err)
	}

	if applied := t.apply(ctx, tenantID, evt, stored.Phone); applied {
		if err := t.eventLog.MarkProcessed(ctx, stored.ID, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("event_id", stored.ID).Msg("Could not mark webhook event processed")
		}
	} else {
		log.Warn().
			Str("event_id", stored.ID).
			Str("event_type", evt.EventType).
			Str("phone", stored.Phone).
			Msg("Webhook event left unprocessed for replay")
	}

	return stored.ID, nil
}

// ReprocessPending replays stored events that never applied, oldest first.
// Called on startup and from the admin replay endpoint.
func (t *Tracker) ReprocessPending(ctx context.Context, limit int) (processed, skipped int) {
	pending, err := t.eventLog.ListUnprocessed(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("Could not list unprocessed webhook events")
		return 0, 0
	}

	for i := range pending {
		stored := &pending[i]
		evt, err := ParseIngress([]byte(stored.Payload))
		if err != nil {
			// Unparseable events can never apply; consume them so they stop
			// clogging the replay window.
			log.Warn().Err(err).Str("event_id", stored.ID).Msg("Dropping unparseable stored event")
			_ = t.eventLog.MarkProcessed(ctx, stored.ID, time.Now().UTC())
			skipped++
			continue
		}
		if t.apply(ctx, stored.TenantID, evt, stored.Phone) {
			if err := t.eventLog.MarkProcessed(ctx, stored.ID, time.Now().UTC()); err == nil {
				processed++
			}
		} else {
			skipped++
		}
	}

	if processed > 0 || skipped > 0 {
		log.Info().Int("processed", processed).Int("skipped", skipped).
			Msg("Webhook event replay finished")
	}
	return processed, skipped
}

// apply routes one event. True means the event is settled: it either changed
// state or was a legal no-op (stale by monotonicity, unknown type). False
// means it could not be matched yet and should stay replayable.
func (t *Tracker) apply(ctx context.Context, tenantID string, evt *IngressEvent, phone string) bool {
	switch evt.EventType {
	case events.IngressMessageStatus:
		return t.applyStatus(ctx, tenantID, evt, phone)
	case events.IngressInboundMessage:
		return t.applyInbound(ctx, tenantID, evt, phone)
	default:
		log.Warn().Str("event_type", evt.EventType).Msg("Ignoring unknown webhook event type")
		return true
	}
}

// applyStatus promotes a campaign recipient or a conversation message.
// Matching prefers the provider message id; a phone-only event falls back to
// the most recent sent recipient for that phone.
func (t *Tracker) applyStatus(ctx context.Context, tenantID string, evt *IngressEvent, phone string) bool {
	rec := t.matchRecipient(ctx, tenantID, evt.ProviderMessageID(), phone)
	if rec != nil {
		t.promoteRecipient(ctx, rec, evt.Status)
		return true
	}

	if pmid := evt.ProviderMessageID(); pmid != "" {
		status := conversationStatus(evt.Status)
		if status == "" {
			return true
		}
		applied, err := t.messages.ApplyProviderStatus(ctx, tenantID, pmid, status, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Str("provider_message_id", pmid).Msg("Could not apply message status")
			return false
		}
		if applied {
			t.sink.ConversationEvent(eventForStatus(evt.Status), &models.Message{
				TenantID:          tenantID,
				ProviderMessageID: &pmid,
				Status:            status,
			}, "")
			return true
		}
	}

	// Nothing matched. Provider webhooks can outrun the dispatcher's own
	// sent write; leaving the event unprocessed lets the replay settle it.
	return false
}

func (t *Tracker) matchRecipient(ctx context.Context, tenantID, providerMessageID, phone string) *models.Recipient {
	if providerMessageID != "" {
		rec, err := t.recipients.FindByProviderMessageID(ctx, tenantID, providerMessageID)
		if err == nil {
			return rec
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Error().Err(err).Str("provider_message_id", providerMessageID).Msg("Recipient lookup failed")
			return nil
		}
	}
	if phone != "" {
		rec, err := t.recipients.FindLatestSentByPhone(ctx, tenantID, phone)
		if err == nil {
			return rec
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Error().Err(err).Str("phone", phone).Msg("Recipient lookup by phone failed")
		}
	}
	return nil
}

// promoteRecipient applies a status event to a recipient under the
// forward-only rule. A delivered/read promotion never touches sent_count; a
// post-send failure swaps one sent for one failed so the counter invariant
// holds.
func (t *Tracker) promoteRecipient(ctx context.Context, rec *models.Recipient, status string) {
	now := time.Now().UTC()

	switch status {
	case "delivered":
		applied, err := t.recipients.MarkDelivered(ctx, rec.ID, now)
		t.logApply(err, rec.ID, status)
		if applied {
			rec.Status = models.RecipientDelivered
			t.sink.RecipientEvent(events.EventMessageDelivered, nil, rec, "")
		}
	case "read":
		applied, err := t.recipients.MarkRead(ctx, rec.ID, now)
		t.logApply(err, rec.ID, status)
		if applied {
			rec.Status = models.RecipientRead
			t.sink.RecipientEvent(events.EventMessageRead, nil, rec, "")
		}
	case "failed":
		reason := "provider reported delivery failure"
		applied, err := t.recipients.MarkFailedAfterSent(ctx, rec.ID, reason, now)
		t.logApply(err, rec.ID, status)
		if applied {
			if _, err := t.campaigns.SwapSentToFailed(ctx, rec.CampaignID); err != nil {
				log.Error().Err(err).Str("campaign_id", rec.CampaignID).Msg("Counter swap failed")
			}
			rec.Status = models.RecipientFailed
			t.sink.RecipientEvent(events.EventMessageFailed, nil, rec, reason)
		}
	case "sent":
		// The dispatcher already recorded this transition.
	default:
		log.Warn().Str("status", status).Str("recipient_id", rec.ID).Msg("Ignoring unknown status value")
	}
}

func (t *Tracker) logApply(err error, recipientID, status string) {
	if err != nil {
		log.Error().Err(err).Str("recipient_id", recipientID).Str("status", status).
			Msg("Could not apply recipient status")
	}
}

// applyInbound records a contact reply: upsert the contact, touch the
// conversation's last_inbound_at (which reopens the messaging window) and
// store the message.
func (t *Tracker) applyInbound(ctx context.Context, tenantID string, evt *IngressEvent, phone string) bool {
	if phone == "" {
		log.Warn().Msg("Inbound event without phone, nothing to match")
		return true
	}

	stored, failed := t.contacts.UpsertBatch(ctx, tenantID, []models.Contact{{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Phone:    phone,
		Name:     evt.Payload.Name,
	}})
	if failed > 0 || len(stored) == 0 {
		log.Error().Str("phone", phone).Msg("Could not upsert inbound contact")
		return false
	}
	contact := stored[0]

	channel, err := t.resolveChannel(ctx, tenantID, evt.Payload.ChannelID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Inbound event has no resolvable channel")
		return false
	}

	conv, err := t.conversations.GetOrCreate(ctx, tenantID, channel.ID, contact.ID)
	if err != nil {
		log.Error().Err(err).Msg("Could not resolve conversation for inbound message")
		return false
	}

	now := time.Now().UTC()
	if err := t.conversations.TouchInbound(ctx, conv.ID, now); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Could not touch conversation window")
		return false
	}

	pmid := evt.ProviderMessageID()
	msg := &models.Message{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		Kind:           models.KindText,
		Body:           evt.Payload.Body,
		Status:         models.MessageDelivered,
	}
	if pmid != "" {
		msg.ProviderMessageID = &pmid
	}
	if err := t.messages.Create(ctx, msg); err != nil {
		log.Error().Err(err).Msg("Could not store inbound message")
		return false
	}

	t.sink.ConversationEvent(events.EventInboundMessage, msg, "")
	return true
}

func (t *Tracker) resolveChannel(ctx context.Context, tenantID, channelID string) (*models.Channel, error) {
	if channelID != "" {
		channel, err := t.channels.GetByID(ctx, channelID)
		if err == nil && channel.TenantID == tenantID {
			return channel, nil
		}
	}
	channels, err := t.channels.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("tenant %s has no channels", tenantID)
	}
	return &channels[0], nil
}

// Reconcile is the polling fallback: sweep recipients stuck in sent past
// the age threshold and annotate the long-stuck ones. It never rewrites the
// status field, so delivery metrics stay truthful; the annotation is a
// monitoring signal only.
func (t *Tracker) Reconcile(ctx context.Context, req ReconcileRequest) *ReconcileResult {
	start := time.Now()
	result := &ReconcileResult{}

	age := defaultReconcileAge
	if req.AgeThresholdSeconds > 0 {
		age = time.Duration(req.AgeThresholdSeconds) * time.Second
	}
	if age < minReconcileAge {
		age = minReconcileAge
	}
	if age > maxReconcileAge {
		age = maxReconcileAge
	}

	now := time.Now().UTC()
	stuck, err := t.recipients.ListStuckSent(ctx, req.CampaignID, req.TenantID, now.Add(-age), reconcileBatchCap)
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation sweep could not list recipients")
		result.Errors++
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	for i := range stuck {
		rec := &stuck[i]
		result.Checked++

		if rec.SentAt == nil {
			continue
		}
		waited := now.Sub(*rec.SentAt)
		if waited < noWebhookAfter {
			continue
		}

		note := fmt.Sprintf("webhook not received after %d minutes", int(waited.Minutes()))
		applied, err := t.recipients.AnnotateNoWebhook(ctx, rec.ID, note, now)
		if err != nil {
			log.Error().Err(err).Str("recipient_id", rec.ID).Msg("Could not annotate recipient")
			result.Errors++
			continue
		}
		if applied {
			result.Updated++
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	log.Info().
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Int("errors", result.Errors).
		Int64("duration_ms", result.DurationMs).
		Msg("Reconciliation sweep finished")
	return result
}

// digitsOnly strips phone formatting without applying country-code rules:
// webhook phones arrive fully qualified.
func digitsOnly(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			out = append(out, raw[i])
		}
	}
	return string(out)
}

func conversationStatus(status string) models.MessageStatus {
	switch status {
	case "delivered":
		return models.MessageDelivered
	case "read":
		return models.MessageRead
	case "failed":
		return models.MessageFailed
	default:
		return ""
	}
}

func eventForStatus(status string) string {
	switch status {
	case "delivered":
		return events.EventMessageDelivered
	case "read":
		return events.EventMessageRead
	case "failed":
		return events.EventMessageFailed
	default:
		return events.EventMessageSent
	}
}
