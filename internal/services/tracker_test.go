package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapblast/internal/models"
)

func newTracker(f *fixture) *Tracker {
	return NewTracker(f.recipients, f.campaigns, f.messages, f.conversations,
		f.contacts, f.channels, f.eventLog, nil)
}

func statusEvent(pmid, phone, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"event_type":"message_status","phone":"%s","status":"%s","payload":{"provider_message_id":"%s"}}`,
		phone, status, pmid))
}

func TestIngestDeliveredPromotesRecipient(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	campaign, recs := f.startedCampaign(t, 1)
	ctx := context.Background()

	_, err := f.recipients.MarkSent(ctx, recs[0].ID, "wamid.1", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.campaigns.IncrementSent(ctx, campaign.ID))

	eventID, err := tr.Ingest(ctx, f.tenant.ID, statusEvent("wamid.1", recs[0].Phone, "delivered"))
	require.NoError(t, err)
	assert.NotEmpty(t, eventID)

	rec, err := f.recipients.GetByID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientDelivered, rec.Status)
	assert.NotNil(t, rec.DeliveredAt)

	pending, err := f.eventLog.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "an applied event is marked processed")

	reloaded, err := f.campaigns.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.SentCount, "delivered promotion never touches the sent counter")
}

func TestIngestEarlyWebhookStaysPendingThenReplays(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	_, recs := f.startedCampaign(t, 1)
	ctx := context.Background()

	// The provider's webhook can outrun our own sent write. The recipient is
	// still queued, so nothing matches yet.
	_, err := tr.Ingest(ctx, f.tenant.ID, statusEvent("wamid.9", recs[0].Phone, "delivered"))
	require.NoError(t, err)

	pending, err := f.eventLog.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "an unmatched event stays replayable")

	rec, err := f.recipients.GetByID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientQueued, rec.Status)

	// Once the sent write lands, the replay settles the stored event.
	_, err = f.recipients.MarkSent(ctx, recs[0].ID, "wamid.9", time.Now().UTC())
	require.NoError(t, err)

	processed, skipped := tr.ReprocessPending(ctx, 10)
	assert.Equal(t, 1, processed)
	assert.Zero(t, skipped)

	rec, err = f.recipients.GetByID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientDelivered, rec.Status)

	pending, err = f.eventLog.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestIngestFailedAfterSentSwapsCounters(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	campaign, recs := f.startedCampaign(t, 1)
	ctx := context.Background()

	_, err := f.recipients.MarkSent(ctx, recs[0].ID, "wamid.2", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.campaigns.IncrementSent(ctx, campaign.ID))

	_, err = tr.Ingest(ctx, f.tenant.ID, statusEvent("wamid.2", recs[0].Phone, "failed"))
	require.NoError(t, err)

	rec, err := f.recipients.GetByID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientFailed, rec.Status)

	reloaded, err := f.campaigns.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.SentCount)
	assert.Equal(t, 1, reloaded.FailedCount)
}

func TestPromotionsNeverTouchSentCount(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	campaign, recs := f.startedCampaign(t, 3)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, rec := range recs {
		_, err := f.recipients.MarkSent(ctx, rec.ID, fmt.Sprintf("wamid.%d", i), now)
		require.NoError(t, err)
		require.NoError(t, f.campaigns.IncrementSent(ctx, campaign.ID))
	}

	_, err := tr.Ingest(ctx, f.tenant.ID, statusEvent("wamid.0", recs[0].Phone, "delivered"))
	require.NoError(t, err)
	_, err = tr.Ingest(ctx, f.tenant.ID, statusEvent("wamid.1", recs[1].Phone, "read"))
	require.NoError(t, err)

	reloaded, err := f.campaigns.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.SentCount)
	assert.Zero(t, reloaded.FailedCount)

	read, err := f.recipients.GetByID(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientRead, read.Status)
	assert.NotNil(t, read.DeliveredAt, "a read without a delivered event backfills delivered_at")
}

func TestIngestInboundCreatesConversationAndMessage(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	ctx := context.Background()

	raw := []byte(fmt.Sprintf(
		`{"event_type":"inbound_message","phone":"+55 (11) 98888-0001","payload":{"body":"oi, quero saber mais","channel_id":"%s","name":"Cliente"}}`,
		f.channel.ID))

	_, err := tr.Ingest(ctx, f.tenant.ID, raw)
	require.NoError(t, err)

	contact, err := f.contacts.GetByPhone(ctx, f.tenant.ID, "5511988880001")
	require.NoError(t, err)
	assert.Equal(t, "Cliente", contact.Name)

	conv, err := f.conversations.GetOrCreate(ctx, f.tenant.ID, f.channel.ID, contact.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastInboundAt)
	assert.True(t, CalculateWindow(conv.LastInboundAt, time.Now().UTC()).IsOpen,
		"an inbound message opens the messaging window")

	messages, err := f.messages.ListByConversation(ctx, f.tenant.ID, conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.DirectionInbound, messages[0].Direction)
	assert.Equal(t, "oi, quero saber mais", messages[0].Body)

	pending, err := f.eventLog.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	ctx := context.Background()

	_, err := tr.Ingest(ctx, f.tenant.ID, []byte(`{"event_type":`))
	assert.Error(t, err)

	_, err = tr.Ingest(ctx, f.tenant.ID, []byte(`{"phone":"5511999990001"}`))
	assert.Error(t, err, "an event without event_type is unroutable")

	pending, err := f.eventLog.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "rejected payloads are not logged")
}

func TestIngestConsumesUnknownEventType(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	ctx := context.Background()

	_, err := tr.Ingest(ctx, f.tenant.ID, []byte(`{"event_type":"contact_typing","phone":"5511999990001"}`))
	require.NoError(t, err)

	pending, err := f.eventLog.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "unknown types are settled, not replayed forever")
}

func TestReconcileAnnotatesOnlyLongStuck(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	campaign, recs := f.startedCampaign(t, 3)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := f.recipients.MarkSent(ctx, recs[0].ID, "wamid.old", now.Add(-15*time.Minute))
	require.NoError(t, err)
	_, err = f.recipients.MarkSent(ctx, recs[1].ID, "wamid.recent", now.Add(-5*time.Minute))
	require.NoError(t, err)
	// recs[2] stays queued and is out of scope for the sweep

	result := tr.Reconcile(ctx, ReconcileRequest{CampaignID: campaign.ID})
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Updated, "only the recipient past the no-webhook deadline gets annotated")
	assert.Zero(t, result.Errors)
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))

	annotated, err := f.recipients.GetByID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientSent, annotated.Status, "reconciliation is advisory, it never rewrites status")
	require.NotNil(t, annotated.LastError)
	assert.Contains(t, *annotated.LastError, "webhook not received")

	// the same sweep again finds nothing new to write
	again := tr.Reconcile(ctx, ReconcileRequest{CampaignID: campaign.ID})
	assert.Zero(t, again.Updated)
}

func TestReconcileClampsAgeThreshold(t *testing.T) {
	f := newFixture(t)
	tr := newTracker(f)
	campaign, recs := f.startedCampaign(t, 1)
	ctx := context.Background()

	_, err := f.recipients.MarkSent(ctx, recs[0].ID, "wamid.fresh", time.Now().UTC().Add(-10*time.Second))
	require.NoError(t, err)

	// 5 seconds is below the floor; the clamp keeps a 10-second-old send out
	// of the sweep.
	result := tr.Reconcile(ctx, ReconcileRequest{CampaignID: campaign.ID, AgeThresholdSeconds: 5})
	assert.Zero(t, result.Checked)
}
