package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"zapblast/internal/adapters/meta"
	"zapblast/internal/db"
	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// fixture bundles the stores a service test wires together, plus a tenant
// and a connected channel every scenario needs anyway.
type fixture struct {
	conn          *sqlx.DB
	tenants       *repository.TenantRepo
	channels      *repository.ChannelRepo
	campaigns     *repository.CampaignRepo
	contacts      *repository.ContactRepo
	recipients    *repository.RecipientRepo
	conversations *repository.ConversationRepo
	messages      *repository.MessageRepo
	eventLog      *repository.WebhookEventRepo

	tenant  *models.Tenant
	channel *models.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitSchema(conn))

	f := &fixture{
		conn:          conn,
		tenants:       repository.NewTenantRepo(conn),
		channels:      repository.NewChannelRepo(conn),
		campaigns:     repository.NewCampaignRepo(conn),
		contacts:      repository.NewContactRepo(conn),
		recipients:    repository.NewRecipientRepo(conn),
		conversations: repository.NewConversationRepo(conn),
		messages:      repository.NewMessageRepo(conn),
		eventLog:      repository.NewWebhookEventRepo(conn),
	}

	ctx := context.Background()
	f.tenant = &models.Tenant{
		ID:                 uuid.New().String(),
		Name:               "acme",
		Token:              uuid.New().String(),
		DefaultCountryCode: "55",
	}
	require.NoError(t, f.tenants.Create(ctx, f.tenant))

	f.channel = &models.Channel{
		ID:             uuid.New().String(),
		TenantID:       f.tenant.ID,
		Status:         models.ChannelConnected,
		PhoneNumber:    "5511999990000",
		ProviderToken:  "tok-0123456789abcdef",
		SubscriptionID: "sub-123",
	}
	require.NoError(t, f.channels.Create(ctx, f.channel))

	return f
}

func (f *fixture) newCampaign(t *testing.T, body string) *models.Campaign {
	t.Helper()

	campaign := &models.Campaign{
		ID:        uuid.New().String(),
		TenantID:  f.tenant.ID,
		ChannelID: f.channel.ID,
		Name:      "spring promo",
		Body:      body,
		Speed:     models.SpeedFast,
		Status:    models.CampaignDraft,
	}
	require.NoError(t, f.campaigns.Create(context.Background(), campaign))
	return campaign
}

// startedCampaign puts a campaign into running with n queued recipients, the
// state the dispatcher and tracker operate on.
func (f *fixture) startedCampaign(t *testing.T, n int) (*models.Campaign, []models.Recipient) {
	t.Helper()

	campaign := f.newCampaign(t, "hello {{name}}")
	ctx := context.Background()

	rows := make([]models.Recipient, 0, n)
	for i := 0; i < n; i++ {
		phone := fmt.Sprintf("55119999901%02d", i)
		contact := seedContact(t, f.contacts, f.tenant.ID, phone)
		rows = append(rows, models.Recipient{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			TenantID:   f.tenant.ID,
			Phone:      phone,
		})
	}
	require.Equal(t, n, f.recipients.BulkInsert(ctx, rows))
	require.NoError(t, f.campaigns.StartRun(ctx, campaign.ID, n, models.SpeedFast, time.Now().UTC()))

	queued, err := f.recipients.ListQueuedBatch(ctx, campaign.ID, n)
	require.NoError(t, err)
	require.Len(t, queued, n)

	campaign, err = f.campaigns.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	return campaign, queued
}

func seedContact(t *testing.T, repo *repository.ContactRepo, tenantID, phone string) *models.Contact {
	t.Helper()

	stored, failed := repo.UpsertBatch(context.Background(), tenantID, []models.Contact{{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Phone:    phone,
		Name:     "Maria",
	}})
	require.Zero(t, failed)
	require.Len(t, stored, 1)
	return &stored[0]
}

// stubProvider stands in for the messaging API: every send is accepted with a
// fresh message id unless the handler is overridden.
func stubProvider(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.%d"}]}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// okProbe short-circuits the live credentials check for scenarios that are
// not about preflight.
func okProbe(p *Preflight) *Preflight {
	p.probe = func(context.Context, string, string, string, time.Duration) meta.ProbeResult {
		return meta.ProbeResult{Outcome: meta.ProbeOK, StatusCode: 200}
	}
	return p
}
