package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"zapblast/internal/db"
	"zapblast/internal/models"
)

// testDB opens a per-test in-memory SQLite database. The shared-cache DSN
// keeps the database alive across the pool's reconnects; the unique name
// isolates tests from each other.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.InitSchema(conn))
	return conn
}

func seedTenant(t *testing.T, conn *sqlx.DB) *models.Tenant {
	t.Helper()

	tenant := &models.Tenant{
		ID:                 uuid.New().String(),
		Name:               "acme",
		Token:              uuid.New().String(),
		DefaultCountryCode: "55",
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, NewTenantRepo(conn).Create(context.Background(), tenant))
	return tenant
}

func seedChannel(t *testing.T, conn *sqlx.DB, tenantID string) *models.Channel {
	t.Helper()

	now := time.Now().UTC()
	channel := &models.Channel{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Status:         models.ChannelConnected,
		PhoneNumber:    "5511999990000",
		ProviderToken:  "tok-0123456789abcdef",
		SubscriptionID: "sub-123",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, NewChannelRepo(conn).Create(context.Background(), channel))
	return channel
}

func seedCampaign(t *testing.T, conn *sqlx.DB, tenantID, channelID string) *models.Campaign {
	t.Helper()

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ChannelID: channelID,
		Name:      "spring promo",
		Body:      "hello {{name}}",
		Speed:     models.SpeedFast,
		Status:    models.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, NewCampaignRepo(conn).Create(context.Background(), campaign))
	return campaign
}

func seedContact(t *testing.T, conn *sqlx.DB, tenantID, phone string) *models.Contact {
	t.Helper()

	repo := NewContactRepo(conn)
	saved, failed := repo.UpsertBatch(context.Background(), tenantID, []models.Contact{{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Phone:    phone,
		Name:     "contact " + phone,
	}})
	require.Zero(t, failed)
	require.Len(t, saved, 1)
	return &saved[0]
}

// seedRecipients bulk-inserts n queued recipients and returns them in queue
// order.
func seedRecipients(t *testing.T, conn *sqlx.DB, campaign *models.Campaign, n int) []models.Recipient {
	t.Helper()

	rows := make([]models.Recipient, 0, n)
	for i := 0; i < n; i++ {
		phone := fmt.Sprintf("55119999900%02d", i)
		contact := seedContact(t, conn, campaign.TenantID, phone)
		rows = append(rows, models.Recipient{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			TenantID:   campaign.TenantID,
			Phone:      phone,
		})
	}

	repo := NewRecipientRepo(conn)
	require.Equal(t, n, repo.BulkInsert(context.Background(), rows))

	queued, err := repo.ListQueuedBatch(context.Background(), campaign.ID, n)
	require.NoError(t, err)
	require.Len(t, queued, n)
	return queued
}

func TestPlaceholders(t *testing.T) {
	require.Equal(t, "$1", placeholders(1, 1))
	require.Equal(t, "$3, $4, $5", placeholders(3, 3))
}
