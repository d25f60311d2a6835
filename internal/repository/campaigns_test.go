package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapblast/internal/models"
)

func TestCampaignClaimIsExclusive(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	lease := 2 * time.Minute

	// draft campaigns cannot be claimed at all
	ok, err := repo.Claim(ctx, campaign.ID, "worker-a", now, lease)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.StartRun(ctx, campaign.ID, 5, models.SpeedFast, now))

	ok, err = repo.Claim(ctx, campaign.ID, "worker-a", now, lease)
	require.NoError(t, err)
	assert.True(t, ok)

	// held lease blocks everyone else
	ok, err = repo.Claim(ctx, campaign.ID, "worker-b", now, lease)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.ReleaseClaim(ctx, campaign.ID, "worker-a"))

	ok, err = repo.Claim(ctx, campaign.ID, "worker-b", now, lease)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCampaignClaimRecoversExpiredLease(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.StartRun(ctx, campaign.ID, 5, models.SpeedFast, now))

	// worker-a claimed ten minutes ago and died without releasing
	stale := now.Add(-10 * time.Minute)
	ok, err := repo.Claim(ctx, campaign.ID, "worker-a", stale, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Claim(ctx, campaign.ID, "worker-b", now, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be reclaimable")

	got, err := repo.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimOwner)
	assert.Equal(t, "worker-b", *got.ClaimOwner)
}

func TestCampaignRefreshClaim(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	lease := 2 * time.Minute

	require.NoError(t, repo.StartRun(ctx, campaign.ID, 5, models.SpeedFast, now))
	ok, err := repo.Claim(ctx, campaign.ID, "worker-a", now, lease)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.RefreshClaim(ctx, campaign.ID, "worker-a", now.Add(time.Minute), lease)
	require.NoError(t, err)
	assert.True(t, ok)

	// the wrong owner never refreshes
	ok, err = repo.RefreshClaim(ctx, campaign.ID, "worker-b", now.Add(time.Minute), lease)
	require.NoError(t, err)
	assert.False(t, ok)

	// pausing kills the claim for the holder too, which is how a dispatch
	// loop learns it must stop
	require.NoError(t, repo.UpdateStatus(ctx, campaign.ID, models.CampaignPaused))
	ok, err = repo.RefreshClaim(ctx, campaign.ID, "worker-a", now.Add(time.Minute), lease)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCampaignStartRunResetsCounters(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.StartRun(ctx, campaign.ID, 2, models.SpeedFast, now))
	require.NoError(t, repo.IncrementSent(ctx, campaign.ID))
	require.NoError(t, repo.IncrementFailed(ctx, campaign.ID))

	done, err := repo.CompleteIfDone(ctx, campaign.ID, now)
	require.NoError(t, err)
	require.True(t, done)

	// second run starts from a clean slate
	require.NoError(t, repo.StartRun(ctx, campaign.ID, 7, models.SpeedSlow, now.Add(time.Hour)))

	got, err := repo.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignRunning, got.Status)
	assert.Equal(t, 7, got.TotalRecipients)
	assert.Zero(t, got.SentCount)
	assert.Zero(t, got.FailedCount)
	assert.Equal(t, models.SpeedSlow, got.Speed)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ClaimOwner)
}

func TestCampaignSwapSentToFailed(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.StartRun(ctx, campaign.ID, 3, models.SpeedFast, now))

	// nothing sent yet, the swap must refuse rather than go negative
	ok, err := repo.SwapSentToFailed(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.IncrementSent(ctx, campaign.ID))
	ok, err = repo.SwapSentToFailed(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
}

func TestCampaignCompleteIfDone(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.StartRun(ctx, campaign.ID, 2, models.SpeedFast, now))

	done, err := repo.CompleteIfDone(ctx, campaign.ID, now)
	require.NoError(t, err)
	assert.False(t, done, "no recipient resolved yet")

	require.NoError(t, repo.IncrementSent(ctx, campaign.ID))
	done, err = repo.CompleteIfDone(ctx, campaign.ID, now)
	require.NoError(t, err)
	assert.False(t, done, "one of two resolved")

	require.NoError(t, repo.IncrementFailed(ctx, campaign.ID))
	done, err = repo.CompleteIfDone(ctx, campaign.ID, now)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := repo.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// already completed, a second call is a no-op
	done, err = repo.CompleteIfDone(ctx, campaign.ID, now)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestCampaignTenantScoping(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	other := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)
	campaign := seedCampaign(t, conn, tenant.ID, channel.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()

	got, err := repo.GetForTenant(ctx, tenant.ID, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.ID, got.ID)

	_, err = repo.GetForTenant(ctx, other.ID, campaign.ID)
	assert.Error(t, err, "foreign tenant must not see the campaign")
}

func TestCampaignListRunnable(t *testing.T) {
	conn := testDB(t)
	tenant := seedTenant(t, conn)
	channel := seedChannel(t, conn, tenant.ID)

	repo := NewCampaignRepo(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	active := seedCampaign(t, conn, tenant.ID, channel.ID)
	require.NoError(t, repo.StartRun(ctx, active.ID, 3, models.SpeedFast, now))

	drained := seedCampaign(t, conn, tenant.ID, channel.ID)
	require.NoError(t, repo.StartRun(ctx, drained.ID, 1, models.SpeedFast, now))
	require.NoError(t, repo.IncrementSent(ctx, drained.ID))

	seedCampaign(t, conn, tenant.ID, channel.ID) // stays draft

	runnable, err := repo.ListRunnable(ctx)
	require.NoError(t, err)
	require.Len(t, runnable, 1)
	assert.Equal(t, active.ID, runnable[0].ID)
}
