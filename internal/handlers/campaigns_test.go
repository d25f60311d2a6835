package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapblast/internal/services"
)

func TestCampaignLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	campaignID := ts.createCampaign(t)

	rec := ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/start", map[string]interface{}{
		"contacts": []map[string]interface{}{
			{"phone": "5511999990001", "name": "Ana"},
			{"phone": "+55 (11) 99999-0001", "name": "Ana de novo"},
			{"phone": "5511999990002", "name": "Bruno", "variables": map[string]string{"name": "Bruno"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	started := decodeMap(t, rec)
	assert.Equal(t, true, started["success"])
	assert.Equal(t, campaignID, started["campaign_id"])
	assert.EqualValues(t, 2, started["enqueued"])
	assert.EqualValues(t, 3, started["total_contacts_received"])
	assert.EqualValues(t, 2, started["unique_valid_phones"])

	rec = ts.asTenant(t, http.MethodGet, "/campaigns/"+campaignID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeMap(t, rec)
	campaign := got["campaign"].(map[string]interface{})
	assert.Equal(t, "running", campaign["status"])
	stats := got["stats"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["total"])
	assert.EqualValues(t, 2, stats["queued"])

	// One synchronous batch drains both recipients.
	rec = ts.asAdmin(t, http.MethodPost, "/admin/campaigns/"+campaignID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeMap(t, rec)["remaining"])
	assert.Equal(t, 2, ts.provider.sendCount())

	rec = ts.asTenant(t, http.MethodGet, "/campaigns/"+campaignID, nil)
	got = decodeMap(t, rec)
	campaign = got["campaign"].(map[string]interface{})
	assert.Equal(t, "completed", campaign["status"])
	assert.EqualValues(t, 2, campaign["sent_count"])
	assert.EqualValues(t, 0, campaign["failed_count"])

	rec = ts.asTenant(t, http.MethodGet, "/campaigns/"+campaignID+"/recipients?status=sent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recipients := decodeMap(t, rec)["recipients"].([]interface{})
	require.Len(t, recipients, 2)
	for _, raw := range recipients {
		entry := raw.(map[string]interface{})
		assert.Equal(t, "sent", entry["status"])
		assert.NotEmpty(t, entry["provider_message_id"])
	}

	// A second process call on the drained campaign is a noop.
	rec = ts.asAdmin(t, http.MethodPost, "/admin/campaigns/"+campaignID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeMap(t, rec)["noop"])
}

func TestStartFailureUsesDocumentedEnvelope(t *testing.T) {
	ts := newTestServer(t)
	campaignID := ts.createCampaign(t)

	// Put the subscription id into the token field, a classic swap.
	rec := ts.asTenant(t, http.MethodPut, "/channels/"+ts.channel.ID+"/credentials", map[string]interface{}{
		"provider_token":  "sub-0123456789abcdef",
		"subscription_id": "sub-0123456789abcdef",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/start", map[string]interface{}{
		"contacts": []map[string]string{{"phone": "5511999990001"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	failed := decodeMap(t, rec)
	assert.Equal(t, false, failed["success"])
	assert.Equal(t, services.PreflightTokenMisconfigured, failed["error_code"])
	assert.EqualValues(t, 0, failed["enqueued"])
	assert.NotEmpty(t, failed["error"])
	assert.NotEmpty(t, failed["details"])
	assert.Zero(t, ts.provider.sendCount())

	rec = ts.asTenant(t, http.MethodGet, "/campaigns/"+campaignID, nil)
	campaign := decodeMap(t, rec)["campaign"].(map[string]interface{})
	assert.Equal(t, "draft", campaign["status"], "a failed start must not touch the campaign")
}

func TestStartUnknownCampaign(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.asTenant(t, http.MethodPost, "/campaigns/does-not-exist/start", map[string]interface{}{
		"contacts": []map[string]string{{"phone": "5511999990001"}},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	failed := decodeMap(t, rec)
	assert.Equal(t, "campaign_not_found", failed["error_code"])
	assert.EqualValues(t, 0, failed["enqueued"])
}

func TestStartWithoutValidContacts(t *testing.T) {
	ts := newTestServer(t)
	campaignID := ts.createCampaign(t)

	rec := ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/start", map[string]interface{}{
		"contacts": []map[string]string{{"phone": "123"}, {"phone": "abc"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_valid_contacts", decodeMap(t, rec)["error_code"])
}

func TestCreateCampaignValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name    string
		payload map[string]interface{}
		status  int
		code    string
	}{
		{
			name:    "missing name",
			payload: map[string]interface{}{"channel_id": ts.channel.ID, "body": "oi"},
			status:  http.StatusBadRequest,
			code:    "invalid_payload",
		},
		{
			name:    "neither body nor template",
			payload: map[string]interface{}{"name": "x", "channel_id": ts.channel.ID},
			status:  http.StatusBadRequest,
			code:    "invalid_payload",
		},
		{
			name:    "unknown speed",
			payload: map[string]interface{}{"name": "x", "channel_id": ts.channel.ID, "body": "oi", "speed": "warp"},
			status:  http.StatusBadRequest,
			code:    "invalid_payload",
		},
		{
			name:    "channel of another tenant",
			payload: map[string]interface{}{"name": "x", "channel_id": "someone-elses", "body": "oi"},
			status:  http.StatusNotFound,
			code:    "channel_not_found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.asTenant(t, http.MethodPost, "/campaigns", tc.payload)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeMap(t, rec)["error_code"])
		})
	}
}

func TestPauseResumeOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	campaignID := ts.createCampaign(t)

	rec := ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/start", map[string]interface{}{
		"contacts": []map[string]string{{"phone": "5511999990001"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	paused := decodeMap(t, rec)
	assert.Equal(t, true, paused["success"])
	assert.Equal(t, "paused", paused["status"])

	rec = ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeMap(t, rec)["error_code"])

	// A paused campaign is invisible to the dispatcher.
	rec = ts.asAdmin(t, http.MethodPost, "/admin/campaigns/"+campaignID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeMap(t, rec)["noop"])

	rec = ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decodeMap(t, rec)["status"])

	rec = ts.asAdmin(t, http.MethodPost, "/admin/campaigns/"+campaignID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeMap(t, rec)["remaining"])
	assert.Equal(t, 1, ts.provider.sendCount())
}

func TestUploadCampaignMediaWhenStoreDisabled(t *testing.T) {
	ts := newTestServer(t)
	campaignID := ts.createCampaign(t)

	rec := ts.asTenant(t, http.MethodPost, "/campaigns/"+campaignID+"/media", map[string]interface{}{
		"media": "data:image/png;base64,AAAA",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "media_disabled", decodeMap(t, rec)["error_code"])

	rec = ts.asTenant(t, http.MethodPost, "/campaigns/unknown/media", map[string]interface{}{
		"media": "data:image/png;base64,AAAA",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "campaign_not_found", decodeMap(t, rec)["error_code"])
}

func TestListCampaigns(t *testing.T) {
	ts := newTestServer(t)
	first := ts.createCampaign(t)
	second := ts.createCampaign(t)

	rec := ts.asTenant(t, http.MethodGet, "/campaigns", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeMap(t, rec)
	assert.Equal(t, true, got["success"])
	campaigns := got["campaigns"].([]interface{})
	require.Len(t, campaigns, 2)

	ids := map[string]bool{}
	for _, raw := range campaigns {
		ids[raw.(map[string]interface{})["id"].(string)] = true
	}
	assert.True(t, ids[first])
	assert.True(t, ids[second])
}
