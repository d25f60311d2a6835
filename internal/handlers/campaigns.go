package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
	"zapblast/internal/services"
)

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"scheduler": s.scheduler.IsRunning(),
		})
	}
}

func (s *Server) CreateCampaign() http.HandlerFunc {
	type request struct {
		Name       string           `json:"name"`
		ChannelID  string           `json:"channel_id"`
		Body       string           `json:"body"`
		TemplateID string           `json:"template_id"`
		Speed      models.SpeedTier `json:"speed"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" || req.ChannelID == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "name and channel_id are required")
			return
		}
		if req.Body == "" && req.TemplateID == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "either body or template_id is required")
			return
		}
		speed := req.Speed
		if speed == "" {
			speed = models.SpeedNormal
		}
		if !speed.Valid() {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "speed must be slow, normal or fast")
			return
		}

		channel, err := s.channels.GetByID(r.Context(), req.ChannelID)
		if err != nil || channel.TenantID != tenant.ID {
			s.respondError(w, http.StatusNotFound, "channel_not_found", "channel not found")
			return
		}

		now := time.Now().UTC()
		campaign := &models.Campaign{
			ID:         uuid.New().String(),
			TenantID:   tenant.ID,
			ChannelID:  req.ChannelID,
			Name:       req.Name,
			Body:       req.Body,
			TemplateID: req.TemplateID,
			Speed:      speed,
			Status:     models.CampaignDraft,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.campaigns.Create(r.Context(), campaign); err != nil {
			log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to create campaign")
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not create campaign")
			return
		}

		s.respondWithJSON(w, http.StatusCreated, campaign)
	}
}

func (s *Server) ListCampaigns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		limit, offset := pagination(r, 50)

		campaigns, err := s.campaigns.ListByTenant(r.Context(), tenant.ID, limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not list campaigns")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"campaigns": campaigns,
		})
	}
}

func (s *Server) GetCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		campaign, err := s.campaigns.GetForTenant(r.Context(), tenant.ID, id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, "campaign_not_found", "campaign not found")
			return
		}
		stats, err := s.recipients.CountByStatus(r.Context(), campaign.ID)
		if err != nil {
			log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("Failed to count recipients")
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"campaign": campaign,
			"stats":    stats,
		})
	}
}

// StartCampaign builds the recipient queue and flips the campaign to
// running. Failures use the documented envelope with enqueued pinned to 0 so
// callers can always read the same fields.
func (s *Server) StartCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req services.StartRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		req.CampaignID = mux.Vars(r)["id"]

		result, err := s.starter.Start(r.Context(), tenant, req)
		if err != nil {
			s.respondStartFailure(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, result)
	}
}

func (s *Server) respondStartFailure(w http.ResponseWriter, err error) {
	payload := map[string]interface{}{
		"success":  false,
		"error":    err.Error(),
		"enqueued": 0,
	}

	status := http.StatusInternalServerError
	var preflightErr *services.PreflightError
	switch {
	case errors.As(err, &preflightErr):
		status = http.StatusUnprocessableEntity
		payload["error"] = preflightErr.Message
		payload["error_code"] = preflightErr.Code
		payload["details"] = preflightRemediation(preflightErr.Code)
	case errors.Is(err, services.ErrCampaignNotFound):
		status = http.StatusNotFound
		payload["error_code"] = "campaign_not_found"
	case errors.Is(err, services.ErrChannelNotFound):
		status = http.StatusNotFound
		payload["error_code"] = "channel_not_found"
	case errors.Is(err, services.ErrCampaignAlreadyRunning):
		status = http.StatusConflict
		payload["error_code"] = "already_running"
	case errors.Is(err, services.ErrNoValidContacts):
		status = http.StatusBadRequest
		payload["error_code"] = "no_valid_contacts"
	case errors.Is(err, services.ErrInvalidSpeed):
		status = http.StatusBadRequest
		payload["error_code"] = "invalid_speed"
	case errors.Is(err, services.ErrNoRecipientsEnqueued):
		status = http.StatusUnprocessableEntity
		payload["error_code"] = "no_recipients_enqueued"
	}

	s.respondWithJSON(w, status, payload)
}

// preflightRemediation maps the campaign-fatal codes to operator guidance.
func preflightRemediation(code string) string {
	switch code {
	case services.PreflightChannelDisconnected:
		return "reconnect the channel before starting a campaign"
	case services.PreflightNoToken:
		return "configure a provider token on the channel"
	case services.PreflightTokenMisconfigured:
		return "the token field holds the subscription id, set the real provider token"
	case services.PreflightNoSubscription:
		return "configure the provider subscription id on the channel"
	case services.PreflightTokenInvalid:
		return "the provider rejected the token, generate a new one"
	case services.PreflightValidationError:
		return "the provider could not validate the token, try again later"
	case services.PreflightNetworkError:
		return "the provider could not be reached, check connectivity and retry"
	default:
		return "check the channel's provider credentials"
	}
}

func (s *Server) PauseCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		if err := s.starter.Pause(r.Context(), tenant.ID, id); err != nil {
			s.respondCampaignStateError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"campaign_id": id,
			"status":      models.CampaignPaused,
		})
	}
}

func (s *Server) ResumeCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		if err := s.starter.Resume(r.Context(), tenant.ID, id); err != nil {
			s.respondCampaignStateError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"campaign_id": id,
			"status":      models.CampaignRunning,
		})
	}
}

func (s *Server) respondCampaignStateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCampaignNotFound):
		s.respondError(w, http.StatusNotFound, "campaign_not_found", "campaign not found")
	case errors.Is(err, services.ErrCampaignNotPausable):
		s.respondError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "internal_error", "could not update campaign")
	}
}

func (s *Server) ListRecipients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		campaign, err := s.campaigns.GetForTenant(r.Context(), tenant.ID, id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, "campaign_not_found", "campaign not found")
			return
		}

		limit, offset := pagination(r, 100)
		status := r.URL.Query().Get("status")
		recipients, err := s.recipients.ListByCampaign(r.Context(), campaign.ID, status, limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not list recipients")
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"recipients": recipients,
		})
	}
}

// UploadCampaignMedia decodes a data URL payload, stores it with a thumbnail
// and attaches the resulting URLs to the campaign.
func (s *Server) UploadCampaignMedia() http.HandlerFunc {
	type request struct {
		Media string `json:"media"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		campaign, err := s.campaigns.GetForTenant(r.Context(), tenant.ID, id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, "campaign_not_found", "campaign not found")
			return
		}
		if !s.store.Enabled() {
			s.respondError(w, http.StatusServiceUnavailable, "media_disabled", "media storage is not configured")
			return
		}

		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.Media == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "media is required")
			return
		}

		asset, err := s.store.UploadDataURL(r.Context(), campaign.ID, req.Media)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "media_rejected", err.Error())
			return
		}
		if err := s.campaigns.SetMedia(r.Context(), campaign.ID, asset.URL, asset.ThumbURL, asset.Mime); err != nil {
			log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("Failed to attach media to campaign")
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not attach media")
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"media":   asset,
		})
	}
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
