package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
	"zapblast/internal/services"
)

func (s *Server) CreateChannel() http.HandlerFunc {
	type request struct {
		PhoneNumber    string `json:"phone_number"`
		ProviderToken  string `json:"provider_token"`
		SubscriptionID string `json:"subscription_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.PhoneNumber == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "phone_number is required")
			return
		}

		now := time.Now().UTC()
		channel := &models.Channel{
			ID:             uuid.New().String(),
			TenantID:       tenant.ID,
			Status:         models.ChannelDisconnected,
			PhoneNumber:    req.PhoneNumber,
			ProviderToken:  req.ProviderToken,
			SubscriptionID: req.SubscriptionID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.channels.Create(r.Context(), channel); err != nil {
			log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to create channel")
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not create channel")
			return
		}
		s.respondWithJSON(w, http.StatusCreated, channel)
	}
}

func (s *Server) ListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		channels, err := s.channels.ListByTenant(r.Context(), tenant.ID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not list channels")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"channels": channels,
		})
	}
}

func (s *Server) SetChannelCredentials() http.HandlerFunc {
	type request struct {
		ProviderToken  string `json:"provider_token"`
		SubscriptionID string `json:"subscription_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		channel, ok := s.ownedChannel(w, r, tenant.ID)
		if !ok {
			return
		}
		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}

		if err := s.channels.SetCredentials(r.Context(), channel.ID, req.ProviderToken, req.SubscriptionID); err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not update credentials")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"channel_id": channel.ID,
		})
	}
}

func (s *Server) SetChannelStatus() http.HandlerFunc {
	type request struct {
		Status models.ChannelStatus `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		channel, ok := s.ownedChannel(w, r, tenant.ID)
		if !ok {
			return
		}
		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.Status != models.ChannelConnected && req.Status != models.ChannelDisconnected {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "status must be connected or disconnected")
			return
		}

		if err := s.channels.UpdateStatus(r.Context(), channel.ID, req.Status); err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not update status")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"channel_id": channel.ID,
			"status":     req.Status,
		})
	}
}

// PreflightChannel runs the full send-readiness check, probe included, and
// reports the classified failure without starting anything.
func (s *Server) PreflightChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		channel, ok := s.ownedChannel(w, r, tenant.ID)
		if !ok {
			return
		}

		if _, err := s.preflight.Validate(r.Context(), channel); err != nil {
			var preflightErr *services.PreflightError
			if errors.As(err, &preflightErr) {
				s.respondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"success":    false,
					"error":      preflightErr.Message,
					"error_code": preflightErr.Code,
					"details":    preflightRemediation(preflightErr.Code),
				})
				return
			}
			s.respondError(w, http.StatusInternalServerError, "internal_error", "preflight failed")
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"channel_id": channel.ID,
		})
	}
}

func (s *Server) ownedChannel(w http.ResponseWriter, r *http.Request, tenantID string) (*models.Channel, bool) {
	id := mux.Vars(r)["id"]
	channel, err := s.channels.GetByID(r.Context(), id)
	if err != nil || channel.TenantID != tenantID {
		s.respondError(w, http.StatusNotFound, "channel_not_found", "channel not found")
		return nil, false
	}
	return channel, true
}
