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

func (s *Server) CreateTenant() http.HandlerFunc {
	type request struct {
		Name               string `json:"name"`
		Token              string `json:"token"`
		WebhookURL         string `json:"webhook_url"`
		DefaultCountryCode string `json:"default_country_code"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "name is required")
			return
		}
		countryCode := req.DefaultCountryCode
		if countryCode == "" {
			countryCode = s.cfg.DefaultCountryCode
		}
		token := req.Token
		if token == "" {
			token = uuid.New().String()
		}

		tenant := &models.Tenant{
			ID:                 uuid.New().String(),
			Name:               req.Name,
			Token:              token,
			WebhookURL:         req.WebhookURL,
			DefaultCountryCode: countryCode,
			CreatedAt:          time.Now().UTC(),
		}
		if err := s.tenants.Create(r.Context(), tenant); err != nil {
			log.Error().Err(err).Msg("Failed to create tenant")
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not create tenant")
			return
		}

		log.Info().Str("tenant_id", tenant.ID).Str("name", tenant.Name).Msg("Tenant created")
		// The token is only revealed here; list responses never carry it.
		s.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"tenant":  tenant,
			"token":   tenant.Token,
		})
	}
}

func (s *Server) ListTenants() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenants, err := s.tenants.List(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not list tenants")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"tenants": tenants,
		})
	}
}

// AdminReconcile runs the polling fallback without a tenant scope, so an
// operator can sweep every campaign at once.
func (s *Server) AdminReconcile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req services.ReconcileRequest
		if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
			return
		}
		s.respondWithJSON(w, http.StatusOK, s.tracker.Reconcile(r.Context(), req))
	}
}

// ProcessBatch triggers one dispatch batch synchronously. Mainly useful for
// debugging a stuck campaign without waiting for the scheduler.
func (s *Server) ProcessBatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		result, err := s.dispatcher.ProcessBatch(r.Context(), id)
		if err != nil {
			if errors.Is(err, services.ErrCampaignNotFound) {
				s.respondError(w, http.StatusNotFound, "campaign_not_found", "campaign not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		if result.Noop {
			s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"noop": true})
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"remaining": result.Remaining})
	}
}

// ReplayEvents re-applies webhook events that could not be matched when they
// arrived, typically because they outran the dispatcher's own sent write.
func (s *Server) ReplayEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 200
		if v := r.URL.Query().Get("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		processed, skipped := s.tracker.ReprocessPending(r.Context(), limit)
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"processed": processed,
			"skipped":   skipped,
		})
	}
}

// DeliveryStatus reports the event fan-out backlog plus the ingress side's
// unapplied event count, which is what ReplayEvents would work through.
func (s *Server) DeliveryStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.fanout == nil {
			s.respondError(w, http.StatusServiceUnavailable, "unavailable", "event delivery not initialized")
			return
		}

		stats := s.fanout.Stats()
		if unprocessed, err := s.eventLog.CountUnprocessed(r.Context()); err == nil {
			stats["unprocessed_webhook_events"] = unprocessed
		}
		s.respondWithJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) SchedulerStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runnable, err := s.campaigns.ListRunnable(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not list running campaigns")
			return
		}

		ids := make([]string, 0, len(runnable))
		for _, c := range runnable {
			ids = append(ids, c.ID)
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"running":          s.scheduler.IsRunning(),
			"active_campaigns": ids,
		})
	}
}
