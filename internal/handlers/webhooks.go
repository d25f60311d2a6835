package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ProviderWebhook ingests provider status and inbound-message events. The
// event is persisted before any processing, so a crash between the two never
// loses it. The provider always gets a 200 back for well-formed requests;
// retrying an event we already logged would only create duplicates.
func (s *Server) ProviderWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["tenantId"]

		if s.cfg.WebhookSecret != "" && r.Header.Get("X-Webhook-Secret") != s.cfg.WebhookSecret {
			log.Warn().Str("tenant_id", tenantID).Msg("Webhook rejected, bad secret")
			s.respondError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
			return
		}

		if _, err := s.tenants.GetByID(r.Context(), tenantID); err != nil {
			s.respondError(w, http.StatusNotFound, "tenant_not_found", "unknown tenant")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "could not read request body")
			return
		}

		eventID, err := s.tracker.Ingest(r.Context(), tenantID, body)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"event_id": eventID,
		})
	}
}
