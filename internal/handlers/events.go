package handlers

import (
	"net/http"

	"zapblast/internal/services"
)

// Reconcile runs the polling fallback for the calling tenant. The tenant
// scope is forced from the token, never taken from the body.
func (s *Server) Reconcile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req services.ReconcileRequest
		if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
			return
		}
		req.TenantID = tenant.ID

		if req.CampaignID != "" {
			if _, err := s.campaigns.GetForTenant(r.Context(), tenant.ID, req.CampaignID); err != nil {
				s.respondError(w, http.StatusNotFound, "campaign_not_found", "campaign not found")
				return
			}
		}

		s.respondWithJSON(w, http.StatusOK, s.tracker.Reconcile(r.Context(), req))
	}
}

// PendingEvents lists the tenant's webhook deliveries still in flight or
// awaiting retry.
func (s *Server) PendingEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		pending := s.fanout.PendingForTenant(tenant.ID)
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"count":   len(pending),
			"events":  pending,
		})
	}
}
