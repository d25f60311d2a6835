package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// tenantFrom pulls the authenticated tenant placed by requireTenant.
func tenantFrom(r *http.Request) *models.Tenant {
	tenant, _ := r.Context().Value(tenantContextKey).(*models.Tenant)
	return tenant
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Recovered from panic in handler")
				s.respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireTenant resolves the Token header to a tenant. Lookups go through a
// short-lived cache so hot tenants do not hit the database on every request.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Token")
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "unauthorized", "missing Token header")
			return
		}

		if cached, found := s.tenantCache.Get(token); found {
			tenant := cached.(*models.Tenant)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantContextKey, tenant)))
			return
		}

		tenant, err := s.tenants.GetByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.respondError(w, http.StatusUnauthorized, "unauthorized", "unknown token")
				return
			}
			log.Error().Err(err).Msg("Tenant lookup failed")
			s.respondError(w, http.StatusInternalServerError, "internal_error", "tenant lookup failed")
			return
		}

		s.tenantCache.SetDefault(token, tenant)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantContextKey, tenant)))
	})
}

// requireAdmin gates operational endpoints behind the ADMIN_TOKEN value.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			s.respondError(w, http.StatusServiceUnavailable, "admin_disabled", "ADMIN_TOKEN is not configured")
			return
		}
		if r.Header.Get("Authorization") != s.cfg.AdminToken {
			s.respondError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
