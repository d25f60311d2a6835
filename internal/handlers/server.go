package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"zapblast/config"
	"zapblast/internal/events"
	"zapblast/internal/media"
	"zapblast/internal/repository"
	"zapblast/internal/services"
)

// Server holds the router and everything the endpoints need. All handler
// methods hang off it and return http.HandlerFunc.
type Server struct {
	router *mux.Router
	cfg    *config.Config

	tenants       *repository.TenantRepo
	channels      *repository.ChannelRepo
	campaigns     *repository.CampaignRepo
	recipients    *repository.RecipientRepo
	conversations *repository.ConversationRepo
	messages      *repository.MessageRepo
	contacts      *repository.ContactRepo
	eventLog      *repository.WebhookEventRepo

	starter    *services.Starter
	dispatcher *services.Dispatcher
	scheduler  *services.Scheduler
	tracker    *services.Tracker
	messenger  *services.Messenger
	preflight  *services.Preflight

	store  *media.Store
	fanout *events.Fanout

	// tenantCache short-circuits the token lookup on every request.
	tenantCache *cache.Cache
}

type Deps struct {
	Tenants       *repository.TenantRepo
	Channels      *repository.ChannelRepo
	Campaigns     *repository.CampaignRepo
	Recipients    *repository.RecipientRepo
	Conversations *repository.ConversationRepo
	Messages      *repository.MessageRepo
	Contacts      *repository.ContactRepo
	EventLog      *repository.WebhookEventRepo

	Starter    *services.Starter
	Dispatcher *services.Dispatcher
	Scheduler  *services.Scheduler
	Tracker    *services.Tracker
	Messenger  *services.Messenger
	Preflight  *services.Preflight

	Store  *media.Store
	Fanout *events.Fanout
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		cfg:           cfg,
		tenants:       deps.Tenants,
		channels:      deps.Channels,
		campaigns:     deps.Campaigns,
		recipients:    deps.Recipients,
		conversations: deps.Conversations,
		messages:      deps.Messages,
		contacts:      deps.Contacts,
		eventLog:      deps.EventLog,
		starter:       deps.Starter,
		dispatcher:    deps.Dispatcher,
		scheduler:     deps.Scheduler,
		tracker:       deps.Tracker,
		messenger:     deps.Messenger,
		preflight:     deps.Preflight,
		store:         deps.Store,
		fanout:        deps.Fanout,
		tenantCache:   cache.New(5*time.Minute, 10*time.Minute),
	}
	s.routes()
	return s
}

// Router exposes the configured mux for the HTTP server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondError writes the generic failure envelope. Endpoints with their own
// documented failure shape build it themselves.
func (s *Server) respondError(w http.ResponseWriter, statusCode int, code, message string) {
	s.respondWithJSON(w, statusCode, map[string]interface{}{
		"success":    false,
		"error":      message,
		"error_code": code,
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_payload", "could not decode request body")
		return false
	}
	return true
}
