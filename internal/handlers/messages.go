package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"zapblast/internal/adapters/meta"
	"zapblast/internal/models"
	"zapblast/internal/services"
)

func (s *Server) OpenConversation() http.HandlerFunc {
	type request struct {
		ChannelID string `json:"channel_id"`
		ContactID string `json:"contact_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.ChannelID == "" || req.ContactID == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "channel_id and contact_id are required")
			return
		}

		channel, err := s.channels.GetByID(r.Context(), req.ChannelID)
		if err != nil || channel.TenantID != tenant.ID {
			s.respondError(w, http.StatusNotFound, "channel_not_found", "channel not found")
			return
		}
		if _, err := s.contacts.GetByID(r.Context(), tenant.ID, req.ContactID); err != nil {
			s.respondError(w, http.StatusNotFound, "contact_not_found", "contact not found")
			return
		}

		conv, err := s.conversations.GetOrCreate(r.Context(), tenant.ID, req.ChannelID, req.ContactID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not open conversation")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":      true,
			"conversation": conv,
		})
	}
}

func (s *Server) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		conv, err := s.conversations.GetByID(r.Context(), tenant.ID, id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, meta.CodeConversationNotFound, "conversation not found")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":      true,
			"conversation": conv,
			"window":       services.CalculateWindow(conv.LastInboundAt, time.Now().UTC()),
		})
	}
}

// GetWindow reports the 24-hour messaging window, recomputed on every call.
func (s *Server) GetWindow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		window, err := s.messenger.Window(r.Context(), tenant.ID, id)
		if err != nil {
			if errors.Is(err, services.ErrConversationNotFound) {
				s.respondError(w, http.StatusNotFound, meta.CodeConversationNotFound, "conversation not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not compute window")
			return
		}
		s.respondWithJSON(w, http.StatusOK, window)
	}
}

func (s *Server) ListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		id := mux.Vars(r)["id"]

		if _, err := s.conversations.GetByID(r.Context(), tenant.ID, id); err != nil {
			s.respondError(w, http.StatusNotFound, meta.CodeConversationNotFound, "conversation not found")
			return
		}

		limit, offset := pagination(r, 50)
		msgs, err := s.messages.ListByConversation(r.Context(), tenant.ID, id, limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal_error", "could not list messages")
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"messages": msgs,
		})
	}
}

// SendText delivers a free-form message inside an open window. The failure
// payload keeps the attempted message visible as a failed marker.
func (s *Server) SendText() http.HandlerFunc {
	type request struct {
		ConversationID string `json:"conversation_id"`
		Text           string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.ConversationID == "" || req.Text == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "conversation_id and text are required")
			return
		}

		msg, err := s.messenger.SendText(r.Context(), tenant, req.ConversationID, req.Text)
		s.respondSendOutcome(w, msg, err)
	}
}

// SendTemplate delivers an approved template, which is allowed even when the
// window is closed.
func (s *Server) SendTemplate() http.HandlerFunc {
	type request struct {
		ConversationID string            `json:"conversation_id"`
		TemplateID     string            `json:"template_id"`
		Variables      map[string]string `json:"variables"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req request
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.ConversationID == "" || req.TemplateID == "" {
			s.respondError(w, http.StatusBadRequest, "invalid_payload", "conversation_id and template_id are required")
			return
		}

		msg, err := s.messenger.SendTemplate(r.Context(), tenant, req.ConversationID, req.TemplateID, req.Variables)
		s.respondSendOutcome(w, msg, err)
	}
}

func (s *Server) respondSendOutcome(w http.ResponseWriter, msg *models.Message, err error) {
	if err == nil {
		payload := map[string]interface{}{
			"success": true,
			"data":    msg,
		}
		if msg.ProviderMessageID != nil {
			payload["provider_message_id"] = *msg.ProviderMessageID
		}
		s.respondWithJSON(w, http.StatusOK, payload)
		return
	}

	if errors.Is(err, services.ErrConversationNotFound) {
		s.respondWithJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   meta.CodeConversationNotFound,
			"message": meta.Remediation(meta.CodeConversationNotFound),
		})
		return
	}

	var sendErr *meta.SendError
	if !errors.As(err, &sendErr) {
		s.respondError(w, http.StatusInternalServerError, "internal_error", "send failed")
		return
	}

	status := http.StatusUnprocessableEntity
	switch sendErr.Code {
	case meta.CodeWindowClosed:
		status = http.StatusForbidden
	case meta.CodeRateLimited:
		status = http.StatusTooManyRequests
	case meta.CodeChannelNotFound:
		status = http.StatusNotFound
	case meta.CodeProviderError:
		status = http.StatusBadGateway
	}

	// The failed message row stays in the payload so the caller can show
	// what was attempted instead of silently dropping it.
	payload := map[string]interface{}{
		"success":      false,
		"error":        sendErr.Code,
		"message":      meta.Remediation(sendErr.Code),
		"is_retryable": sendErr.Retryable,
	}
	if msg != nil {
		payload["data"] = msg
	}
	s.respondWithJSON(w, status, payload)
}
