package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapblast/internal/adapters/meta"
	"zapblast/internal/events"
	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// Messenger handles one-off conversational sends, outside any campaign.
// Free-form text is gated on the 24-hour window; templates are not.
type Messenger struct {
	conversations *repository.ConversationRepo
	messages      *repository.MessageRepo
	contacts      *repository.ContactRepo
	channels      *repository.ChannelRepo
	clients       *meta.ClientManager
	sink          EventPublisher
}

func NewMessenger(
	conversations *repository.ConversationRepo,
	messages *repository.MessageRepo,
	contacts *repository.ContactRepo,
	channels *repository.ChannelRepo,
	clients *meta.ClientManager,
	sink EventPublisher,
) *Messenger {
	if sink == nil {
		sink = NopPublisher{}
	}
	return &Messenger{
		conversations: conversations,
		messages:      messages,
		contacts:      contacts,
		channels:      channels,
		clients:       clients,
		sink:          sink,
	}
}

// Window reports the current 24-hour window state for a conversation. The
// state is always derived from last_inbound_at at call time.
func (m *Messenger) Window(ctx context.Context, tenantID, conversationID string) (models.WindowStatus, error) {
	conv, err := m.conversations.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.WindowStatus{}, ErrConversationNotFound
		}
		return models.WindowStatus{}, fmt.Errorf("load conversation: %w", err)
	}
	return CalculateWindow(conv.LastInboundAt, time.Now().UTC()), nil
}

// SendText sends a free-form text message into a conversation. When the
// window is closed nothing reaches the provider: the only side effect is a
// failed message row recording the refusal.
func (m *Messenger) SendText(ctx context.Context, tenant *models.Tenant, conversationID, body string) (*models.Message, error) {
	conv, err := m.loadConversation(ctx, tenant.ID, conversationID)
	if err != nil {
		return nil, err
	}

	window := CalculateWindow(conv.LastInboundAt, time.Now().UTC())
	if !window.IsOpen {
		msg := m.newMessage(tenant.ID, conv.ID, models.KindText, body, "")
		reason := meta.Remediation(meta.CodeWindowClosed)
		msg.Status = models.MessageFailed
		msg.Error = &reason
		if err := m.messages.Create(ctx, msg); err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to record refused message")
		}
		return msg, meta.NewSendError(meta.CodeWindowClosed, reason)
	}

	return m.deliver(ctx, tenant, conv, m.newMessage(tenant.ID, conv.ID, models.KindText, body, ""), func(client *meta.Client, to string) (string, error) {
		return client.SendText(ctx, to, body)
	})
}

// SendTemplate sends an approved template into a conversation. Templates are
// the provider-sanctioned way to re-open a closed window, so no gate applies.
func (m *Messenger) SendTemplate(ctx context.Context, tenant *models.Tenant, conversationID, templateID string, variables map[string]string) (*models.Message, error) {
	conv, err := m.loadConversation(ctx, tenant.ID, conversationID)
	if err != nil {
		return nil, err
	}

	components := templateComponents(variables)
	return m.deliver(ctx, tenant, conv, m.newMessage(tenant.ID, conv.ID, models.KindTemplate, "", templateID), func(client *meta.Client, to string) (string, error) {
		return client.SendTemplate(ctx, to, templateID, components)
	})
}

func (m *Messenger) loadConversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	conv, err := m.conversations.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

func (m *Messenger) newMessage(tenantID, conversationID string, kind models.MessageKind, body, templateID string) *models.Message {
	now := time.Now().UTC()
	return &models.Message{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		Kind:           kind,
		Body:           body,
		TemplateID:     templateID,
		Status:         models.MessagePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// deliver persists the message as pending, resolves the channel client and
// destination phone, performs the provider call and records the outcome.
func (m *Messenger) deliver(ctx context.Context, tenant *models.Tenant, conv *models.Conversation, msg *models.Message, send func(client *meta.Client, to string) (string, error)) (*models.Message, error) {
	contact, err := m.contacts.GetByID(ctx, tenant.ID, conv.ContactID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}

	if err := m.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	client, sendErr := m.clientFor(ctx, tenant.ID, conv.ChannelID)
	if sendErr == nil {
		var providerMessageID string
		providerMessageID, err = send(client, "+"+contact.Phone)
		if err == nil {
			if markErr := m.messages.MarkSent(ctx, msg.ID, providerMessageID); markErr != nil {
				log.Error().Err(markErr).Str("message_id", msg.ID).Msg("Failed to record sent message")
			}
			now := time.Now().UTC()
			if touchErr := m.conversations.TouchOutbound(ctx, conv.ID, now); touchErr != nil {
				log.Error().Err(touchErr).Str("conversation_id", conv.ID).Msg("Failed to touch conversation")
			}
			msg.Status = models.MessageSent
			msg.ProviderMessageID = &providerMessageID
			msg.UpdatedAt = now
			m.sink.ConversationEvent(events.EventMessageSent, msg, "")
			return msg, nil
		}
		if !errors.As(err, &sendErr) {
			sendErr = meta.NewSendError(meta.CodeProviderError, err.Error())
		}
	}

	reason := sendErr.Error()
	if markErr := m.messages.MarkFailed(ctx, msg.ID, reason); markErr != nil {
		log.Error().Err(markErr).Str("message_id", msg.ID).Msg("Failed to record failed message")
	}
	msg.Status = models.MessageFailed
	msg.Error = &reason
	m.sink.ConversationEvent(events.EventMessageFailed, msg, sendErr.Code)

	log.Warn().
		Str("conversation_id", conv.ID).
		Str("message_id", msg.ID).
		Str("code", sendErr.Code).
		Msg("Conversation send failed")
	return msg, sendErr
}

// clientFor mirrors the dispatcher's channel checks so conversational sends
// report the same config problems campaigns do.
func (m *Messenger) clientFor(ctx context.Context, tenantID, channelID string) (*meta.Client, *meta.SendError) {
	channel, err := m.channels.GetByID(ctx, channelID)
	if err != nil || channel.TenantID != tenantID {
		return nil, meta.NewSendError(meta.CodeChannelNotFound, meta.Remediation(meta.CodeChannelNotFound))
	}

	token, _, ok := ExtractToken(channel.ProviderToken)
	if !ok {
		return nil, meta.NewSendError(meta.CodeMissingToken, meta.Remediation(meta.CodeMissingToken))
	}
	if channel.SubscriptionID == "" {
		return nil, meta.NewSendError(meta.CodeMissingSubscription, meta.Remediation(meta.CodeMissingSubscription))
	}
	if token == channel.SubscriptionID {
		return nil, meta.NewSendError(meta.CodeTokenMisconfigured, meta.Remediation(meta.CodeTokenMisconfigured))
	}

	client, err := m.clients.For(channel, token)
	if err != nil {
		return nil, meta.NewSendError(meta.CodeProviderError, err.Error())
	}
	return client, nil
}
