package services

import "zapblast/internal/models"

// EventPublisher receives domain events for fan-out to tenant webhooks and
// the message broker. Implementations must not block the dispatch path.
type EventPublisher interface {
	RecipientEvent(eventType string, campaign *models.Campaign, recipient *models.Recipient, detail string)
	CampaignEvent(eventType string, campaign *models.Campaign)
	ConversationEvent(eventType string, message *models.Message, detail string)
}

// NopPublisher drops every event. Used in tests and when no sink is wired.
type NopPublisher struct{}

func (NopPublisher) RecipientEvent(string, *models.Campaign, *models.Recipient, string) {}
func (NopPublisher) CampaignEvent(string, *models.Campaign)                             {}
func (NopPublisher) ConversationEvent(string, *models.Message, string)                  {}
