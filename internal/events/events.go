package events

import (
	"time"
)

// Provider ingress event types, as pushed to the webhook endpoint.
const (
	IngressMessageStatus  = "message_status"
	IngressInboundMessage = "inbound_message"
)

// Outbound event types fanned out to tenant webhooks and the broker.
const (
	EventMessageSent       = "message_sent"
	EventMessageDelivered  = "message_delivered"
	EventMessageRead       = "message_read"
	EventMessageFailed     = "message_failed"
	EventInboundMessage    = "inbound_message"
	EventCampaignStarted   = "campaign_started"
	EventCampaignCompleted = "campaign_completed"
	EventCampaignPaused    = "campaign_paused"
	EventCampaignResumed   = "campaign_resumed"

	// EventAll subscribes a consumer queue to every event type.
	EventAll = "All"
)

// List of supported outbound event types
var supportedEventTypes = []string{
	// Message lifecycle
	EventMessageSent,
	EventMessageDelivered,
	EventMessageRead,
	EventMessageFailed,
	EventInboundMessage,

	// Campaign lifecycle
	EventCampaignStarted,
	EventCampaignCompleted,
	EventCampaignPaused,
	EventCampaignResumed,

	// Special - receives all events
	EventAll,
}

// Map for quick validation
var eventTypeMap map[string]bool

func init() {
	eventTypeMap = make(map[string]bool)
	for _, eventType := range supportedEventTypes {
		eventTypeMap[eventType] = true
	}
}

// IsValidEventType reports whether consumers may subscribe to eventType.
func IsValidEventType(eventType string) bool {
	return eventTypeMap[eventType]
}

// DeliveryState tracks an outbound event through the fan-out.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Event is one outbound notification on its way to every configured channel.
type Event struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	EventType    string                 `json:"event_type"`
	Payload      map[string]interface{} `json:"payload"`
	JSONData     []byte                 `json:"-"`
	CreatedAt    time.Time              `json:"created_at"`
	AttemptCount int                    `json:"attempt_count"`
	Status       DeliveryState          `json:"status"`
	LastError    string                 `json:"last_error,omitempty"`
}

// DeliveryResult is the outcome of one delivery attempt on one channel.
type DeliveryResult struct {
	Channel   string    `json:"channel"` // "webhook" or "rabbitmq"
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}
