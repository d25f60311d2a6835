package models

import (
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// RecipientStatus tracks a recipient along the delivery pipeline. Transitions
// only ever move forward: queued, sent, then delivered/read or failed.
type RecipientStatus string

const (
	RecipientQueued    RecipientStatus = "queued"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientRead      RecipientStatus = "read"
	RecipientFailed    RecipientStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal forward
// transition. Terminal states (read, failed) accept nothing.
func (s RecipientStatus) CanTransition(next RecipientStatus) bool {
	switch s {
	case RecipientQueued:
		return next == RecipientSent || next == RecipientFailed
	case RecipientSent:
		return next == RecipientDelivered || next == RecipientRead || next == RecipientFailed
	case RecipientDelivered:
		return next == RecipientRead
	default:
		return false
	}
}

// SpeedTier names an inter-message delay profile. The delay exists to keep
// the provider's anti-spam heuristics quiet, not to shape scheduler cadence.
type SpeedTier string

const (
	SpeedSlow   SpeedTier = "slow"
	SpeedNormal SpeedTier = "normal"
	SpeedFast   SpeedTier = "fast"
)

// Delay returns the pause inserted between consecutive messages of a batch.
func (s SpeedTier) Delay() time.Duration {
	switch s {
	case SpeedSlow:
		return 3 * time.Second
	case SpeedFast:
		return 800 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// Valid reports whether s is a known tier.
func (s SpeedTier) Valid() bool {
	return s == SpeedSlow || s == SpeedNormal || s == SpeedFast
}

// Tenant is an account that owns channels, contacts and campaigns. The token
// authenticates API calls; WebhookURL, when set, receives delivery events.
type Tenant struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Token              string    `db:"token" json:"-"`
	WebhookURL         string    `db:"webhook_url" json:"webhook_url,omitempty"`
	DefaultCountryCode string    `db:"default_country_code" json:"default_country_code"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// ChannelStatus is the connectivity flag of a channel.
type ChannelStatus string

const (
	ChannelConnected    ChannelStatus = "connected"
	ChannelDisconnected ChannelStatus = "disconnected"
)

// Channel is a tenant's outbound connection to the messaging provider.
// ProviderToken is opaque and may arrive raw, "Bearer "-prefixed or embedded
// in a JSON blob; SubscriptionID identifies the provider-side sender account.
type Channel struct {
	ID             string        `db:"id" json:"id"`
	TenantID       string        `db:"tenant_id" json:"tenant_id"`
	Status         ChannelStatus `db:"status" json:"status"`
	PhoneNumber    string        `db:"phone_number" json:"phone_number"`
	ProviderToken  string        `db:"provider_token" json:"-"`
	SubscriptionID string        `db:"subscription_id" json:"subscription_id"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// Contact is a tenant-scoped person keyed by normalized phone (digits only,
// country code included).
type Contact struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email,omitempty"`
	IsBlocked bool      `db:"is_blocked" json:"is_blocked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Campaign is a bulk-send job. TotalRecipients is fixed when a run starts and
// only changes on a fresh restart; SentCount+FailedCount never exceeds it.
type Campaign struct {
	ID              string         `db:"id" json:"id"`
	TenantID        string         `db:"tenant_id" json:"tenant_id"`
	ChannelID       string         `db:"channel_id" json:"channel_id"`
	Name            string         `db:"name" json:"name"`
	Body            string         `db:"body" json:"body"`
	TemplateID      string         `db:"template_id" json:"template_id,omitempty"`
	MediaURL        string         `db:"media_url" json:"media_url,omitempty"`
	MediaThumbURL   string         `db:"media_thumb_url" json:"media_thumb_url,omitempty"`
	MediaMime       string         `db:"media_mime" json:"media_mime,omitempty"`
	Speed           SpeedTier      `db:"speed" json:"speed"`
	Status          CampaignStatus `db:"status" json:"status"`
	TotalRecipients int            `db:"total_recipients" json:"total_recipients"`
	SentCount       int            `db:"sent_count" json:"sent_count"`
	FailedCount     int            `db:"failed_count" json:"failed_count"`
	StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	ClaimOwner      *string        `db:"claim_owner" json:"-"`
	ClaimExpiresAt  *time.Time     `db:"claim_expires_at" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Remaining is the number of recipients not yet resolved to sent or failed.
func (c *Campaign) Remaining() int {
	return c.TotalRecipients - c.SentCount - c.FailedCount
}

// Recipient is the per-contact execution record of a campaign, unique per
// (campaign, contact). Phone is denormalized so webhook events can be matched
// without a join.
type Recipient struct {
	ID                string          `db:"id" json:"id"`
	CampaignID        string          `db:"campaign_id" json:"campaign_id"`
	ContactID         string          `db:"contact_id" json:"contact_id"`
	TenantID          string          `db:"tenant_id" json:"tenant_id"`
	Phone             string          `db:"phone" json:"phone"`
	Status            RecipientStatus `db:"status" json:"status"`
	ProviderMessageID *string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Attempts          int             `db:"attempts" json:"attempts"`
	Variables         string          `db:"variables" json:"variables,omitempty"`
	LastError         *string         `db:"last_error" json:"last_error,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time      `db:"read_at" json:"read_at,omitempty"`
	FailedAt          *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Conversation is the thread between a tenant's channel and a contact.
// LastInboundAt drives the 24-hour messaging window.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	TenantID      string     `db:"tenant_id" json:"tenant_id"`
	ContactID     string     `db:"contact_id" json:"contact_id"`
	ChannelID     string     `db:"channel_id" json:"channel_id"`
	LastInboundAt *time.Time `db:"last_inbound_at" json:"last_inbound_at,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// MessageDirection distinguishes tenant-sent from contact-sent messages.
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "out"
	DirectionInbound  MessageDirection = "in"
)

// MessageKind is the payload type of a conversation message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindTemplate MessageKind = "template"
	KindMedia    MessageKind = "media"
)

// MessageStatus mirrors RecipientStatus for conversation messages.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// Message is a single conversation message, either direction.
type Message struct {
	ID                string           `db:"id" json:"id"`
	TenantID          string           `db:"tenant_id" json:"tenant_id"`
	ConversationID    string           `db:"conversation_id" json:"conversation_id"`
	Direction         MessageDirection `db:"direction" json:"direction"`
	Kind              MessageKind      `db:"kind" json:"kind"`
	Body              string           `db:"body" json:"body"`
	TemplateID        string           `db:"template_id" json:"template_id,omitempty"`
	Status            MessageStatus    `db:"status" json:"status"`
	ProviderMessageID *string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Error             *string          `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// WebhookEvent is one provider-pushed event, logged before it is applied and
// never deleted. Processed flips exactly once, after a successful apply.
type WebhookEvent struct {
	ID          string     `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	EventType   string     `db:"event_type" json:"event_type"`
	Phone       string     `db:"phone" json:"phone"`
	Status      string     `db:"status" json:"status"`
	Payload     string     `db:"payload" json:"payload"`
	Processed   bool       `db:"processed" json:"processed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// WindowStatus is the derived state of the 24-hour free-form reply window.
// It is computed on every read and never persisted, so the remaining time
// cannot drift against a stale stored expiry.
type WindowStatus struct {
	IsOpen      bool       `json:"is_open"`
	RemainingMs int64      `json:"remaining_ms"`
	Remaining   string     `json:"remaining"`
	ClosesAt    *time.Time `json:"closes_at,omitempty"`
}

// CampaignStats is the per-status recipient projection read by the UI.
type CampaignStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}
