package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// Fanout delivers domain events to every configured channel: the tenant's
// webhook URL and RabbitMQ. Delivery runs off the dispatch path; failures
// are retried in the background a few times and then dropped with a log,
// because event fan-out must never hold up sending.
type Fanout struct {
	mu            sync.RWMutex
	pendingEvents map[string]*Event

	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration

	http         *resty.Client
	rabbit       *RabbitPublisher
	tenants      *repository.TenantRepo
	webhookCache *cache.Cache

	done     chan struct{}
	stopOnce sync.Once
}

func NewFanout(tenants *repository.TenantRepo, rabbit *RabbitPublisher) *Fanout {
	f := &Fanout{
		pendingEvents: make(map[string]*Event),
		maxRetries:    3,
		retryBackoff:  2 * time.Second,
		timeout:       10 * time.Second,
		http:          resty.New().SetTimeout(5 * time.Second),
		rabbit:        rabbit,
		tenants:       tenants,
		webhookCache:  cache.New(5*time.Minute, 10*time.Minute),
		done:          make(chan struct{}),
	}

	go f.processRetries()

	log.Info().
		Int("maxRetries", f.maxRetries).
		Dur("timeout", f.timeout).
		Msg("Event fan-out initialized")
	return f
}

// RecipientEvent publishes a campaign recipient lifecycle event.
func (f *Fanout) RecipientEvent(eventType string, campaign *models.Campaign, rec *models.Recipient, detail string) {
	payload := map[string]interface{}{
		"campaign_id":  rec.CampaignID,
		"recipient_id": rec.ID,
		"contact_id":   rec.ContactID,
		"phone":        rec.Phone,
		"status":       rec.Status,
	}
	if campaign != nil {
		payload["campaign_name"] = campaign.Name
	}
	if rec.ProviderMessageID != nil {
		payload["provider_message_id"] = *rec.ProviderMessageID
	}
	if detail != "" {
		payload["detail"] = detail
	}
	f.DeliverEvent(&Event{TenantID: rec.TenantID, EventType: eventType, Payload: payload})
}

// CampaignEvent publishes a campaign lifecycle event.
func (f *Fanout) CampaignEvent(eventType string, campaign *models.Campaign) {
	f.DeliverEvent(&Event{
		TenantID:  campaign.TenantID,
		EventType: eventType,
		Payload: map[string]interface{}{
			"campaign_id":      campaign.ID,
			"campaign_name":    campaign.Name,
			"status":           campaign.Status,
			"total_recipients": campaign.TotalRecipients,
			"sent_count":       campaign.SentCount,
			"failed_count":     campaign.FailedCount,
		},
	})
}

// ConversationEvent publishes a conversation message event.
func (f *Fanout) ConversationEvent(eventType string, msg *models.Message, detail string) {
	payload := map[string]interface{}{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
		"direction":       msg.Direction,
		"status":          msg.Status,
	}
	if msg.ProviderMessageID != nil {
		payload["provider_message_id"] = *msg.ProviderMessageID
	}
	if detail != "" {
		payload["detail"] = detail
	}
	f.DeliverEvent(&Event{TenantID: msg.TenantID, EventType: eventType, Payload: payload})
}

// DeliverEvent queues an event and starts delivery in the background.
func (f *Fanout) DeliverEvent(event *Event) {
	if !IsValidEventType(event.EventType) {
		log.Warn().Str("eventType", event.EventType).Msg("Dropping event with unsupported type")
		return
	}

	event.CreatedAt = time.Now().UTC()
	event.Status = DeliveryPending
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.JSONData == nil {
		data, err := json.Marshal(map[string]interface{}{
			"id":         event.ID,
			"tenant_id":  event.TenantID,
			"event_type": event.EventType,
			"payload":    event.Payload,
			"created_at": event.CreatedAt,
		})
		if err != nil {
			log.Error().Err(err).Str("eventID", event.ID).Msg("Failed to marshal event payload")
			return
		}
		event.JSONData = data
	}

	f.mu.Lock()
	f.pendingEvents[event.ID] = event
	f.mu.Unlock()

	log.Debug().
		Str("eventID", event.ID).
		Str("tenantID", event.TenantID).
		Str("eventType", event.EventType).
		Msg("Starting parallel delivery")

	go f.processDelivery(event)
}

// processDelivery fans the event out to all channels and settles its state.
func (f *Fanout) processDelivery(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan DeliveryResult, 2)

	webhookURL := f.webhookURLFor(ctx, event.TenantID)
	if webhookURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.deliverToTenantWebhook(ctx, event, webhookURL)
		}()
	}

	if f.rabbit != nil && f.rabbit.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.deliverToRabbitMQ(ctx, event)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	allSuccess := true
	delivered := 0
	for result := range results {
		delivered++
		if !result.Success {
			allSuccess = false
		}
		log.Debug().
			Str("eventID", event.ID).
			Str("channel", result.Channel).
			Bool("success", result.Success).
			Int64("durationMs", result.Duration).
			Str("error", result.Error).
			Msg("Channel delivery result")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if allSuccess {
		event.Status = DeliveryDelivered
		delete(f.pendingEvents, event.ID)
		return
	}
	event.AttemptCount++
	if event.AttemptCount >= f.maxRetries {
		event.Status = DeliveryFailed
		event.LastError = "Max retries exceeded"
		delete(f.pendingEvents, event.ID)
		log.Error().
			Str("eventID", event.ID).
			Int("attemptCount", event.AttemptCount).
			Msg("Event delivery failed permanently")
	} else {
		log.Warn().
			Str("eventID", event.ID).
			Int("attemptCount", event.AttemptCount).
			Int("maxRetries", f.maxRetries).
			Msg("Event delivery partially failed, will retry")
	}
}

func (f *Fanout) deliverToTenantWebhook(ctx context.Context, event *Event, webhookURL string) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{Channel: "webhook", Timestamp: start}

	_, err := f.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"jsonData":   string(event.JSONData),
			"event_type": event.EventType,
			"tenant_id":  event.TenantID,
		}).
		Post(webhookURL)

	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).
			Str("eventID", event.ID).
			Str("webhookURL", webhookURL).
			Msg("Tenant webhook delivery failed")
		return result
	}

	result.Success = true
	return result
}

func (f *Fanout) deliverToRabbitMQ(ctx context.Context, event *Event) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{Channel: "rabbitmq", Timestamp: start}

	select {
	case <-ctx.Done():
		result.Error = "Context timeout"
		result.Duration = time.Since(start).Milliseconds()
		return result
	default:
	}

	err := f.rabbit.Publish(event.EventType, event.JSONData)
	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

// webhookURLFor resolves a tenant's webhook URL through a short-lived cache
// so a busy campaign does not hammer the tenants table.
func (f *Fanout) webhookURLFor(ctx context.Context, tenantID string) string {
	if cached, found := f.webhookCache.Get(tenantID); found {
		return cached.(string)
	}

	url := ""
	tenant, err := f.tenants.GetByID(ctx, tenantID)
	if err != nil {
		log.Warn().Err(err).Str("tenantID", tenantID).Msg("Could not resolve tenant webhook URL")
	} else {
		url = tenant.WebhookURL
	}

	f.webhookCache.Set(tenantID, url, cache.DefaultExpiration)
	return url
}

func (f *Fanout) processRetries() {
	ticker := time.NewTicker(f.retryBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.retryFailedEvents()
		}
	}
}

func (f *Fanout) retryFailedEvents() {
	f.mu.RLock()
	eventsToRetry := make([]*Event, 0)
	for _, event := range f.pendingEvents {
		if event.Status == DeliveryPending &&
			event.AttemptCount > 0 &&
			event.AttemptCount < f.maxRetries &&
			time.Since(event.CreatedAt) > f.retryBackoff {
			eventsToRetry = append(eventsToRetry, event)
		}
	}
	f.mu.RUnlock()

	for _, event := range eventsToRetry {
		log.Info().
			Str("eventID", event.ID).
			Int("attemptCount", event.AttemptCount).
			Msg("Retrying failed event delivery")
		go f.processDelivery(event)
	}
}

// PendingCount returns how many events still await delivery.
func (f *Fanout) PendingCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pendingEvents)
}

// Stats reports the delivery loop's knobs and backlog for monitoring.
func (f *Fanout) Stats() map[string]interface{} {
	return map[string]interface{}{
		"status":           "running",
		"pending_events":   f.PendingCount(),
		"max_retries":      f.maxRetries,
		"timeout_ms":       f.timeout.Milliseconds(),
		"retry_backoff_ms": f.retryBackoff.Milliseconds(),
	}
}

// PendingForTenant snapshots a tenant's undelivered events.
func (f *Fanout) PendingForTenant(tenantID string) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Event, 0)
	for _, event := range f.pendingEvents {
		if event.TenantID == tenantID {
			out = append(out, *event)
		}
	}
	return out
}

// Close stops the retry loop. Events still pending are abandoned.
func (f *Fanout) Close() {
	f.stopOnce.Do(func() { close(f.done) })
}
