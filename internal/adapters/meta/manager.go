package meta

import (
	"sync"
	"time"

	"zapblast/internal/models"
)

// ClientManager hands out provider clients per channel, rebuilding them when
// a channel's credentials change. Safe for concurrent use by the scheduler
// and the HTTP handlers.
type ClientManager struct {
	baseURL string
	timeout time.Duration

	mu      sync.RWMutex
	clients map[string]*managedClient
}

type managedClient struct {
	token          string
	subscriptionID string
	client         *Client
}

func NewClientManager(baseURL string, timeout time.Duration) *ClientManager {
	return &ClientManager{
		baseURL: baseURL,
		timeout: timeout,
		clients: make(map[string]*managedClient),
	}
}

// For returns the client for a channel, creating or replacing it as needed.
// The token passed in is the already-extracted plain token, not the raw
// channel field.
func (m *ClientManager) For(channel *models.Channel, token string) (*Client, error) {
	m.mu.RLock()
	entry, ok := m.clients[channel.ID]
	m.mu.RUnlock()
	if ok && entry.token == token && entry.subscriptionID == channel.SubscriptionID {
		return entry.client, nil
	}

	client, err := NewClient(m.baseURL, token, channel.SubscriptionID, m.timeout)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.clients[channel.ID] = &managedClient{
		token:          token,
		subscriptionID: channel.SubscriptionID,
		client:         client,
	}
	m.mu.Unlock()
	return client, nil
}

// Invalidate drops the cached client for a channel, forcing a rebuild on the
// next send. Called when credentials are updated.
func (m *ClientManager) Invalidate(channelID string) {
	m.mu.Lock()
	delete(m.clients, channelID)
	m.mu.Unlock()
}

// BaseURL exposes the configured provider endpoint for probe calls.
func (m *ClientManager) BaseURL() string { return m.baseURL }

// Timeout exposes the configured per-request timeout for probe calls.
func (m *ClientManager) Timeout() time.Duration { return m.timeout }
