package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the configured database. Supported drivers are "postgres"
// (lib/pq) and "sqlite" (modernc, no cgo). SQLite is capped at a single
// connection so concurrent writers queue instead of failing with SQLITE_BUSY.
func Open(driver, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
	}

	log.Info().Str("driver", driver).Msg("Database connection established")
	return conn, nil
}

// InitSchema creates every table and index the service uses. All statements
// are idempotent and written in the SQL subset both Postgres and SQLite
// accept, so a fresh deploy and a restart run the same path.
func InitSchema(conn *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Database schema ready")
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		token TEXT NOT NULL,
		webhook_url TEXT NOT NULL DEFAULT '',
		default_country_code TEXT NOT NULL DEFAULT '55',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_token ON tenants (token)`,

	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'disconnected',
		phone_number TEXT NOT NULL DEFAULT '',
		provider_token TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_tenant ON channels (tenant_id)`,

	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_tenant_phone ON contacts (tenant_id, phone)`,

	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		name TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		template_id TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		media_thumb_url TEXT NOT NULL DEFAULT '',
		media_mime TEXT NOT NULL DEFAULT '',
		speed TEXT NOT NULL DEFAULT 'normal',
		status TEXT NOT NULL DEFAULT 'draft',
		total_recipients INTEGER NOT NULL DEFAULT 0,
		sent_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		claim_owner TEXT,
		claim_expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_tenant ON campaigns (tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status)`,

	`CREATE TABLE IF NOT EXISTS campaign_recipients (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		provider_message_id TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		variables TEXT NOT NULL DEFAULT '',
		last_error TEXT,
		sent_at TIMESTAMP,
		delivered_at TIMESTAMP,
		read_at TIMESTAMP,
		failed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_recipients_campaign_contact ON campaign_recipients (campaign_id, contact_id)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_campaign_status ON campaign_recipients (campaign_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_provider_msg ON campaign_recipients (provider_message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_status_sent ON campaign_recipients (status, sent_at)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		last_inbound_at TIMESTAMP,
		last_message_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_scope ON conversations (tenant_id, channel_id, contact_id)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		template_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		provider_message_id TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_provider_msg ON messages (provider_message_id)`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_pending ON webhook_events (processed, created_at)`,
}
