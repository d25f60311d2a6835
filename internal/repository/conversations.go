package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"zapblast/internal/models"
)

type ConversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, tenant_id, contact_id, channel_id, last_inbound_at,
	last_message_at, created_at, updated_at`

func (r *ConversationRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.GetContext(ctx, &c, `
		SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreate finds the thread for a contact on a channel, creating it on
// first touch. The unique index on (tenant, channel, contact) resolves the
// race when two inbound events arrive for a brand-new contact at once.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, tenantID, channelID, contactID string) (*models.Conversation, error) {
	conv, err := r.find(ctx, tenantID, channelID, contactID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	c := &models.Conversation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ContactID: contactID,
		ChannelID: channelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, contact_id, channel_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.TenantID, c.ContactID, c.ChannelID, c.CreatedAt, c.UpdatedAt)
	if err == nil {
		return c, nil
	}

	// Lost the insert race: someone else created it, read theirs.
	return r.find(ctx, tenantID, channelID, contactID)
}

func (r *ConversationRepo) find(ctx context.Context, tenantID, channelID, contactID string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.GetContext(ctx, &c, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE tenant_id = $1 AND channel_id = $2 AND contact_id = $3
	`, tenantID, channelID, contactID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchInbound records a contact-sent message, which is the only thing that
// reopens the 24-hour window.
func (r *ConversationRepo) TouchInbound(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET last_inbound_at = $1, last_message_at = $2, updated_at = $3
		WHERE id = $4
	`, at, at, at, id)
	return err
}

func (r *ConversationRepo) TouchOutbound(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $1, updated_at = $2 WHERE id = $3
	`, at, at, id)
	return err
}
