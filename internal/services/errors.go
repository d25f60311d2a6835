package services

import "errors"

var (
	// ErrNoValidContacts means normalization left nothing sendable.
	ErrNoValidContacts = errors.New("no valid contacts after normalization")

	// ErrCampaignNotFound covers both a missing id and an id owned by
	// another tenant.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrCampaignAlreadyRunning rejects a start while a run is in progress.
	ErrCampaignAlreadyRunning = errors.New("campaign is already running")

	// ErrCampaignNotPausable rejects pause/resume in the wrong state.
	ErrCampaignNotPausable = errors.New("campaign is not in a pausable state")

	// ErrChannelNotFound means the campaign references a channel that does
	// not exist or belongs to another tenant.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNoRecipientsEnqueued means every recipient insert failed, so the
	// campaign was left untouched instead of running with zero rows.
	ErrNoRecipientsEnqueued = errors.New("no recipients could be enqueued")

	// ErrConversationNotFound means the conversation id is unknown for the
	// tenant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidSpeed rejects an unknown speed tier on a start request.
	ErrInvalidSpeed = errors.New("invalid speed tier")
)
