package services

import (
	"fmt"
	"time"

	"zapblast/internal/models"
)

// messagingWindow is how long after a contact's last inbound message the
// provider accepts free-form replies.
const messagingWindow = 24 * time.Hour

// CalculateWindow derives the 24-hour window state from last_inbound_at.
// The window is open strictly less than 24 hours after the last inbound
// message: at exactly 24h it is closed, and with no inbound message it was
// never open. Always recomputed from the timestamp, never persisted, so the
// remaining time cannot drift.
func CalculateWindow(lastInboundAt *time.Time, now time.Time) models.WindowStatus {
	if lastInboundAt == nil {
		return models.WindowStatus{Remaining: "0m"}
	}

	elapsed := now.Sub(*lastInboundAt)
	if elapsed >= messagingWindow {
		return models.WindowStatus{Remaining: "0m"}
	}

	remaining := messagingWindow - elapsed
	closesAt := lastInboundAt.Add(messagingWindow)
	return models.WindowStatus{
		IsOpen:      true,
		RemainingMs: remaining.Milliseconds(),
		Remaining:   formatRemaining(remaining),
		ClosesAt:    &closesAt,
	}
}

func formatRemaining(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
