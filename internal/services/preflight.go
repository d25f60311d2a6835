package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"zapblast/internal/adapters/meta"
	"zapblast/internal/models"
)

// Preflight failure codes, campaign-fatal: any of these aborts a start
// before a single recipient row is written.
const (
	PreflightChannelDisconnected = "CHANNEL_DISCONNECTED"
	PreflightNoToken             = "NO_TOKEN"
	PreflightTokenMisconfigured  = "TOKEN_MISCONFIGURED"
	PreflightNoSubscription      = "NO_SUBSCRIPTION"
	PreflightTokenInvalid        = "TOKEN_INVALID"
	PreflightValidationError     = "TOKEN_VALIDATION_ERROR"
	PreflightAuthError           = "AUTH_ERROR"
	PreflightNetworkError        = "NETWORK_ERROR"
)

// PreflightError is a classified reason a channel cannot send.
type PreflightError struct {
	Code    string
	Message string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TokenForm names the encoding a channel token arrived in. Channel configs
// come from several integrations and the token field is not normalized at
// the edge, so the validator recognizes each form explicitly.
type TokenForm int

const (
	TokenFormRaw TokenForm = iota
	TokenFormBearer
	TokenFormJSON
)

func (f TokenForm) String() string {
	switch f {
	case TokenFormBearer:
		return "bearer"
	case TokenFormJSON:
		return "json"
	default:
		return "raw"
	}
}

// minPlausibleTokenLen is shorter than any real provider token. Anything
// below it is a placeholder or a stray id, not a credential.
const minPlausibleTokenLen = 16

// ExtractToken pulls the plain token out of a channel's token field. It
// accepts a raw token, a "Bearer "-prefixed one, or a JSON blob carrying a
// token / api_key / apiKey key, checked in that order.
func ExtractToken(raw string) (string, TokenForm, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", TokenFormRaw, false
	}

	if strings.HasPrefix(trimmed, "{") {
		var blob struct {
			Token       string `json:"token"`
			APIKeySnake string `json:"api_key"`
			APIKeyCamel string `json:"apiKey"`
		}
		if err := json.Unmarshal([]byte(trimmed), &blob); err != nil {
			return "", TokenFormJSON, false
		}
		for _, candidate := range []string{blob.Token, blob.APIKeySnake, blob.APIKeyCamel} {
			if v := strings.TrimSpace(candidate); v != "" {
				return v, TokenFormJSON, true
			}
		}
		return "", TokenFormJSON, false
	}

	if rest, ok := strings.CutPrefix(trimmed, "Bearer "); ok {
		v := strings.TrimSpace(rest)
		return v, TokenFormBearer, v != ""
	}

	return trimmed, TokenFormRaw, true
}

// Preflight proves a channel can actually send before a campaign commits any
// recipients. The local checks are free; the final one is a live probe
// against the provider.
type Preflight struct {
	baseURL string
	timeout time.Duration
	probe   func(ctx context.Context, baseURL, token, subscriptionID string, timeout time.Duration) meta.ProbeResult
}

func NewPreflight(baseURL string, timeout time.Duration) *Preflight {
	return &Preflight{baseURL: baseURL, timeout: timeout, probe: meta.Probe}
}

// Validate runs the ordered checks and returns the extracted plain token on
// success. Checks short-circuit on the first failure.
func (p *Preflight) Validate(ctx context.Context, channel *models.Channel) (string, error) {
	if channel.Status != models.ChannelConnected {
		return "", &PreflightError{
			Code:    PreflightChannelDisconnected,
			Message: "channel is not connected",
		}
	}

	token, form, ok := ExtractToken(channel.ProviderToken)
	if !ok || len(token) < minPlausibleTokenLen {
		return "", &PreflightError{
			Code:    PreflightNoToken,
			Message: "no usable token configured on the channel",
		}
	}

	if token == channel.SubscriptionID {
		return "", &PreflightError{
			Code:    PreflightTokenMisconfigured,
			Message: "token field holds the subscription id",
		}
	}

	if strings.TrimSpace(channel.SubscriptionID) == "" {
		return "", &PreflightError{
			Code:    PreflightNoSubscription,
			Message: "no subscription id configured on the channel",
		}
	}

	result := p.probe(ctx, p.baseURL, token, channel.SubscriptionID, p.timeout)
	log.Info().
		Str("channel_id", channel.ID).
		Str("token_form", form.String()).
		Str("outcome", result.Outcome.String()).
		Int("status", result.StatusCode).
		Msg("Channel preflight probe finished")

	switch result.Outcome {
	case meta.ProbeOK:
		return token, nil
	case meta.ProbeTokenInvalid:
		return "", &PreflightError{Code: PreflightTokenInvalid, Message: result.Detail}
	case meta.ProbeValidationError:
		return "", &PreflightError{Code: PreflightValidationError, Message: result.Detail}
	case meta.ProbeNetworkError:
		return "", &PreflightError{Code: PreflightNetworkError, Message: result.Detail}
	default:
		return "", &PreflightError{Code: PreflightAuthError, Message: result.Detail}
	}
}
