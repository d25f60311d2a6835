package meta

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ProbeOutcome classifies what a live credentials probe proved about a
// channel's token.
type ProbeOutcome int

const (
	// ProbeOK means the provider recognized the credentials. The probe body
	// is intentionally invalid, so a 400 is as much of a success as a 2xx.
	ProbeOK ProbeOutcome = iota
	// ProbeTokenInvalid means the provider explicitly rejected the token.
	ProbeTokenInvalid
	// ProbeAuthError means an unexpected client-side rejection that is not a
	// clean token failure.
	ProbeAuthError
	// ProbeValidationError means the provider errored server-side without
	// implicating the token.
	ProbeValidationError
	// ProbeNetworkError means the provider could not be reached at all.
	ProbeNetworkError
)

func (o ProbeOutcome) String() string {
	switch o {
	case ProbeOK:
		return "ok"
	case ProbeTokenInvalid:
		return "token_invalid"
	case ProbeAuthError:
		return "auth_error"
	case ProbeValidationError:
		return "validation_error"
	case ProbeNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// ProbeResult carries the classification plus enough detail to log.
type ProbeResult struct {
	Outcome    ProbeOutcome
	StatusCode int
	Detail     string
}

// Probe fires a deliberately malformed send at the messages endpoint to
// verify the token against the live API without delivering anything. It runs
// on a one-shot client with no retries so preflight answers fast even when
// the classification is an error.
func Probe(ctx context.Context, baseURL, token, subscriptionID string, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	resp, err := client.R().
		SetContext(ctx).
		SetBody(map[string]string{"messaging_product": "whatsapp"}).
		Post("/" + subscriptionID + "/messages")

	if err != nil {
		log.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("Credentials probe could not reach provider")
		return ProbeResult{Outcome: ProbeNetworkError, Detail: err.Error()}
	}

	result := classifyProbe(resp.StatusCode(), resp.String())
	log.Debug().
		Int("status", result.StatusCode).
		Str("outcome", result.Outcome.String()).
		Str("subscription_id", subscriptionID).
		Msg("Credentials probe classified")
	return result
}

func classifyProbe(status int, body string) ProbeResult {
	detail := strings.TrimSpace(body)
	result := ProbeResult{StatusCode: status, Detail: detail}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		result.Outcome = ProbeTokenInvalid
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		// Auth cleared; the provider choked on the bogus body, as intended.
		result.Outcome = ProbeOK
	case status >= 200 && status < 300:
		result.Outcome = ProbeOK
	case status >= 500:
		if mentionsToken(detail) {
			result.Outcome = ProbeTokenInvalid
		} else {
			result.Outcome = ProbeValidationError
		}
	default:
		result.Outcome = ProbeAuthError
	}

	if result.Detail == "" {
		result.Detail = fmt.Sprintf("status %d", status)
	}
	return result
}

// mentionsToken checks whether a 5xx body blames credentials rather than the
// provider's own backend.
func mentionsToken(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "token") || strings.Contains(b, "auth")
}
