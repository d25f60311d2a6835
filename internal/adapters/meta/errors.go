package meta

import "fmt"

// Send-time error codes. Each one maps to a remediation hint an operator can
// act on without reading provider docs.
const (
	CodeWindowClosed         = "window_closed"
	CodeAuthenticationError  = "authentication_error"
	CodeChannelNotFound      = "channel_not_found"
	CodeRateLimited          = "rate_limited"
	CodeProviderError        = "provider_error"
	CodeMissingToken         = "missing_token"
	CodeMissingSubscription  = "missing_subscription_id"
	CodeTokenMisconfigured   = "token_misconfigured"
	CodeConversationNotFound = "conversation_not_found"
)

var remediations = map[string]string{
	CodeWindowClosed:         "The 24-hour messaging window is closed. Use an approved template or wait for the contact to reply.",
	CodeAuthenticationError:  "The provider rejected the channel credentials. Reconnect the channel and check its access token.",
	CodeChannelNotFound:      "The provider does not recognize this channel. Verify the subscription id on the channel settings.",
	CodeRateLimited:          "The provider is throttling this channel. Lower the campaign speed or wait before retrying.",
	CodeProviderError:        "The provider failed to process the message. This is usually transient; retry later.",
	CodeMissingToken:         "The channel has no access token configured. Add one on the channel settings.",
	CodeMissingSubscription:  "The channel has no subscription id configured. Add one on the channel settings.",
	CodeTokenMisconfigured:   "The channel token field holds the subscription id. Swap the two values on the channel settings.",
	CodeConversationNotFound: "No conversation exists for this contact on this channel yet.",
}

// Remediation returns the operator hint for a send error code.
func Remediation(code string) string {
	if r, ok := remediations[code]; ok {
		return r
	}
	return remediations[CodeProviderError]
}

// SendError is a classified provider send failure. Retryable marks errors
// worth another attempt on a later batch; everything else is final for the
// recipient.
type SendError struct {
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSendError builds a SendError for conditions detected before any HTTP
// call is made.
func NewSendError(code, message string) *SendError {
	return &SendError{Code: code, Message: message}
}
