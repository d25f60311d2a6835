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

const defaultTemplateLanguage = "pt_BR"

// Client talks to the provider's messaging API for a single channel. Requests
// retry on transport errors, 429 and 5xx with backoff; a definitive 4xx comes
// back immediately as a classified SendError.
type Client struct {
	http           *resty.Client
	subscriptionID string
}

// NewClient builds a channel-scoped provider client.
func NewClient(baseURL, token, subscriptionID string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("provider baseURL cannot be empty")
	}
	if token == "" {
		return nil, fmt.Errorf("provider token cannot be empty")
	}
	if subscriptionID == "" {
		return nil, fmt.Errorf("provider subscriptionID cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// Three attempts total with a doubling wait, for transient failures only.
	// This backoff is unrelated to the inter-message pacing delay.
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{http: client, subscriptionID: subscriptionID}, nil
}

// SendText delivers a free-form text message and returns the provider
// message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	return c.send(ctx, payload)
}

// SendTemplate delivers a pre-approved template message, which the provider
// accepts outside the 24-hour window.
func (c *Client) SendTemplate(ctx context.Context, to, name string, components []TemplateComponent) (string, error) {
	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templateBody{
			Name:       name,
			Language:   templateLanguage{Code: defaultTemplateLanguage},
			Components: components,
		},
	}
	return c.send(ctx, payload)
}

// SendMedia delivers a hosted media message. The media kind is derived from
// the mime type; anything unrecognized goes out as a document.
func (c *Client) SendMedia(ctx context.Context, to, link, mime, caption string) (string, error) {
	body := &mediaBody{Link: link, Caption: caption}
	payload := mediaPayload{MessagingProduct: "whatsapp", To: to}
	switch {
	case strings.HasPrefix(mime, "image/"):
		payload.Type = "image"
		payload.Image = body
	case strings.HasPrefix(mime, "video/"):
		payload.Type = "video"
		payload.Video = body
	case strings.HasPrefix(mime, "audio/"):
		payload.Type = "audio"
		payload.Audio = body
		body.Caption = ""
	default:
		payload.Type = "document"
		payload.Document = body
	}
	return c.send(ctx, payload)
}

func (c *Client) send(ctx context.Context, payload interface{}) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&sendResponse{}).
		SetError(&errorResponse{}).
		Post(c.messagesPath())

	if err != nil {
		log.Warn().Err(err).Str("subscription_id", c.subscriptionID).Msg("Provider send request failed")
		return "", &SendError{
			Code:      CodeProviderError,
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
		}
	}

	if resp.IsError() {
		sendErr := c.classify(resp)
		log.Warn().
			Int("status", resp.StatusCode()).
			Str("code", sendErr.Code).
			Str("subscription_id", c.subscriptionID).
			Msg("Provider rejected message")
		return "", sendErr
	}

	result := resp.Result().(*sendResponse)
	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", &SendError{
			Code:    CodeProviderError,
			Message: "provider response carried no message id",
		}
	}
	return result.Messages[0].ID, nil
}

func (c *Client) messagesPath() string {
	return "/" + c.subscriptionID + "/messages"
}

// classify maps a provider error response to a send error code.
func (c *Client) classify(resp *resty.Response) *SendError {
	detail := ""
	if e, ok := resp.Error().(*errorResponse); ok && e != nil {
		detail = e.Error.Message
	}
	if detail == "" {
		detail = strings.TrimSpace(resp.String())
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &SendError{Code: CodeAuthenticationError, Message: detail, StatusCode: status}
	case status == http.StatusNotFound:
		return &SendError{Code: CodeChannelNotFound, Message: detail, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &SendError{Code: CodeRateLimited, Message: detail, StatusCode: status, Retryable: true}
	case status == http.StatusBadRequest && mentionsClosedWindow(detail):
		return &SendError{Code: CodeWindowClosed, Message: detail, StatusCode: status}
	case status >= 500:
		return &SendError{Code: CodeProviderError, Message: detail, StatusCode: status, Retryable: true}
	default:
		return &SendError{Code: CodeProviderError, Message: detail, StatusCode: status}
	}
}

// mentionsClosedWindow spots the provider's re-engagement rejection, which it
// reports as a plain 400.
func mentionsClosedWindow(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "re-engagement") ||
		strings.Contains(d, "24 hour") ||
		strings.Contains(d, "24-hour") ||
		strings.Contains(d, "131047")
}
