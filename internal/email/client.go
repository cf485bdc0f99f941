// Package email provides the outbound email transport consumed by the
// delivery worker. The core only needs a narrow contract: send one message,
// and distinguish retryable failures from permanent ones.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Transport sends a single email. Implementations must be safe for
// concurrent use; the worker fans deliveries out across goroutines.
type Transport interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// RetryableError wraps a transient send failure. The worker requeues tasks
// whose error unwraps to RetryableError and permanently fails the rest.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying cause.
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err represents a transient failure worth
// another delivery attempt.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// Client is an HTTP JSON transport for a Postmark-style email API:
// POST {BaseURL}/email with the sender, recipient, subject, and both bodies.
type Client struct {
	// BaseURL is the API root, e.g. "https://api.postmarkapp.com".
	BaseURL string
	// Sender is the verified from-address.
	Sender string
	// AuthToken is sent as X-Postmark-Server-Token.
	AuthToken string
	// HTTPClient is used for requests. Callers should set a bounded Timeout;
	// a zero client falls back to http.DefaultClient.
	HTTPClient *http.Client
}

// NewClient builds a Client with a bounded request timeout.
func NewClient(baseURL, sender, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		Sender:     sender,
		AuthToken:  authToken,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// sendRequest is the wire payload for the email API.
type sendRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send posts one message to the email API.
//
// Error classification for the worker's retry policy: network failures and
// 5xx responses are retryable; 429 is retryable (provider rate limit); any
// other non-2xx status is permanent.
func (c *Client) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	payload, err := json.Marshal(sendRequest{
		From:     c.Sender,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("X-Postmark-Server-Token", c.AuthToken)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("email api request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Err: fmt.Errorf("email api returned %d", resp.StatusCode)}
	default:
		return fmt.Errorf("email api rejected message: status %d", resp.StatusCode)
	}
}
