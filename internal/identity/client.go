// ABOUTME: One-shot REST probe resolving a token to the account it belongs to
// ABOUTME: Maps the API's failure shape and 4xx statuses to ErrInvalidCredential

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidCredential means the upstream API rejected the token.
var ErrInvalidCredential = errors.New("invalid credential")

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Identity is the public identity behind a token.
type Identity struct {
	AccountID     string
	Username      string
	Discriminator string
	DisplayName   string
}

// APIError is a rejection from the upstream API. It always matches
// ErrInvalidCredential with errors.Is.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity probe rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("identity probe rejected (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrInvalidCredential }

// StatusError is a rate limit or server failure from the upstream API. It
// says nothing about the token, so it does not match ErrInvalidCredential.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity probe failed: upstream returned %d %s", e.Status, http.StatusText(e.Status))
}

// Client calls GET {baseURL}/users/@me.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewClient creates a probe client. A zero timeout leaves requests bounded
// only by their context.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type userResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
}

type errorResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

// Probe resolves token to an Identity. A rejected token returns an
// *APIError. Rate limits and 5xx responses return a *StatusError, and
// transport failures are returned as ordinary errors.
func (c *Client) Probe(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/@me", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Identity{}, &StatusError{Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, rejection(resp.StatusCode, body)
	}

	var u userResponse
	if err := json.Unmarshal(body, &u); err != nil || u.ID == "" {
		// A 2xx carrying the error shape is still a rejection.
		return Identity{}, rejection(resp.StatusCode, body)
	}

	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	return Identity{
		AccountID:     u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		DisplayName:   display,
	}, nil
}

func rejection(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		apiErr.Code = e.Code
		apiErr.Message = e.Message
	}
	return apiErr
}
