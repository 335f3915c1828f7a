package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTimeout marks a request that exceeded the delivery timeout. Callers
// distinguish it from transport and HTTP-status errors with errors.Is.
var ErrTimeout = errors.New("delivery request timed out")

// RequestTimeout bounds every delivery call.
const RequestTimeout = 10 * time.Second

// Client ships JSON payloads to the collector. There is no retry logic: a
// failed batch is dropped by design.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// Post sends payload to the collector path and returns the response body.
// Non-2xx responses become errors carrying the server-provided message when
// present, else a generic "HTTP <status>" message.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, RequestTimeout)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// statusError prefers the server's own error message when the body carries
// one.
func statusError(status int, body []byte) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return fmt.Errorf("HTTP %d: %s", status, payload.Error)
		}
		if payload.Message != "" {
			return fmt.Errorf("HTTP %d: %s", status, payload.Message)
		}
	}
	return fmt.Errorf("HTTP %d", status)
}
