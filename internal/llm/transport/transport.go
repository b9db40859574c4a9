// Package transport is the JSON-over-HTTP client shared by the LLM providers.
// It maps every failure onto the apperr taxonomy so providers never return
// raw net/http errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
)

// maxErrorBody bounds how much of a non-2xx body ends up in an error message.
const maxErrorBody = 300

type Client struct {
	provider string
	client   *http.Client
}

func New(provider string, timeout time.Duration) *Client {
	return &Client{
		provider: provider,
		client:   &http.Client{Timeout: timeout},
	}
}

// Do sends in as a JSON body (nil for no body) and decodes a 2xx response into out.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return apperr.Transport(c.provider+" request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, ErrorMessage(raw))
		// Overload and server faults are worth another attempt.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apperr.Transport(c.provider+" request", errors.New(msg))
		}
		return apperr.Provider(c.provider, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Provider(c.provider, "invalid response: "+err.Error())
	}
	return nil
}

// classifyError maps transport-level errors onto apperr kinds.
func (c *Client) classifyError(err error) error {
	op := c.provider + " request"
	if errors.Is(err, context.DeadlineExceeded) {
		e := apperr.Transport(op, err)
		e.Code = apperr.CodeTimeout
		return e
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		e := apperr.Transport(op, err)
		e.Code = apperr.CodeTimeout
		return e
	}
	return apperr.Transport(op, err)
}

// ErrorMessage extracts the message from a provider error envelope, falling
// back to the truncated raw body.
func ErrorMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if len(envelope.Error) > 0 {
			var s string
			if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty body"
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}

// Elapsed returns milliseconds since start.
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
