// Package sms sends text messages through an HTTP SMS gateway.
package sms

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

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
)

// Client posts messages to {base}/messages with bearer auth.
type Client struct {
	baseURL string
	apiKey  string
	sender  string
	client  *http.Client
}

func NewClient(cfg config.SMSConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		sender:  cfg.Sender,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether a gateway URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type sendRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Send delivers text to the E.164 number to and returns the gateway's message ID.
func (c *Client) Send(ctx context.Context, to, text string) (string, error) {
	if !c.Enabled() {
		return "", apperr.Provider("sms", "sms delivery is not configured")
	}

	body, err := json.Marshal(sendRequest{From: c.sender, To: to, Text: text})
	if err != nil {
		return "", fmt.Errorf("encoding sms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
		return "", statusError(resp.StatusCode, raw)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Provider("sms", "invalid response: "+err.Error())
	}
	if out.ID == "" {
		return "", apperr.Provider("sms", "invalid response: missing message id")
	}
	return out.ID, nil
}

func statusError(status int, body []byte) error {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			msg = envelope.Message
		} else if envelope.Error != "" {
			msg = envelope.Error
		}
	}
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperr.Validation("sms gateway rejected message", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.Transport(fmt.Sprintf("sms gateway status %d", status), errors.New(msg))
	default:
		return apperr.Provider("sms", fmt.Sprintf("status %d: %s", status, msg))
	}
}

func (c *Client) classifyError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		e := apperr.Transport("sms request timed out", err)
		e.Code = apperr.CodeTimeout
		return e
	}
	return apperr.Transport("sms gateway unreachable", err)
}
