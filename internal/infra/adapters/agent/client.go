// File: internal/infra/adapters/agent/client.go
package agent

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

	"github.com/rs/zerolog"

	"dental-backoffice/internal/config"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/infra/metrics"
)

var _ adapter.EligibilityAgent = (*Client)(nil)

// Client talks to the browser-automation agent on behalf of one provider.
// Every call retries 502/503/504 and transient network failures with a
// linear backoff, then makes one last attempt whose outcome is returned.
type Client struct {
	provider   model.Provider
	baseURL    string
	http       *http.Client
	retries    int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zerolog.Logger
}

func NewClient(cfg config.AgentConfig, provider model.Provider, httpClient *http.Client, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 4
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	l := logger.With().Str("component", "AgentClient").Str("provider", provider.Key).Logger()
	return &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       httpClient,
		retries:    retries,
		retryDelay: delay,
		sleep:      sleepCtx,
		logger:     &l,
	}
}

func (c *Client) Provider() model.Provider { return c.provider }

// StartSession posts {"data": payload} to the provider's start path.
func (c *Client) StartSession(ctx context.Context, payload map[string]any) (adapter.StartResponse, error) {
	status, body, err := c.do(ctx, "start", http.MethodPost, c.provider.StartPath, map[string]any{"data": payload})
	if err != nil {
		return adapter.StartResponse{}, err
	}
	if status >= 500 {
		return adapter.StartResponse{}, &Error{Op: "start", Status: status, Kind: KindServer, Body: body}
	}
	resp := adapter.StartResponse{Raw: body}
	resp.Status, _ = body["status"].(string)
	resp.SessionID, _ = body["session_id"].(string)
	resp.Message, _ = body["message"].(string)
	c.logger.Debug().Int("http_status", status).Str("status", resp.Status).Str("session_id", resp.SessionID).Msg("agent start response")
	return resp, nil
}

func (c *Client) SubmitOTP(ctx context.Context, sessionID, otp string) (map[string]any, error) {
	status, body, err := c.do(ctx, "otp", http.MethodPost, c.provider.OTPPath, map[string]any{"session_id": sessionID, "otp": otp})
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, &Error{Op: "otp", Status: status, Kind: KindServer, Body: body}
	}
	return body, nil
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	status, body, err := c.do(ctx, "status", http.MethodGet, c.provider.StatusURLPath(sessionID), nil)
	if err != nil {
		return model.SessionStatus{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return model.SessionStatus{}, &Error{Op: "status", Status: status, Kind: KindNotFound, Body: body}
	case status >= 500:
		return model.SessionStatus{}, &Error{Op: "status", Status: status, Kind: KindServer, Body: body}
	}
	return decodeStatus(body), nil
}

// Health calls the agent's own /status endpoint once, without retries.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncAgentRequest(c.provider.Key, "health", 0)
		return &Error{Op: "health", Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	metrics.IncAgentRequest(c.provider.Key, "health", resp.StatusCode)
	if resp.StatusCode >= 300 {
		return &Error{Op: "health", Status: resp.StatusCode, Kind: KindServer}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (int, map[string]any, error) {
	for attempt := 1; attempt <= c.retries; attempt++ {
		status, out, err := c.once(ctx, op, method, path, body)
		if err == nil {
			if !retryableStatus(status) {
				return status, out, nil
			}
			c.logger.Warn().Str("op", op).Int("http_status", status).Int("attempt", attempt).Msg("retryable agent status")
		} else {
			if !isTransient(ctx, err) {
				return 0, nil, err
			}
			c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient agent network error")
		}
		if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
			return 0, nil, err
		}
	}
	status, out, err := c.once(ctx, op, method, path, body)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return 0, nil, err
		}
		return 0, nil, &Error{Op: op, Kind: KindTransient, Err: err}
	}
	return status, out, nil
}

func (c *Client) once(ctx context.Context, op, method, path string, body any) (int, map[string]any, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncAgentRequest(c.provider.Key, op, 0)
		return 0, nil, err
	}
	defer resp.Body.Close()
	metrics.IncAgentRequest(c.provider.Key, op, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, decodeBody(raw), nil
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// decodeBody keeps non-JSON bodies under "raw" so callers always get a map.
func decodeBody(raw []byte) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{"raw": string(raw)}
	}
	return m
}

func decodeStatus(body map[string]any) model.SessionStatus {
	st := model.SessionStatus{}
	if s, ok := body["status"].(string); ok {
		st.Status = model.SessionState(strings.ToLower(strings.TrimSpace(s)))
	}
	st.Message, _ = body["message"].(string)
	if r, ok := body["result"].(map[string]any); ok {
		st.Result = r
	}
	return st
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
