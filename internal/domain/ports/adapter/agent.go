package adapter

import (
	"context"

	"dental-backoffice/internal/domain/model"
)

// StartResponse is the agent acknowledgement of a new session.
type StartResponse struct {
	Status    string         `json:"status"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message,omitempty"`
	Raw       map[string]any `json:"-"`
}

// EligibilityAgent is the hex port for the browser-automation agent of one provider.
type EligibilityAgent interface {
	Provider() model.Provider

	// StartSession asks the agent to open a portal session for the enriched request.
	StartSession(ctx context.Context, payload map[string]any) (StartResponse, error)
	// SubmitOTP relays a one-time password to a waiting session; the agent body is returned as-is.
	SubmitOTP(ctx context.Context, sessionID, otp string) (map[string]any, error)
	// GetSessionStatus returns domain.ErrSessionNotFound (wrapped) when the agent answers 404.
	GetSessionStatus(ctx context.Context, sessionID string) (model.SessionStatus, error)
	// Health probes the agent process itself.
	Health(ctx context.Context) error
}

// AgentDirectory resolves the agent for a provider key.
type AgentDirectory interface {
	Agent(provider string) (EligibilityAgent, error)
	Providers() []model.Provider
}
