package adapter

import "context"

const (
	EventOTPRequired   = "otp_required"
	EventOTPSubmitted  = "otp_submitted"
	EventDebug         = "debug"
	EventSessionUpdate = "session_update"
	EventSessionError  = "session_error"
)

// Notifier pushes an event to one connected client.
// Callers treat delivery as best effort.
type Notifier interface {
	Emit(ctx context.Context, connectionID, event string, payload any) error
}
