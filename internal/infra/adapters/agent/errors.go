package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"dental-backoffice/internal/domain"
)

type ErrorKind string

const (
	KindServer    ErrorKind = "server"
	KindNotFound  ErrorKind = "not_found"
	KindTransient ErrorKind = "transient"
)

// Error is returned by the client once retries are exhausted or the agent
// answered in a way the caller must branch on.
type Error struct {
	Op     string
	Status int // 0 for network failures
	Kind   ErrorKind
	Body   map[string]any
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return "not_found"
	case KindServer:
		return fmt.Sprintf("agent server error on %s: %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("agent %s: %v", e.Op, e.Err)
	}
}

// Detail is the agent's own explanation, when its body carried one.
func (e *Error) Detail() string {
	for _, k := range []string{"detail", "message"} {
		if v, ok := e.Body[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (e *Error) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case KindNotFound:
		sentinel = domain.ErrSessionNotFound
	case KindServer:
		sentinel = domain.ErrAgentServer
	default:
		sentinel = domain.ErrAgentTransient
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// isTransient reports network failures worth another attempt: reset, refused,
// broken pipe and timeouts. Cancellation of the caller's context is not one.
func isTransient(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
