package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Eligibility orchestration
	ErrUnknownProvider     = errors.New("unknown insurance provider")
	ErrCredentialsNotFound = errors.New("no insurance credentials found for this provider")
	ErrAgentNotStarted     = errors.New("agent did not return a started session")
	ErrAgentServer         = errors.New("agent server error")
	ErrAgentTransient      = errors.New("transient agent network error")
	ErrSessionNotFound     = errors.New("agent session not found")
	ErrPoolSaturated       = errors.New("poller pool saturated")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrCompletionClaimed   = errors.New("completion already claimed for session")

	// Patients and documents
	ErrInvalidPatient  = errors.New("patient failed validation")
	ErrMissingGroupID  = errors.New("document group creation failed: missing group ID")
	ErrUnsupportedFile = errors.New("unsupported file format")
)
