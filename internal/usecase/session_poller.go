// File: internal/usecase/session_poller.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/metrics"
)

// Outcome is the terminal state a poller stopped in.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeError      Outcome = "error"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeNoProgress Outcome = "no_progress"
	OutcomeTransient  Outcome = "transient"
	OutcomeCancelled  Outcome = "cancelled"
)

const (
	msgOTPRequired       = "OTP required. Please enter the code sent to your email."
	msgSessionGone       = "Session not found (agent cleaned up)."
	msgAgentError        = "Agent session error"
	msgRepeatedNetErrors = "Repeated network errors while polling agent; giving up."
	msgLoopExhausted     = "Polling timeout while waiting for agent session"

	// completionClaimTTL outlives any pipeline run
	completionClaimTTL = 10 * time.Minute
	pipelineTimeout    = 2 * time.Minute
)

// SessionPoller drives one agent session to a terminal state, relaying
// progress to the client and running the completion pipeline exactly once.
type SessionPoller struct {
	registry repository.JobRegistry
	cache    repository.LastResultCache
	lock     repository.CompletionLock
	pipeline Completer
	notifier adapter.Notifier

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *zerolog.Logger
}

func NewSessionPoller(
	registry repository.JobRegistry,
	cache repository.LastResultCache,
	lock repository.CompletionLock,
	pipeline Completer,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *SessionPoller {
	l := logger.With().Str("component", "SessionPoller").Logger()
	return &SessionPoller{
		registry: registry,
		cache:    cache,
		lock:     lock,
		pipeline: pipeline,
		notifier: notifier,
		now:      time.Now,
		sleep:    sleepCtx,
		log:      &l,
	}
}

// Poll blocks until the session reaches a terminal state or ctx is cancelled.
// The registry entry for sessionID is removed on every exit path.
func (p *SessionPoller) Poll(ctx context.Context, agent adapter.EligibilityAgent, sessionID string) (outcome Outcome) {
	provider := agent.Provider()
	policy := provider.Poll
	log := p.log.With().Str("session_id", sessionID).Str("provider", provider.Key).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("poller panicked")
			outcome = OutcomeError
		}
		p.registry.Delete(sessionID)
		metrics.IncSessionFinished(provider.Key, string(outcome))
		log.Info().Str("outcome", string(outcome)).Msg("poller stopped")
	}()

	deadline := p.now().Add(policy.Timeout)
	var (
		transient  int
		noProgress int
		lastStatus model.SessionState
		seenStatus bool
	)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		if p.now().After(deadline) {
			p.emit(ctx, sessionID, adapter.EventSessionUpdate, map[string]any{
				"session_id": sessionID,
				"status":     string(model.SessionError),
				"message":    fmt.Sprintf("Polling timeout reached (%ds).", int(policy.Timeout.Seconds())),
			})
			return OutcomeTimeout
		}

		st, err := agent.GetSessionStatus(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			if isSessionNotFound(err) {
				msg := msgSessionGone
				var d interface{ Detail() string }
				if errors.As(err, &d) && d.Detail() != "" {
					msg = d.Detail()
				}
				p.terminal(ctx, sessionID, model.SessionNotFound, msg)
				return OutcomeNotFound
			}

			transient++
			metrics.IncTransientError(provider.Key)
			if transient > policy.MaxTransientErrors {
				log.Error().Err(err).Int("transient_errors", transient).Msg("giving up after repeated network errors")
				p.terminal(ctx, sessionID, model.SessionError, msgRepeatedNetErrors)
				return OutcomeTransient
			}
			backoff := policy.Backoff(transient)
			log.Warn().Err(err).Int("attempt", attempt).Int("transient_errors", transient).Dur("backoff", backoff).Msg("status poll failed")
			if p.sleep(ctx, backoff) != nil {
				return OutcomeCancelled
			}
			continue
		}

		transient = 0
		metrics.IncPollAttempt(provider.Key, string(st.Status))

		if seenStatus && st.Status == lastStatus && !st.Status.TerminalLike() {
			noProgress++
		} else {
			noProgress = 0
		}
		enteredOTP := st.Status == model.SessionWaitingForOTP && (!seenStatus || lastStatus != model.SessionWaitingForOTP)
		lastStatus, seenStatus = st.Status, true

		if noProgress >= policy.NoProgressLimit {
			p.emit(ctx, sessionID, adapter.EventSessionUpdate, map[string]any{
				"session_id": sessionID,
				"status":     string(model.SessionError),
				"message":    fmt.Sprintf("No progress from agent (status=%q) after %d polls; aborting.", string(st.Status), noProgress),
			})
			p.emit(ctx, sessionID, adapter.EventSessionError, map[string]any{
				"session_id": sessionID,
				"status":     string(model.SessionError),
				"message":    "No progress from agent",
			})
			return OutcomeNoProgress
		}

		p.emit(ctx, sessionID, adapter.EventDebug, map[string]any{
			"session_id": sessionID,
			"attempt":    attempt,
			"status":     string(st.Status),
			"serverTime": p.now().UTC().Format(time.RFC3339),
		})

		switch st.Status {
		case model.SessionWaitingForOTP:
			if enteredOTP {
				p.emit(ctx, sessionID, adapter.EventOTPRequired, map[string]any{
					"session_id": sessionID,
					"message":    msgOTPRequired,
				})
			}
		case model.SessionCompleted:
			p.complete(ctx, provider, sessionID, st.Result, log)
			return OutcomeCompleted
		case model.SessionError, model.SessionNotFound:
			msg := st.Message
			if msg == "" {
				msg = msgAgentError
			}
			p.terminal(ctx, sessionID, st.Status, msg)
			if st.Status == model.SessionNotFound {
				return OutcomeNotFound
			}
			return OutcomeError
		}

		if p.sleep(ctx, policy.BaseDelay) != nil {
			return OutcomeCancelled
		}
	}

	p.emit(ctx, sessionID, adapter.EventSessionUpdate, map[string]any{
		"session_id": sessionID,
		"status":     string(model.SessionError),
		"message":    msgLoopExhausted,
	})
	return OutcomeTimeout
}

// complete caches the raw result, runs the pipeline once and reports both.
func (p *SessionPoller) complete(ctx context.Context, provider model.Provider, sessionID string, raw map[string]any, log zerolog.Logger) {
	// the session is finished at the agent; shutdown must not abort the bookkeeping
	ctx = context.WithoutCancel(ctx)

	claimed, err := p.lock.Claim(ctx, sessionID, completionClaimTTL)
	if err != nil {
		log.Warn().Err(err).Msg("completion lock unavailable, processing anyway")
		claimed = true
	}
	if !claimed {
		log.Warn().Err(domain.ErrCompletionClaimed).Msg("skipping completion")
		p.emit(ctx, sessionID, adapter.EventSessionUpdate, map[string]any{
			"session_id": sessionID,
			"status":     string(model.SessionCompleted),
			"rawResult":  raw,
			"final":      nil,
		})
		return
	}

	job, _ := p.registry.Get(sessionID)
	entry := &model.LastResult{SessionID: sessionID, Provider: provider.Key, RawResult: raw}
	if job != nil {
		entry.UserID = job.UserID
	}
	if err := p.cache.Store(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("failed to cache raw result")
	}

	var final model.CompletionResult
	if job != nil && len(raw) > 0 {
		final = p.runPipeline(ctx, provider, job, raw, log)
	} else {
		final = model.CompletionResult{Error: "no_job_or_no_result"}
	}

	processedAt := p.now().UTC()
	entry.Final = &final
	entry.ProcessedAt = &processedAt
	if err := p.cache.Store(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("failed to cache final result")
	}

	p.emit(ctx, sessionID, adapter.EventSessionUpdate, map[string]any{
		"session_id": sessionID,
		"status":     string(model.SessionCompleted),
		"rawResult":  raw,
		"final":      final,
	})
}

func (p *SessionPoller) runPipeline(ctx context.Context, provider model.Provider, job *model.JobContext, raw map[string]any, log zerolog.Logger) (final model.CompletionResult) {
	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("completion pipeline panicked")
			final = model.CompletionResult{Error: "processing_failed", Detail: fmt.Sprint(r)}
		}
	}()
	return p.pipeline.Run(ctx, provider, job, model.SessionResult(raw))
}

// terminal emits the session_update / session_error pair that closes a session.
func (p *SessionPoller) terminal(ctx context.Context, sessionID string, status model.SessionState, msg string) {
	for _, event := range []string{adapter.EventSessionUpdate, adapter.EventSessionError} {
		p.emit(ctx, sessionID, event, map[string]any{
			"session_id": sessionID,
			"status":     string(status),
			"message":    msg,
		})
	}
}

// emit is best effort; the connection is looked up on every call so a client
// that reconnected and resubmitted its socket id keeps receiving events.
func (p *SessionPoller) emit(ctx context.Context, sessionID, event string, payload map[string]any) {
	job, ok := p.registry.Get(sessionID)
	if !ok || job == nil || job.ConnectionID == "" {
		return
	}
	if err := p.notifier.Emit(context.WithoutCancel(ctx), job.ConnectionID, event, payload); err != nil {
		p.log.Debug().Err(err).Str("session_id", sessionID).Str("event", event).Msg("push event dropped")
	}
}

func isSessionNotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || strings.Contains(err.Error(), "not_found")
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
