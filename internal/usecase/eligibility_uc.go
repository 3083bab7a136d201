// File: internal/usecase/eligibility_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/logging"
	"dental-backoffice/internal/infra/metrics"
	"dental-backoffice/internal/infra/worker"
)

// Compile-time check
var _ EligibilityUseCase = (*eligibilityUC)(nil)

type EligibilityUseCase interface {
	Providers() []model.Provider
	Start(ctx context.Context, in StartInput) (*StartOutput, error)
	SubmitOTP(ctx context.Context, in OTPInput) (map[string]any, error)
	FinalResult(ctx context.Context, userID int64, provider, sessionID string) (*model.LastResult, error)
}

type StartInput struct {
	UserID       int64
	Provider     string
	Data         map[string]any
	ConnectionID string
}

type StartOutput struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type OTPInput struct {
	UserID       int64
	Provider     string
	SessionID    string
	OTP          string
	ConnectionID string
}

// Poller is satisfied by *SessionPoller.
type Poller interface {
	Poll(ctx context.Context, agent adapter.EligibilityAgent, sessionID string) Outcome
}

// Slots hands out poller capacity; *worker.Pool satisfies it.
type Slots interface {
	Reserve() (*worker.Slot, error)
}

// StartLimit caps session starts per user; zero Limit disables it.
type StartLimit struct {
	Limit  int
	Window time.Duration
}

type eligibilityUC struct {
	agents   adapter.AgentDirectory
	creds    repository.CredentialRepository
	registry repository.JobRegistry
	cache    repository.LastResultCache
	limiter  repository.RateLimiter
	limit    StartLimit
	poller   Poller
	slots    Slots
	notifier adapter.Notifier
	devMode  bool
	log      *zerolog.Logger
}

func NewEligibilityUseCase(
	agents adapter.AgentDirectory,
	creds repository.CredentialRepository,
	registry repository.JobRegistry,
	cache repository.LastResultCache,
	limiter repository.RateLimiter,
	limit StartLimit,
	poller Poller,
	slots Slots,
	notifier adapter.Notifier,
	devMode bool,
	logger *zerolog.Logger,
) *eligibilityUC {
	l := logger.With().Str("component", "EligibilityUC").Logger()
	return &eligibilityUC{
		agents:   agents,
		creds:    creds,
		registry: registry,
		cache:    cache,
		limiter:  limiter,
		limit:    limit,
		poller:   poller,
		slots:    slots,
		notifier: notifier,
		devMode:  devMode,
		log:      &l,
	}
}

func (u *eligibilityUC) Providers() []model.Provider {
	return u.agents.Providers()
}

// Start opens an agent session with the user's stored portal credentials
// and hands it to a background poller. Only this call can fail synchronously;
// everything after the agent accepted the session is reported over push.
func (u *eligibilityUC) Start(ctx context.Context, in StartInput) (*StartOutput, error) {
	defer logging.TraceDuration(u.log, "EligibilityUC.Start")()

	if in.UserID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	agent, err := u.agents.Agent(in.Provider)
	if err != nil {
		return nil, err
	}
	provider := agent.Provider()
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: missing insurance eligibility data", domain.ErrInvalidArgument)
	}
	log := logging.With(logging.WithProvider(ctx, provider.Key), u.log)

	if u.limiter != nil && u.limit.Limit > 0 {
		ok, err := u.limiter.Allow(ctx, repository.UserActionKey(in.UserID, "start"), u.limit.Limit, u.limit.Window)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	siteKey := provider.CredentialSiteKey
	if v, ok := in.Data["insuranceSiteKey"].(string); ok && strings.TrimSpace(v) != "" {
		siteKey = siteKeyOf(v)
	}
	cred, err := u.creds.FindBySiteKey(ctx, repository.NoTX, in.UserID, siteKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrCredentialsNotFound) {
			return nil, domain.ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	payload := make(map[string]any, len(in.Data)+2)
	for k, v := range in.Data {
		payload[k] = v
	}
	payload[provider.UsernameField] = cred.Username
	payload[provider.PasswordField] = cred.Password

	slot, err := u.slots.Reserve()
	if err != nil {
		return nil, err
	}
	resp, err := agent.StartSession(ctx, payload)
	if err != nil {
		slot.Release()
		return nil, fmt.Errorf("start agent session: %w", err)
	}
	if resp.Status != "started" || resp.SessionID == "" {
		slot.Release()
		msg := resp.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotStarted, msg)
	}

	sid := resp.SessionID
	u.registry.Put(sid, &model.JobContext{
		UserID:             in.UserID,
		Provider:           provider.Key,
		EligibilityRequest: payload,
		ConnectionID:       in.ConnectionID,
		StartedAt:          time.Now(),
	})
	metrics.IncSessionStarted(provider.Key)
	log.Info().
		Str("session_id", sid).
		Str("member_id", logging.Redact(model.SessionResult(in.Data).MemberID(), u.devMode)).
		Msg("agent session started")

	slot.Go("poll:"+sid, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan struct{})
		defer close(done)
		u.registry.Track(sid, cancel, done)

		ctx = logging.WithProvider(logging.WithSessID(ctx, sid), provider.Key)
		u.poller.Poll(ctx, agent, sid)
		return nil
	})

	return &StartOutput{Status: "started", SessionID: sid}, nil
}

// SubmitOTP relays the code and tells the client it was forwarded. A new
// connection id re-targets the poller's events to that connection. Sessions
// owned by another user are reported as not found.
func (u *eligibilityUC) SubmitOTP(ctx context.Context, in OTPInput) (map[string]any, error) {
	defer logging.TraceDuration(u.log, "EligibilityUC.SubmitOTP")()

	agent, err := u.agents.Agent(in.Provider)
	if err != nil {
		return nil, err
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.OTP = strings.TrimSpace(in.OTP)
	if in.SessionID == "" || in.OTP == "" {
		return nil, fmt.Errorf("%w: session_id and otp are required", domain.ErrInvalidArgument)
	}

	connID := in.ConnectionID
	if job, ok := u.registry.Get(in.SessionID); ok && job != nil {
		if job.UserID != in.UserID {
			u.log.Warn().
				Str("session_id", in.SessionID).
				Int64("user_id", in.UserID).
				Msg("otp for a session owned by another user")
			return nil, domain.ErrSessionNotFound
		}
		if connID != "" && connID != job.ConnectionID {
			u.registry.SetConnection(in.SessionID, connID)
		}
		if connID == "" {
			connID = job.ConnectionID
		}
	}

	resp, err := agent.SubmitOTP(ctx, in.SessionID, in.OTP)
	if err != nil {
		return nil, fmt.Errorf("submit otp: %w", err)
	}
	u.log.Info().
		Str("session_id", in.SessionID).
		Str("otp", logging.Redact(in.OTP, u.devMode)).
		Msg("otp forwarded to agent")

	if connID != "" {
		payload := map[string]any{"session_id": in.SessionID, "result": resp}
		if err := u.notifier.Emit(ctx, connID, adapter.EventOTPSubmitted, payload); err != nil {
			u.log.Debug().Err(err).Str("session_id", in.SessionID).Msg("otp_submitted event dropped")
		}
	}
	return resp, nil
}

// FinalResult serves clients that missed the session_update event. Only the
// user that started the session can read it.
func (u *eligibilityUC) FinalResult(ctx context.Context, userID int64, provider, sessionID string) (*model.LastResult, error) {
	agent, err := u.agents.Agent(provider)
	if err != nil {
		return nil, err
	}
	res, err := u.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if res.Provider != "" && res.Provider != agent.Provider().Key {
		return nil, domain.ErrNotFound
	}
	if res.UserID != 0 && res.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return res, nil
}
