//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/session"
	"dental-backoffice/internal/infra/worker"
	"dental-backoffice/internal/usecase"
)

type eligibilityFixture struct {
	agent    *MockAgent
	creds    *MockCredentialRepo
	registry *session.Registry
	cache    *session.LastResultStore
	poller   *MockPoller
	pool     *worker.Pool
	notifier *MockNotifier
	limiter  *MockRateLimiter
	uc       usecase.EligibilityUseCase
}

func newEligibilityFixture(t *testing.T, poolSize int) *eligibilityFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &eligibilityFixture{
		agent: &MockAgent{P: testProvider()},
		creds: &MockCredentialRepo{
			FindBySiteKeyFunc: func(ctx context.Context, tx repository.Tx, userID int64, siteKey string) (*model.InsuranceCredential, error) {
				return &model.InsuranceCredential{UserID: userID, SiteKey: siteKey, Username: "office", Password: "s3cret"}, nil
			},
		},
		registry: session.NewRegistry(),
		cache:    session.NewLastResultStore(),
		poller:   &MockPoller{Done: make(chan string, 4)},
		pool:     worker.NewPool(ctx, poolSize, newTestLogger()),
		notifier: &MockNotifier{},
		limiter:  &MockRateLimiter{},
	}
	dir := &MockDirectory{Agents: map[string]*MockAgent{"deltains": f.agent}}
	f.uc = usecase.NewEligibilityUseCase(
		dir, f.creds, f.registry, f.cache, f.limiter,
		usecase.StartLimit{Limit: 5, Window: time.Minute},
		f.poller, f.pool, f.notifier, false, newTestLogger(),
	)
	return f
}

func startInput() usecase.StartInput {
	return usecase.StartInput{
		UserID:       7,
		Provider:     "deltains",
		Data:         map[string]any{"memberId": "M1", "dateOfBirth": "1980-04-15"},
		ConnectionID: "conn-1",
	}
}

func waitPolled(t *testing.T, f *eligibilityFixture) string {
	t.Helper()
	select {
	case sid := <-f.poller.Done:
		return sid
	case <-time.After(2 * time.Second):
		t.Fatal("poller was not started")
		return ""
	}
}

func TestEligibilityUseCase_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("should start a session and hand it to a poller", func(t *testing.T) {
		// --- Arrange ---
		f := newEligibilityFixture(t, 2)
		var sent map[string]any
		f.agent.StartSessionFunc = func(ctx context.Context, payload map[string]any) (adapter.StartResponse, error) {
			sent = payload
			return adapter.StartResponse{Status: "started", SessionID: "abc"}, nil
		}

		// --- Act ---
		out, err := f.uc.Start(ctx, startInput())

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, &usecase.StartOutput{Status: "started", SessionID: "abc"}, out)
		assert.Equal(t, "abc", waitPolled(t, f))

		assert.Equal(t, "office", sent["deltains_username"])
		assert.Equal(t, "s3cret", sent["deltains_password"])
		assert.Equal(t, "M1", sent["memberId"])

		job, ok := f.registry.Get("abc")
		require.True(t, ok)
		assert.EqualValues(t, 7, job.UserID)
		assert.Equal(t, "conn-1", job.ConnectionID)
		assert.Equal(t, "deltains", job.Provider)

		require.NoError(t, f.pool.Wait(ctx))
		assert.Equal(t, 0, f.pool.Active())
	})

	t.Run("should honour a request-level credential site key", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		var gotKey string
		f.creds.FindBySiteKeyFunc = func(ctx context.Context, tx repository.Tx, userID int64, siteKey string) (*model.InsuranceCredential, error) {
			gotKey = siteKey
			return &model.InsuranceCredential{Username: "u", Password: "p"}, nil
		}
		in := startInput()
		in.Data["insuranceSiteKey"] = " dentaquest "

		_, err := f.uc.Start(ctx, in)

		require.NoError(t, err)
		assert.Equal(t, "DENTAQUEST", gotKey)
		waitPolled(t, f)
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		in := startInput()
		in.Provider = "cigna"

		_, err := f.uc.Start(ctx, in)

		assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	})

	t.Run("should reject a missing payload", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		in := startInput()
		in.Data = nil

		_, err := f.uc.Start(ctx, in)

		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should fail without stored credentials and never call the agent", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		f.creds.FindBySiteKeyFunc = nil
		called := false
		f.agent.StartSessionFunc = func(context.Context, map[string]any) (adapter.StartResponse, error) {
			called = true
			return adapter.StartResponse{}, nil
		}

		_, err := f.uc.Start(ctx, startInput())

		assert.ErrorIs(t, err, domain.ErrCredentialsNotFound)
		assert.False(t, called)
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("should surface an agent that did not start and free the slot", func(t *testing.T) {
		f := newEligibilityFixture(t, 1)
		f.agent.StartSessionFunc = func(context.Context, map[string]any) (adapter.StartResponse, error) {
			return adapter.StartResponse{Status: "error", Message: "portal down"}, nil
		}

		_, err := f.uc.Start(ctx, startInput())

		assert.ErrorIs(t, err, domain.ErrAgentNotStarted)
		assert.Contains(t, err.Error(), "portal down")
		assert.Equal(t, 0, f.registry.Len())
		assert.Equal(t, 0, f.pool.Active())
	})

	t.Run("should wrap agent transport errors", func(t *testing.T) {
		f := newEligibilityFixture(t, 1)
		f.agent.StartSessionFunc = func(context.Context, map[string]any) (adapter.StartResponse, error) {
			return adapter.StartResponse{}, domain.ErrAgentServer
		}

		_, err := f.uc.Start(ctx, startInput())

		assert.ErrorIs(t, err, domain.ErrAgentServer)
		assert.Equal(t, 0, f.pool.Active())
	})

	t.Run("should refuse new sessions when every poller slot is taken", func(t *testing.T) {
		f := newEligibilityFixture(t, 1)
		slot, err := f.pool.Reserve()
		require.NoError(t, err)
		defer slot.Release()
		called := false
		f.agent.StartSessionFunc = func(context.Context, map[string]any) (adapter.StartResponse, error) {
			called = true
			return adapter.StartResponse{Status: "started", SessionID: "abc"}, nil
		}

		_, err = f.uc.Start(ctx, startInput())

		assert.ErrorIs(t, err, domain.ErrPoolSaturated)
		assert.False(t, called)
	})

	t.Run("should enforce the per-user start limit", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		f.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			assert.Equal(t, "rate_limit:7:start", key)
			assert.Equal(t, 5, limit)
			return false, nil
		}

		_, err := f.uc.Start(ctx, startInput())

		assert.ErrorIs(t, err, domain.ErrRateLimited)
	})

	t.Run("should ignore a broken rate limiter", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		f.limiter.AllowFunc = func(context.Context, string, int, time.Duration) (bool, error) {
			return false, errors.New("redis down")
		}

		_, err := f.uc.Start(ctx, startInput())

		require.NoError(t, err)
		waitPolled(t, f)
	})
}

func TestEligibilityUseCase_SubmitOTP(t *testing.T) {
	ctx := context.Background()

	t.Run("should forward the code and notify the session's connection", func(t *testing.T) {
		// --- Arrange ---
		f := newEligibilityFixture(t, 2)
		f.registry.Put("abc", &model.JobContext{UserID: 7, ConnectionID: "conn-1"})
		var gotOTP string
		f.agent.SubmitOTPFunc = func(ctx context.Context, sessionID, otp string) (map[string]any, error) {
			gotOTP = otp
			return map[string]any{"status": "otp_submitted"}, nil
		}

		// --- Act ---
		resp, err := f.uc.SubmitOTP(ctx, usecase.OTPInput{UserID: 7, Provider: "deltains", SessionID: "abc", OTP: " 123456 "})

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, "otp_submitted", resp["status"])
		assert.Equal(t, "123456", gotOTP)
		events := f.notifier.Named(adapter.EventOTPSubmitted)
		require.Len(t, events, 1)
		assert.Equal(t, "conn-1", events[0].ConnectionID)
		assert.Equal(t, "abc", events[0].Payload["session_id"])
		assert.Equal(t, resp, events[0].Payload["result"])
	})

	t.Run("should re-target the session to a new connection", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		f.registry.Put("abc", &model.JobContext{UserID: 7, ConnectionID: "conn-1"})

		_, err := f.uc.SubmitOTP(ctx, usecase.OTPInput{UserID: 7, Provider: "deltains", SessionID: "abc", OTP: "1", ConnectionID: "conn-2"})

		require.NoError(t, err)
		job, _ := f.registry.Get("abc")
		assert.Equal(t, "conn-2", job.ConnectionID)
		assert.Equal(t, "conn-2", f.notifier.Named(adapter.EventOTPSubmitted)[0].ConnectionID)
	})

	t.Run("should refuse a session owned by another user", func(t *testing.T) {
		// --- Arrange ---
		f := newEligibilityFixture(t, 2)
		f.registry.Put("abc", &model.JobContext{UserID: 7, ConnectionID: "conn-user7"})
		forwarded := false
		f.agent.SubmitOTPFunc = func(context.Context, string, string) (map[string]any, error) {
			forwarded = true
			return map[string]any{}, nil
		}

		// --- Act ---
		_, err := f.uc.SubmitOTP(ctx, usecase.OTPInput{UserID: 8, Provider: "deltains", SessionID: "abc", OTP: "1", ConnectionID: "conn-user8"})

		// --- Assert ---
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.False(t, forwarded)
		job, _ := f.registry.Get("abc")
		assert.Equal(t, "conn-user7", job.ConnectionID)
		assert.Empty(t, f.notifier.Events)
	})

	t.Run("should not resurrect a finished session", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)

		_, err := f.uc.SubmitOTP(ctx, usecase.OTPInput{UserID: 7, Provider: "deltains", SessionID: "gone", OTP: "1", ConnectionID: "conn-2"})

		require.NoError(t, err)
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("should require a session id and a code", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)

		_, err := f.uc.SubmitOTP(ctx, usecase.OTPInput{Provider: "deltains", SessionID: "abc"})

		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should propagate agent failures", func(t *testing.T) {
		f := newEligibilityFixture(t, 2)
		f.agent.SubmitOTPFunc = func(context.Context, string, string) (map[string]any, error) {
			return nil, domain.ErrAgentServer
		}

		_, err := f.uc.SubmitOTP(ctx, usecase.OTPInput{Provider: "deltains", SessionID: "abc", OTP: "1"})

		assert.ErrorIs(t, err, domain.ErrAgentServer)
		assert.Empty(t, f.notifier.Events)
	})
}

func TestEligibilityUseCase_FinalResult(t *testing.T) {
	ctx := context.Background()
	f := newEligibilityFixture(t, 2)
	processed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.cache.Store(ctx, &model.LastResult{
		SessionID:   "abc",
		UserID:      7,
		Provider:    "deltains",
		RawResult:   map[string]any{"memberId": "M1"},
		Final:       &model.CompletionResult{PdfUploadStatus: "none"},
		ProcessedAt: &processed,
	}))

	t.Run("should return identical payloads on repeated reads", func(t *testing.T) {
		first, err := f.uc.FinalResult(ctx, 7, "deltains", "abc")
		require.NoError(t, err)
		second, err := f.uc.FinalResult(ctx, 7, "deltains", "abc")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, "none", first.Final.PdfUploadStatus)
	})

	t.Run("should miss on another session id", func(t *testing.T) {
		_, err := f.uc.FinalResult(ctx, 7, "deltains", "other")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := f.uc.FinalResult(ctx, 7, "cigna", "abc")
		assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	})

	t.Run("should hide another user's result", func(t *testing.T) {
		_, err := f.uc.FinalResult(ctx, 8, "deltains", "abc")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
