package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/infra/adapters/agent"
	"dental-backoffice/internal/infra/logging"
	"dental-backoffice/internal/usecase"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// startRequest.Data is either an object or a string holding a JSON object.
type startRequest struct {
	Data     json.RawMessage `json:"data"`
	SocketID string          `json:"socketId"`
}

// eligibilityData decodes the start payload in either of its accepted forms.
func eligibilityData(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("%w: invalid data", domain.ErrInvalidArgument)
		}
		if strings.TrimSpace(encoded) == "" {
			return nil, nil
		}
		raw = []byte(encoded)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: data must be a JSON object", domain.ErrInvalidArgument)
	}
	return data, nil
}

type otpRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	OTP       string `json:"otp" validate:"required,max=32"`
	SocketID  string `json:"socketId" validate:"max=128"`
}

type credentialRequest struct {
	SiteKey  string `json:"siteKey" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

type credentialView struct {
	ID        int64     `json:"id"`
	SiteKey   string    `json:"siteKey"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type providerView struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON body into v and checks its validate tags.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidArgument)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", domain.ErrInvalidArgument, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps use-case errors onto HTTP codes.
func statusFor(err error) int {
	var aerr *agent.Error
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownProvider),
		errors.Is(err, domain.ErrCredentialsNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPoolSaturated):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAgentNotStarted),
		errors.Is(err, domain.ErrAgentServer),
		errors.Is(err, domain.ErrAgentTransient),
		errors.As(err, &aerr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	l := logging.With(r.Context(), s.log)
	ev := l.Warn()
	if code >= http.StatusInternalServerError {
		ev = l.Error()
	}
	ev.Err(err).Str("op", op).Int("status", code).Msg("request failed")

	body := errorBody{Error: err.Error()}
	if code == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	var aerr *agent.Error
	if errors.As(err, &aerr) {
		body.Detail = aerr.Detail()
	}
	writeJSON(w, code, body)
}

// connectionFor drops socket ids that belong to someone else.
func (s *Server) connectionFor(r *http.Request, socketID string) string {
	socketID = strings.TrimSpace(socketID)
	if socketID == "" || s.sockets == nil {
		return socketID
	}
	owner, ok := s.sockets.Owner(socketID)
	if ok && owner != userIDFrom(r.Context()) {
		l := logging.With(r.Context(), s.log)
		l.Warn().Str("socket_id", socketID).Msg("socket belongs to another user, ignoring")
		return ""
	}
	return socketID
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	data, err := eligibilityData(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	provider := chi.URLParam(r, "provider")
	ctx := logging.WithProvider(r.Context(), provider)

	out, err := s.eligibility.Start(ctx, usecase.StartInput{
		UserID:       userIDFrom(ctx),
		Provider:     provider,
		Data:         data,
		ConnectionID: s.connectionFor(r, req.SocketID),
	})
	if err != nil {
		s.fail(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	resp, err := s.eligibility.SubmitOTP(r.Context(), usecase.OTPInput{
		UserID:       userIDFrom(r.Context()),
		Provider:     chi.URLParam(r, "provider"),
		SessionID:    req.SessionID,
		OTP:          req.OTP,
		ConnectionID: s.connectionFor(r, req.SocketID),
	})
	if err != nil {
		s.fail(w, r, "submit_otp", err)
		return
	}
	if resp == nil {
		resp = map[string]any{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinal(w http.ResponseWriter, r *http.Request) {
	res, err := s.eligibility.FinalResult(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "provider"), chi.URLParam(r, "sid"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no result for session"})
			return
		}
		s.fail(w, r, "final", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	ps := s.eligibility.Providers()
	out := make([]providerView, 0, len(ps))
	for _, p := range ps {
		out = append(out, providerView{Key: p.Key, DisplayName: p.DisplayName})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.sockets.Serve(w, r, userIDFrom(r.Context()))
}

func toView(c *model.InsuranceCredential) credentialView {
	return credentialView{ID: c.ID, SiteKey: c.SiteKey, Username: c.Username, CreatedAt: c.CreatedAt}
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	list, err := s.credentials.List(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "list_credentials", err)
		return
	}
	out := make([]credentialView, 0, len(list))
	for _, c := range list {
		out = append(out, toView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c, err := s.credentials.Save(r.Context(), userIDFrom(r.Context()), req.SiteKey, req.Username, req.Password)
	if err != nil {
		s.fail(w, r, "save_credential", err)
		return
	}
	code := http.StatusOK
	if r.Method == http.MethodPost {
		code = http.StatusCreated
	}
	writeJSON(w, code, toView(c))
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid credential id"})
		return
	}
	if err := s.credentials.Delete(r.Context(), userIDFrom(r.Context()), id); err != nil {
		s.fail(w, r, "delete_credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealthz checks the database and the agent behind each provider.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.agents != nil {
		for _, p := range s.agents.Providers() {
			a, err := s.agents.Agent(p.Key)
			if err == nil {
				err = a.Health(ctx)
			}
			if err != nil {
				checks["agent:"+p.Key] = err.Error()
				healthy = false
				continue
			}
			checks["agent:"+p.Key] = "ok"
		}
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
