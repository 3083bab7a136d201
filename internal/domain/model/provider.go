package model

import (
	"strings"
	"time"
)

// PollPolicy bounds one session poller. Every limit guards a different
// failure mode: an agent that never answers (Timeout), one that answers but
// never advances (NoProgressLimit), and a flaky network (MaxTransientErrors).
type PollPolicy struct {
	MaxAttempts        int
	Timeout            time.Duration
	BaseDelay          time.Duration
	MaxBackoff         time.Duration
	NoProgressLimit    int
	MaxTransientErrors int
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		MaxAttempts:        300,
		Timeout:            2 * time.Minute,
		BaseDelay:          time.Second,
		MaxBackoff:         30 * time.Second,
		NoProgressLimit:    100,
		MaxTransientErrors: 12,
	}
}

// Backoff returns min(MaxBackoff, BaseDelay * 2^(n-1)) for the n-th consecutive transient error.
func (p PollPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Provider describes one insurance portal automated by the agent.
type Provider struct {
	Key               string // path prefix and registry key, e.g. "ddma"
	DisplayName       string // stored on patients created from this provider
	CredentialSiteKey string
	UsernameField     string
	PasswordField     string
	StartPath         string
	OTPPath           string
	StatusPath        string // contains "{sid}"
	Poll              PollPolicy
}

// StatusURLPath expands the status path for a session.
func (p Provider) StatusURLPath(sessionID string) string {
	return strings.ReplaceAll(p.StatusPath, "{sid}", sessionID)
}

// WithDefaults fills agent paths and credential fields from the key.
func (p Provider) WithDefaults() Provider {
	p.Key = strings.ToLower(strings.TrimSpace(p.Key))
	if p.StartPath == "" {
		p.StartPath = "/" + p.Key + "-eligibility"
	}
	if p.OTPPath == "" {
		p.OTPPath = "/" + p.Key + "-submit-otp"
	}
	if p.StatusPath == "" {
		p.StatusPath = "/" + p.Key + "-session/{sid}/status"
	}
	if p.CredentialSiteKey == "" {
		p.CredentialSiteKey = strings.ToUpper(p.Key)
	}
	if p.UsernameField == "" {
		p.UsernameField = p.Key + "Username"
	}
	if p.PasswordField == "" {
		p.PasswordField = p.Key + "Password"
	}
	if p.DisplayName == "" {
		p.DisplayName = strings.ToUpper(p.Key)
	}
	def := DefaultPollPolicy()
	if p.Poll.MaxAttempts <= 0 {
		p.Poll.MaxAttempts = def.MaxAttempts
	}
	if p.Poll.Timeout <= 0 {
		p.Poll.Timeout = def.Timeout
	}
	if p.Poll.BaseDelay <= 0 {
		p.Poll.BaseDelay = def.BaseDelay
	}
	if p.Poll.MaxBackoff <= 0 {
		p.Poll.MaxBackoff = def.MaxBackoff
	}
	if p.Poll.NoProgressLimit <= 0 {
		p.Poll.NoProgressLimit = def.NoProgressLimit
	}
	if p.Poll.MaxTransientErrors <= 0 {
		p.Poll.MaxTransientErrors = def.MaxTransientErrors
	}
	return p
}
