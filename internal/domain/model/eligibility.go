package model

import (
	"fmt"
	"strings"
	"time"
)

type SessionState string

const (
	SessionWaitingForOTP SessionState = "waiting_for_otp"
	SessionCompleted     SessionState = "completed"
	SessionError         SessionState = "error"
	SessionNotFound      SessionState = "not_found"
)

// TerminalLike reports whether the agent considers the session finished.
func (s SessionState) TerminalLike() bool {
	return s == SessionCompleted || s == SessionError || s == SessionNotFound
}

// JobContext is created when a session starts and owned by the registry
// until the poller for that session reaches a terminal state.
type JobContext struct {
	UserID             int64
	Provider           string
	EligibilityRequest map[string]any
	ConnectionID       string
	StartedAt          time.Time
}

// RequestString reads a scalar field of the original request as a trimmed string.
func (j *JobContext) RequestString(key string) string {
	if j == nil {
		return ""
	}
	return stringField(j.EligibilityRequest, key)
}

// SessionStatus is one answer of the agent status endpoint.
type SessionStatus struct {
	Status  SessionState   `json:"status"`
	Message string         `json:"message,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// SessionResult is the opaque payload of a completed session.
type SessionResult map[string]any

func (r SessionResult) MemberID() string       { return stringField(r, "memberId") }
func (r SessionResult) PatientName() string    { return stringField(r, "patientName") }
func (r SessionResult) Eligibility() string    { return stringField(r, "eligibility") }
func (r SessionResult) PDFBase64() string      { return stringField(r, "pdfBase64") }
func (r SessionResult) ScreenshotPath() string { return stringField(r, "ss_path") }
func (r SessionResult) PDFPath() string        { return stringField(r, "pdf_path") }

// ArtifactPath prefers the screenshot path, which is where agents drop
// both printed PDFs and raw captures.
func (r SessionResult) ArtifactPath() string {
	if p := r.ScreenshotPath(); p != "" {
		return p
	}
	return r.PDFPath()
}

// negativeVerdicts win over any positive word in the same verdict.
var negativeVerdicts = []string{
	"inactive", "ineligible", "not eligible", "not active", "no active",
	"terminated", "not covered", "no coverage", "cancelled", "expired",
}

// EligibilityStatus maps a free-text portal verdict onto ACTIVE/INACTIVE.
func EligibilityStatus(verdict string) PatientStatus {
	v := strings.Join(strings.Fields(strings.ToLower(verdict)), " ")
	for _, neg := range negativeVerdicts {
		if strings.Contains(v, neg) {
			return PatientStatusInactive
		}
	}
	if strings.Contains(v, "active") || strings.Contains(v, "eligible") {
		return PatientStatusActive
	}
	return PatientStatusInactive
}

// SplitName treats the first whitespace token as the first name and the
// rest as the last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// CompletionResult summarises what the completion pipeline did.
type CompletionResult struct {
	PatientUpdateStatus string  `json:"patientUpdateStatus,omitempty"`
	PdfUploadStatus     string  `json:"pdfUploadStatus"`
	PdfFileID           *int64  `json:"pdfFileId"`
	PdfFilename         *string `json:"pdfFilename,omitempty"`
	Error               string  `json:"error,omitempty"`
	Detail              string  `json:"detail,omitempty"`
}

// LastResult is the single-slot fallback for clients that lost their push channel.
type LastResult struct {
	SessionID   string            `json:"session_id"`
	UserID      int64             `json:"userId,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	RawResult   map[string]any    `json:"rawResult"`
	Final       *CompletionResult `json:"final"`
	ProcessedAt *time.Time        `json:"processedAt"`
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}
