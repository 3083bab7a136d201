//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/usecase"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func testProvider() model.Provider {
	p := model.Provider{
		Key:           "deltains",
		DisplayName:   "Delta Dental Ins",
		UsernameField: "deltains_username",
		PasswordField: "deltains_password",
	}.WithDefaults()
	p.Poll = model.PollPolicy{
		MaxAttempts:        50,
		Timeout:            time.Hour,
		BaseDelay:          time.Second,
		MaxBackoff:         30 * time.Second,
		NoProgressLimit:    5,
		MaxTransientErrors: 3,
	}
	return p
}

// =============================
// Adapters
// =============================

// ---- Mock EligibilityAgent ----

type MockAgent struct {
	mu    sync.Mutex
	P     model.Provider
	Polls int

	StartSessionFunc     func(ctx context.Context, payload map[string]any) (adapter.StartResponse, error)
	SubmitOTPFunc        func(ctx context.Context, sessionID, otp string) (map[string]any, error)
	GetSessionStatusFunc func(ctx context.Context, sessionID string) (model.SessionStatus, error)
}

var _ adapter.EligibilityAgent = (*MockAgent)(nil)

func (m *MockAgent) Provider() model.Provider { return m.P }

func (m *MockAgent) StartSession(ctx context.Context, payload map[string]any) (adapter.StartResponse, error) {
	if m.StartSessionFunc != nil {
		return m.StartSessionFunc(ctx, payload)
	}
	return adapter.StartResponse{Status: "started", SessionID: "abc"}, nil
}

func (m *MockAgent) SubmitOTP(ctx context.Context, sessionID, otp string) (map[string]any, error) {
	if m.SubmitOTPFunc != nil {
		return m.SubmitOTPFunc(ctx, sessionID, otp)
	}
	return map[string]any{"status": "otp_submitted"}, nil
}

func (m *MockAgent) GetSessionStatus(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	m.mu.Lock()
	m.Polls++
	m.mu.Unlock()
	if m.GetSessionStatusFunc != nil {
		return m.GetSessionStatusFunc(ctx, sessionID)
	}
	return model.SessionStatus{Status: "running"}, nil
}

func (m *MockAgent) Health(ctx context.Context) error { return nil }

func (m *MockAgent) PollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Polls
}

// statusSequence answers with the given statuses in order, repeating the last one.
func statusSequence(seq ...model.SessionStatus) func(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, sessionID string) (model.SessionStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		st := seq[i]
		if i < len(seq)-1 {
			i++
		}
		return st, nil
	}
}

// ---- Mock AgentDirectory ----

type MockDirectory struct {
	Agents map[string]*MockAgent
}

var _ adapter.AgentDirectory = (*MockDirectory)(nil)

func (d *MockDirectory) Agent(provider string) (adapter.EligibilityAgent, error) {
	a, ok := d.Agents[strings.ToLower(provider)]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return a, nil
}

func (d *MockDirectory) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(d.Agents))
	for _, a := range d.Agents {
		out = append(out, a.P)
	}
	return out
}

// ---- Mock Notifier ----

type emitted struct {
	ConnectionID string
	Event        string
	Payload      map[string]any
}

type MockNotifier struct {
	mu     sync.Mutex
	Events []emitted
	Err    error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (n *MockNotifier) Emit(ctx context.Context, connectionID, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, _ := payload.(map[string]any)
	n.Events = append(n.Events, emitted{ConnectionID: connectionID, Event: event, Payload: m})
	return n.Err
}

func (n *MockNotifier) Named(event string) []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []emitted
	for _, e := range n.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// ---- Mock DocumentRenderer ----

type MockRenderer struct {
	ImageToPDFFunc func(ctx context.Context, imagePath string) (string, error)
}

func (r *MockRenderer) ImageToPDF(ctx context.Context, imagePath string) (string, error) {
	if r.ImageToPDFFunc != nil {
		return r.ImageToPDFFunc(ctx, imagePath)
	}
	return "", domain.ErrUnsupportedFile
}

// ---- Mock Completer ----

type MockCompleter struct {
	mu    sync.Mutex
	Calls int
	Jobs  []*model.JobContext

	RunFunc func(ctx context.Context, provider model.Provider, job *model.JobContext, result model.SessionResult) model.CompletionResult
}

var _ usecase.Completer = (*MockCompleter)(nil)

func (c *MockCompleter) Run(ctx context.Context, provider model.Provider, job *model.JobContext, result model.SessionResult) model.CompletionResult {
	c.mu.Lock()
	c.Calls++
	c.Jobs = append(c.Jobs, job)
	c.mu.Unlock()
	if c.RunFunc != nil {
		return c.RunFunc(ctx, provider, job, result)
	}
	return model.CompletionResult{PatientUpdateStatus: "ok", PdfUploadStatus: "none"}
}

// ---- Mock Poller ----

type MockPoller struct {
	mu       sync.Mutex
	Sessions []string
	Done     chan string

	PollFunc func(ctx context.Context, agent adapter.EligibilityAgent, sessionID string) usecase.Outcome
}

func (p *MockPoller) Poll(ctx context.Context, agent adapter.EligibilityAgent, sessionID string) usecase.Outcome {
	p.mu.Lock()
	p.Sessions = append(p.Sessions, sessionID)
	p.mu.Unlock()
	out := usecase.OutcomeCompleted
	if p.PollFunc != nil {
		out = p.PollFunc(ctx, agent, sessionID)
	}
	if p.Done != nil {
		p.Done <- sessionID
	}
	return out
}

// =============================
// Repositories
// =============================

// ---- Mock PatientRepository ----

type MockPatientRepo struct {
	mu       sync.Mutex
	Patients map[int64]*model.Patient
	Updates  []model.PatientUpdate
	Creates  []model.Patient
	nextID   int64

	FindByInsuranceIDFunc func(ctx context.Context, tx repository.Tx, userID int64, insuranceID string) (*model.Patient, error)
	CreateFunc            func(ctx context.Context, tx repository.Tx, p *model.Patient) error
	UpdateFunc            func(ctx context.Context, tx repository.Tx, id int64, upd model.PatientUpdate) error
}

var _ repository.PatientRepository = (*MockPatientRepo)(nil)

func NewMockPatientRepo() *MockPatientRepo {
	return &MockPatientRepo{Patients: make(map[int64]*model.Patient), nextID: 100}
}

func (m *MockPatientRepo) FindByInsuranceID(ctx context.Context, tx repository.Tx, userID int64, insuranceID string) (*model.Patient, error) {
	if m.FindByInsuranceIDFunc != nil {
		return m.FindByInsuranceIDFunc(ctx, tx, userID, insuranceID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Patients {
		if p.UserID == userID && p.InsuranceID == insuranceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPatientRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Patient
	for _, p := range m.Patients {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPatientRepo) Create(ctx context.Context, tx repository.Tx, p *model.Patient) error {
	m.mu.Lock()
	m.Creates = append(m.Creates, *p)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, tx, p); err != nil {
			return err
		}
	} else if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.Patients[p.ID] = &cp
	return nil
}

func (m *MockPatientRepo) Update(ctx context.Context, tx repository.Tx, id int64, upd model.PatientUpdate) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx, id, upd)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates = append(m.Updates, upd)
	p, ok := m.Patients[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		p.LastName = *upd.LastName
	}
	if upd.InsuranceID != nil {
		p.InsuranceID = *upd.InsuranceID
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	return nil
}

// ---- Mock DocumentRepository ----

type MockDocumentRepo struct {
	mu     sync.Mutex
	Groups []*model.DocumentGroup
	Docs   []*model.Document
	nextID int64

	CreateGroupFunc func(ctx context.Context, tx repository.Tx, g *model.DocumentGroup) error
}

var _ repository.DocumentRepository = (*MockDocumentRepo)(nil)

func (m *MockDocumentRepo) FindGroup(ctx context.Context, tx repository.Tx, patientID int64, titleKey string) (*model.DocumentGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.Groups {
		if g.PatientID == patientID && g.TitleKey == titleKey {
			return g, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockDocumentRepo) CreateGroup(ctx context.Context, tx repository.Tx, g *model.DocumentGroup) error {
	if m.CreateGroupFunc != nil {
		return m.CreateGroupFunc(ctx, tx, g)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	g.ID = m.nextID
	m.Groups = append(m.Groups, g)
	return nil
}

func (m *MockDocumentRepo) AddDocument(ctx context.Context, tx repository.Tx, d *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.Docs = append(m.Docs, d)
	return nil
}

// ---- Mock CredentialRepository ----

type MockCredentialRepo struct {
	mu    sync.Mutex
	Saved []*model.InsuranceCredential

	FindBySiteKeyFunc func(ctx context.Context, tx repository.Tx, userID int64, siteKey string) (*model.InsuranceCredential, error)
	ListByUserFunc    func(ctx context.Context, tx repository.Tx, userID int64) ([]*model.InsuranceCredential, error)
	DeleteFunc        func(ctx context.Context, tx repository.Tx, userID, id int64) error
}

var _ repository.CredentialRepository = (*MockCredentialRepo)(nil)

func (m *MockCredentialRepo) Save(ctx context.Context, tx repository.Tx, c *model.InsuranceCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.Saved) + 1)
	m.Saved = append(m.Saved, c)
	return nil
}

func (m *MockCredentialRepo) FindBySiteKey(ctx context.Context, tx repository.Tx, userID int64, siteKey string) (*model.InsuranceCredential, error) {
	if m.FindBySiteKeyFunc != nil {
		return m.FindBySiteKeyFunc(ctx, tx, userID, siteKey)
	}
	return nil, domain.ErrCredentialsNotFound
}

func (m *MockCredentialRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.InsuranceCredential, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, tx, userID)
	}
	return nil, nil
}

func (m *MockCredentialRepo) Delete(ctx context.Context, tx repository.Tx, userID, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, tx, userID, id)
	}
	return nil
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// ---- Mock CompletionLock ----

type MockLock struct {
	ClaimFunc func(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
}

func (m *MockLock) Claim(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, sessionID, ttl)
	}
	return true, nil
}
