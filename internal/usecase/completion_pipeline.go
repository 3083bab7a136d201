// File: internal/usecase/completion_pipeline.go
package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/logging"
	"dental-backoffice/internal/infra/metrics"
)

const (
	statusPatientNotFound = "Patient not found and could not be created; no update performed"
	statusNoPDF           = "No PDF available from agent"

	// inline payloads shorter than this are agent placeholders, not documents
	minInlinePDFLength = 100
)

// Completer turns a completed agent session into patient and document updates.
type Completer interface {
	Run(ctx context.Context, provider model.Provider, job *model.JobContext, result model.SessionResult) model.CompletionResult
}

var _ Completer = (*CompletionPipeline)(nil)

// CompletionPipeline reconciles the patient named by a session result and
// files the eligibility document. Failures never escape Run; they are folded
// into the returned CompletionResult.
type CompletionPipeline struct {
	patients    repository.PatientRepository
	documents   repository.DocumentRepository
	tm          repository.TransactionManager
	renderer    adapter.DocumentRenderer
	downloadDir string
	now         func() time.Time
	log         *zerolog.Logger
}

// NewCompletionPipeline wires the pipeline. tm may be nil, in which case the
// group and document writes run without a surrounding transaction.
func NewCompletionPipeline(
	patients repository.PatientRepository,
	documents repository.DocumentRepository,
	tm repository.TransactionManager,
	renderer adapter.DocumentRenderer,
	downloadDir string,
	logger *zerolog.Logger,
) *CompletionPipeline {
	l := logger.With().Str("component", "CompletionPipeline").Logger()
	return &CompletionPipeline{
		patients:    patients,
		documents:   documents,
		tm:          tm,
		renderer:    renderer,
		downloadDir: downloadDir,
		now:         time.Now,
		log:         &l,
	}
}

// pipelineRun is the mutable state of one Run; partial outputs survive errors.
type pipelineRun struct {
	provider model.Provider
	job      *model.JobContext
	result   model.SessionResult
	out      model.CompletionResult
	cleanup  []string
	log      zerolog.Logger
}

func (p *CompletionPipeline) Run(ctx context.Context, provider model.Provider, job *model.JobContext, result model.SessionResult) model.CompletionResult {
	defer logging.TraceDuration(p.log, "CompletionPipeline.Run")()
	start := time.Now()
	defer func() { metrics.ObserveCompletion(provider.Key, time.Since(start)) }()

	if job == nil {
		job = &model.JobContext{}
	}
	r := &pipelineRun{
		provider: provider,
		job:      job,
		result:   result,
		log:      logging.With(ctx, p.log).With().Str("provider", provider.Key).Logger(),
	}
	if path := result.ArtifactPath(); path != "" {
		r.cleanup = append(r.cleanup, path)
	}
	defer func() { p.removeFiles(r) }()

	if err := p.run(ctx, r); err != nil {
		r.log.Error().Err(err).Msg("completion pipeline failed")
		if r.out.PdfUploadStatus == "" {
			r.out.PdfUploadStatus = fmt.Sprintf("Failed to process %s job: %v", provider.DisplayName, err)
		}
		r.out.Error = err.Error()
	}
	return r.out
}

func (p *CompletionPipeline) run(ctx context.Context, r *pipelineRun) error {
	insuranceID := r.result.MemberID()
	if insuranceID == "" {
		insuranceID = r.job.RequestString("memberId")
	}
	insuranceID = model.NormalizeInsuranceID(insuranceID)

	first, last := model.SplitName(r.result.PatientName())
	if first == "" {
		first = r.job.RequestString("firstName")
	}
	if last == "" {
		last = r.job.RequestString("lastName")
	}
	status := model.EligibilityStatus(r.result.Eligibility())

	patient, byInsuranceID, err := p.resolvePatient(ctx, r, insuranceID, first, last, status)
	if err != nil {
		return fmt.Errorf("resolve patient: %w", err)
	}
	if patient == nil {
		r.out.PatientUpdateStatus = statusPatientNotFound
		r.out.PdfUploadStatus = "none"
		return nil
	}

	upd := model.PatientUpdate{Status: &status}
	if byInsuranceID {
		if first != "" && first != patient.FirstName {
			upd.FirstName = &first
		}
		if last != "" && last != patient.LastName {
			upd.LastName = &last
		}
	} else {
		if strings.TrimSpace(patient.FirstName) == "" && first != "" {
			upd.FirstName = &first
		}
		if strings.TrimSpace(patient.LastName) == "" && last != "" {
			upd.LastName = &last
		}
		// matched by name; remember the member id so the next check finds it directly
		if insuranceID != "" && insuranceID != patient.InsuranceID {
			upd.InsuranceID = &insuranceID
		}
	}
	if err := p.patients.Update(ctx, repository.NoTX, patient.ID, upd); err != nil {
		return fmt.Errorf("update patient %d: %w", patient.ID, err)
	}
	if upd.FirstName != nil {
		patient.FirstName = first
	}
	if upd.LastName != nil {
		patient.LastName = last
	}
	if upd.InsuranceID != nil {
		patient.InsuranceID = insuranceID
	}
	patient.Status = status
	r.out.PatientUpdateStatus = fmt.Sprintf("Patient %d updated: status=%s, name=%s %s", patient.ID, status, patient.FirstName, patient.LastName)
	r.log.Info().Int64("patient_id", patient.ID).Str("status", string(status)).Msg("patient eligibility updated")

	content, filename, err := p.loadDocument(ctx, r, insuranceID)
	if err != nil {
		return err
	}
	if content == nil {
		if r.out.PdfUploadStatus == "" {
			r.out.PdfUploadStatus = statusNoPDF
		}
		return nil
	}

	doc, err := p.fileDocument(ctx, patient.ID, filename, content)
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	r.out.PdfUploadStatus = "PDF saved to group: " + model.EligibilityGroupTitle
	r.out.PdfFileID = &doc.ID
	r.out.PdfFilename = &doc.Filename
	return nil
}

// resolvePatient finds the patient by insurance id, then by name among the
// user's patients, then creates one. A nil patient with a nil error means
// there was not enough to identify or create anyone.
func (p *CompletionPipeline) resolvePatient(ctx context.Context, r *pipelineRun, insuranceID, first, last string, status model.PatientStatus) (*model.Patient, bool, error) {
	if insuranceID != "" {
		pt, err := p.patients.FindByInsuranceID(ctx, repository.NoTX, r.job.UserID, insuranceID)
		if err == nil {
			return pt, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	if first != "" && last != "" {
		list, err := p.patients.ListByUser(ctx, repository.NoTX, r.job.UserID)
		if err != nil {
			return nil, false, err
		}
		for _, pt := range list {
			if pt.SameName(first, last) {
				return pt, false, nil
			}
		}
	}

	if insuranceID == "" && (first == "" || last == "") {
		return nil, false, nil
	}

	pt := &model.Patient{
		UserID:            r.job.UserID,
		FirstName:         first,
		LastName:          last,
		DateOfBirth:       parseDOB(r.job.RequestString("dateOfBirth")),
		Gender:            "Unknown",
		Phone:             "",
		InsuranceID:       insuranceID,
		InsuranceProvider: r.provider.DisplayName,
		Status:            status,
	}
	err := p.patients.Create(ctx, repository.NoTX, pt)
	if errors.Is(err, domain.ErrInvalidPatient) && pt.DateOfBirth != nil {
		r.log.Warn().Msg("patient rejected with date of birth, retrying without it")
		pt.DateOfBirth = nil
		err = p.patients.Create(ctx, repository.NoTX, pt)
	}
	if errors.Is(err, domain.ErrInvalidPatient) {
		r.log.Warn().Err(err).Msg("patient could not be created")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.log.Info().Int64("patient_id", pt.ID).Msg("patient created from eligibility result")
	return pt, false, nil
}

// loadDocument returns the PDF bytes for the session, preferring the inline
// payload over the agent's file. A nil slice means there is nothing to file;
// the reason, if any, is left in r.out.PdfUploadStatus.
func (p *CompletionPipeline) loadDocument(ctx context.Context, r *pipelineRun, insuranceID string) ([]byte, string, error) {
	idPart := insuranceID
	if idPart == "" {
		idPart = "unknown"
	}
	name := fmt.Sprintf("%s_eligibility_%s_%s.pdf", r.provider.Key, idPart, ulid.Make())

	if b64 := r.result.PDFBase64(); len(b64) > minInlinePDFLength {
		content, err := decodeInlinePDF(b64)
		if err == nil {
			if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
				return nil, "", fmt.Errorf("create download dir: %w", err)
			}
			path := filepath.Join(p.downloadDir, name)
			if err := os.WriteFile(path, content, 0o600); err != nil {
				return nil, "", fmt.Errorf("write inline pdf: %w", err)
			}
			r.cleanup = append(r.cleanup, path)
			return content, name, nil
		}
		r.log.Warn().Err(err).Msg("inline pdf could not be decoded, falling back to agent file")
	}

	path := r.result.ArtifactPath()
	if path == "" {
		return nil, "", nil
	}
	if _, err := os.Stat(path); err != nil {
		r.out.PdfUploadStatus = fmt.Sprintf("Failed to process file: %v", err)
		return nil, "", nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		content, err := os.ReadFile(path)
		if err != nil {
			r.out.PdfUploadStatus = fmt.Sprintf("Failed to process file: %v", err)
			return nil, "", nil
		}
		return content, filepath.Base(path), nil
	case ".png", ".jpg", ".jpeg":
		pdfPath, err := p.renderer.ImageToPDF(ctx, path)
		if pdfPath != "" {
			r.cleanup = append(r.cleanup, pdfPath)
		}
		if err != nil {
			r.log.Warn().Err(err).Str("path", path).Msg("screenshot conversion failed")
			r.out.PdfUploadStatus = fmt.Sprintf("Failed to process file: %v", err)
			return nil, "", nil
		}
		content, err := os.ReadFile(pdfPath)
		if err != nil {
			r.out.PdfUploadStatus = fmt.Sprintf("Failed to process file: %v", err)
			return nil, "", nil
		}
		return content, name, nil
	default:
		r.out.PdfUploadStatus = "Unsupported file format: " + path
		return nil, "", nil
	}
}

func (p *CompletionPipeline) fileDocument(ctx context.Context, patientID int64, filename string, content []byte) (*model.Document, error) {
	doc := &model.Document{Filename: filename, Content: content, UploadedAt: p.now()}
	save := func(ctx context.Context, tx repository.Tx) error {
		g, err := p.documents.FindGroup(ctx, tx, patientID, model.EligibilityGroupTitleKey)
		if errors.Is(err, domain.ErrNotFound) {
			g = &model.DocumentGroup{
				PatientID: patientID,
				Title:     model.EligibilityGroupTitle,
				TitleKey:  model.EligibilityGroupTitleKey,
			}
			err = p.documents.CreateGroup(ctx, tx, g)
		}
		if err != nil {
			return err
		}
		if g.ID == 0 {
			return domain.ErrMissingGroupID
		}
		doc.GroupID = g.ID
		return p.documents.AddDocument(ctx, tx, doc)
	}

	var err error
	if p.tm != nil {
		err = p.tm.WithTx(ctx, pgx.TxOptions{}, save)
	} else {
		err = save(ctx, repository.NoTX)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *CompletionPipeline) removeFiles(r *pipelineRun) {
	seen := make(map[string]bool, len(r.cleanup))
	for _, path := range r.cleanup {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn().Err(err).Str("path", path).Msg("cleanup failed")
		}
	}
}

// decodeInlinePDF accepts plain base64 or a data: URL.
func decodeInlinePDF(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errors.New("empty inline pdf")
	}
	return b, nil
}

var dobLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", time.RFC3339}

func parseDOB(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}
