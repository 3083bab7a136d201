package model

import (
	"regexp"
	"strings"
	"time"

	"dental-backoffice/internal/domain"
)

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "ACTIVE"
	PatientStatusInactive PatientStatus = "INACTIVE"
	PatientStatusUnknown  PatientStatus = "UNKNOWN"
)

// Patient is owned by storage; the eligibility pipeline only reconciles it.
type Patient struct {
	ID                int64
	UserID            int64
	FirstName         string
	LastName          string
	DateOfBirth       *time.Time
	Gender            string
	Phone             string
	InsuranceID       string
	InsuranceProvider string
	Status            PatientStatus
	CreatedAt         time.Time
}

// PatientUpdate carries only the fields to change; nil means untouched.
type PatientUpdate struct {
	FirstName   *string
	LastName    *string
	InsuranceID *string
	Status      *PatientStatus
}

func (u PatientUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.InsuranceID == nil && u.Status == nil
}

var insuranceIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// NormalizeInsuranceID strips whitespace. Some providers use letter prefixes,
// so alphanumerics are accepted.
func NormalizeInsuranceID(raw string) string {
	return strings.Join(strings.Fields(raw), "")
}

// Validate mirrors the storage-side insert checks. A DOB in the future or
// before 1900 is rejected so callers can retry without it.
func (p *Patient) Validate() error {
	if p.UserID <= 0 {
		return domain.ErrInvalidPatient
	}
	if p.InsuranceID != "" {
		if len(p.InsuranceID) > 32 || !insuranceIDPattern.MatchString(p.InsuranceID) {
			return domain.ErrInvalidPatient
		}
	}
	if p.InsuranceID == "" && (strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "") {
		return domain.ErrInvalidPatient
	}
	if p.DateOfBirth != nil {
		if p.DateOfBirth.After(time.Now()) || p.DateOfBirth.Year() < 1900 {
			return domain.ErrInvalidPatient
		}
	}
	switch p.Status {
	case "", PatientStatusActive, PatientStatusInactive, PatientStatusUnknown:
	default:
		return domain.ErrInvalidPatient
	}
	return nil
}

// SameName compares first and last name case-insensitively.
func (p *Patient) SameName(first, last string) bool {
	return strings.EqualFold(strings.TrimSpace(p.FirstName), strings.TrimSpace(first)) &&
		strings.EqualFold(strings.TrimSpace(p.LastName), strings.TrimSpace(last))
}
