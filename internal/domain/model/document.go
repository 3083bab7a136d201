package model

import "time"

const (
	EligibilityGroupTitle    = "Eligibility Status"
	EligibilityGroupTitleKey = "ELIGIBILITY_STATUS"
)

// DocumentGroup files documents per patient under a stable logical key.
type DocumentGroup struct {
	ID        int64
	PatientID int64
	Title     string
	TitleKey  string
	CreatedAt time.Time
}

type Document struct {
	ID         int64
	GroupID    int64
	Filename   string
	Content    []byte
	UploadedAt time.Time
}
