package model

import (
	"strings"
	"time"

	"dental-backoffice/internal/domain"
)

// InsuranceCredential is a portal login for one provider site.
// Password is plaintext in memory; repositories encrypt it at rest.
type InsuranceCredential struct {
	ID        int64
	UserID    int64
	SiteKey   string
	Username  string
	Password  string
	CreatedAt time.Time
}

func NewInsuranceCredential(userID int64, siteKey, username, password string) (*InsuranceCredential, error) {
	siteKey = strings.ToUpper(strings.TrimSpace(siteKey))
	if userID <= 0 || siteKey == "" || strings.TrimSpace(username) == "" || password == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &InsuranceCredential{
		UserID:    userID,
		SiteKey:   siteKey,
		Username:  strings.TrimSpace(username),
		Password:  password,
		CreatedAt: time.Now(),
	}, nil
}
