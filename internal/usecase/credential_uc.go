// File: internal/usecase/credential_uc.go
package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/logging"
)

var _ CredentialUseCase = (*credentialUC)(nil)

// CredentialUseCase manages the portal logins agents sign in with.
type CredentialUseCase interface {
	// Save creates or replaces the login for (userID, siteKey).
	Save(ctx context.Context, userID int64, siteKey, username, password string) (*model.InsuranceCredential, error)
	List(ctx context.Context, userID int64) ([]*model.InsuranceCredential, error)
	Delete(ctx context.Context, userID, id int64) error
}

type credentialUC struct {
	repo repository.CredentialRepository
	log  *zerolog.Logger
}

func NewCredentialUseCase(repo repository.CredentialRepository, logger *zerolog.Logger) *credentialUC {
	l := logger.With().Str("component", "CredentialUC").Logger()
	return &credentialUC{repo: repo, log: &l}
}

func (u *credentialUC) Save(ctx context.Context, userID int64, siteKey, username, password string) (*model.InsuranceCredential, error) {
	defer logging.TraceDuration(u.log, "CredentialUC.Save")()

	c, err := model.NewInsuranceCredential(userID, siteKey, username, password)
	if err != nil {
		return nil, err
	}
	if err := u.repo.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	u.log.Info().Int64("user_id", userID).Str("site_key", c.SiteKey).Msg("insurance credential saved")
	return c, nil
}

func (u *credentialUC) List(ctx context.Context, userID int64) ([]*model.InsuranceCredential, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	list, err := u.repo.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	// passwords never leave this layer
	for _, c := range list {
		c.Password = ""
	}
	return list, nil
}

func (u *credentialUC) Delete(ctx context.Context, userID, id int64) error {
	if userID <= 0 || id <= 0 {
		return domain.ErrInvalidArgument
	}
	if err := u.repo.Delete(ctx, repository.NoTX, userID, id); err != nil {
		return err
	}
	u.log.Info().Int64("user_id", userID).Int64("credential_id", id).Msg("insurance credential deleted")
	return nil
}

// siteKeyOf normalizes a site key the way credentials are stored.
func siteKeyOf(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
