package repository

import (
	"context"

	"dental-backoffice/internal/domain/model"
)

type CredentialRepository interface {
	Save(ctx context.Context, tx Tx, c *model.InsuranceCredential) error
	FindBySiteKey(ctx context.Context, tx Tx, userID int64, siteKey string) (*model.InsuranceCredential, error)
	ListByUser(ctx context.Context, tx Tx, userID int64) ([]*model.InsuranceCredential, error)
	Delete(ctx context.Context, tx Tx, userID, id int64) error
}
