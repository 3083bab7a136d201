package repository

import (
	"context"

	"dental-backoffice/internal/domain/model"
)

type PatientRepository interface {
	FindByInsuranceID(ctx context.Context, tx Tx, userID int64, insuranceID string) (*model.Patient, error)
	ListByUser(ctx context.Context, tx Tx, userID int64) ([]*model.Patient, error)
	Create(ctx context.Context, tx Tx, p *model.Patient) error
	Update(ctx context.Context, tx Tx, id int64, upd model.PatientUpdate) error
}
