package repository

import (
	"context"

	"dental-backoffice/internal/domain/model"
)

type DocumentRepository interface {
	// FindGroup returns domain.ErrNotFound when the patient has no group with that key.
	FindGroup(ctx context.Context, tx Tx, patientID int64, titleKey string) (*model.DocumentGroup, error)
	CreateGroup(ctx context.Context, tx Tx, g *model.DocumentGroup) error
	AddDocument(ctx context.Context, tx Tx, d *model.Document) error
}
