package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/repository"
)

var _ repository.DocumentRepository = (*documentRepo)(nil)

type documentRepo struct{ pool *pgxpool.Pool }

func NewDocumentRepo(pool *pgxpool.Pool) *documentRepo {
	return &documentRepo{pool: pool}
}

func (r *documentRepo) FindGroup(ctx context.Context, tx repository.Tx, patientID int64, titleKey string) (*model.DocumentGroup, error) {
	q := `SELECT id, patient_id, title, title_key, created_at FROM pdf_groups WHERE patient_id=$1 AND title_key=$2`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, patientID, titleKey)
	if err != nil {
		return nil, err
	}
	g := &model.DocumentGroup{}
	if err := row.Scan(&g.ID, &g.PatientID, &g.Title, &g.TitleKey, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return g, nil
}

// CreateGroup is race-safe: a concurrent insert of the same (patient, key)
// resolves to the existing row.
func (r *documentRepo) CreateGroup(ctx context.Context, tx repository.Tx, g *model.DocumentGroup) error {
	const q = `
INSERT INTO pdf_groups (patient_id, title, title_key)
VALUES ($1,$2,$3)
ON CONFLICT (patient_id, title_key) DO UPDATE SET title=pdf_groups.title
RETURNING id, title, created_at;`
	row, err := pickRow(ctx, r.pool, tx, q, g.PatientID, g.Title, g.TitleKey)
	if err != nil {
		return err
	}
	if err := row.Scan(&g.ID, &g.Title, &g.CreatedAt); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *documentRepo) AddDocument(ctx context.Context, tx repository.Tx, d *model.Document) error {
	const q = `
INSERT INTO pdf_files (group_id, filename, content)
VALUES ($1,$2,$3)
RETURNING id, uploaded_at;`
	row, err := pickRow(ctx, r.pool, tx, q, d.GroupID, d.Filename, d.Content)
	if err != nil {
		return err
	}
	if err := row.Scan(&d.ID, &d.UploadedAt); err != nil {
		return mapPgError(err)
	}
	return nil
}
