package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/repository"
)

var _ repository.PatientRepository = (*patientRepo)(nil)

type patientRepo struct{ pool *pgxpool.Pool }

func NewPatientRepo(pool *pgxpool.Pool) *patientRepo {
	return &patientRepo{pool: pool}
}

const patientColumns = `id, user_id, first_name, last_name, date_of_birth, gender, phone, insurance_id, insurance_provider, status, created_at`

func scanPatient(row pgx.Row) (*model.Patient, error) {
	p := &model.Patient{}
	var insuranceID *string
	if err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender, &p.Phone, &insuranceID, &p.InsuranceProvider, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	if insuranceID != nil {
		p.InsuranceID = *insuranceID
	}
	return p, nil
}

// FindByInsuranceID is scoped to the owning user; another practice's patient
// with the same member id is never returned.
func (r *patientRepo) FindByInsuranceID(ctx context.Context, tx repository.Tx, userID int64, insuranceID string) (*model.Patient, error) {
	q := `SELECT ` + patientColumns + ` FROM patients WHERE user_id=$1 AND insurance_id=$2 ORDER BY id LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, userID, insuranceID)
	if err != nil {
		return nil, err
	}
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return p, nil
}

func (r *patientRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.Patient, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+patientColumns+` FROM patients WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create validates before inserting so a bad date of birth surfaces as
// domain.ErrInvalidPatient, whichever side rejects it.
func (r *patientRepo) Create(ctx context.Context, tx repository.Tx, p *model.Patient) error {
	if p.Status == "" {
		p.Status = model.PatientStatusUnknown
	}
	if err := p.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO patients (user_id, first_name, last_name, date_of_birth, gender, phone, insurance_id, insurance_provider, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id, created_at;`
	var insuranceID *string
	if p.InsuranceID != "" {
		insuranceID = &p.InsuranceID
	}
	row, err := pickRow(ctx, r.pool, tx, q, p.UserID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Phone, insuranceID, p.InsuranceProvider, p.Status)
	if err != nil {
		return err
	}
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		err = mapPgError(err)
		if errors.Is(err, domain.ErrInvalidArgument) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPatient, err)
		}
		return err
	}
	return nil
}

func (r *patientRepo) Update(ctx context.Context, tx repository.Tx, id int64, upd model.PatientUpdate) error {
	if upd.Empty() {
		return nil
	}
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.FirstName != nil {
		add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		add("last_name", *upd.LastName)
	}
	if upd.InsuranceID != nil {
		add("insurance_id", *upd.InsuranceID)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE patients SET %s WHERE id=$%d", strings.Join(sets, ", "), len(args))

	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
