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
	"dental-backoffice/internal/infra/security"
)

var _ repository.CredentialRepository = (*credentialRepo)(nil)

// credentialRepo stores passwords sealed with the row owner as associated data.
type credentialRepo struct {
	pool   *pgxpool.Pool
	cipher security.Cipher
}

func NewCredentialRepo(pool *pgxpool.Pool, cipher security.Cipher) *credentialRepo {
	return &credentialRepo{pool: pool, cipher: cipher}
}

// Save upserts on (user_id, site_key).
func (r *credentialRepo) Save(ctx context.Context, tx repository.Tx, c *model.InsuranceCredential) error {
	sealed, err := r.cipher.Encrypt(c.Password, security.CredentialAAD(c.UserID, c.SiteKey))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO insurance_credentials (user_id, site_key, username, password_enc)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, site_key) DO UPDATE SET username=EXCLUDED.username, password_enc=EXCLUDED.password_enc
RETURNING id, created_at;`
	row, err := pickRow(ctx, r.pool, tx, q, c.UserID, strings.ToUpper(c.SiteKey), c.Username, sealed)
	if err != nil {
		return err
	}
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *credentialRepo) scan(row pgx.Row) (*model.InsuranceCredential, error) {
	c := &model.InsuranceCredential{}
	var sealed string
	if err := row.Scan(&c.ID, &c.UserID, &c.SiteKey, &c.Username, &sealed, &c.CreatedAt); err != nil {
		return nil, err
	}
	pw, err := r.cipher.Decrypt(sealed, security.CredentialAAD(c.UserID, c.SiteKey))
	if err != nil {
		return nil, fmt.Errorf("credential %d: %w", c.ID, err)
	}
	c.Password = pw
	return c, nil
}

func (r *credentialRepo) FindBySiteKey(ctx context.Context, tx repository.Tx, userID int64, siteKey string) (*model.InsuranceCredential, error) {
	const q = `SELECT id, user_id, site_key, username, password_enc, created_at FROM insurance_credentials WHERE user_id=$1 AND site_key=$2`
	row, err := pickRow(ctx, r.pool, tx, q, userID, strings.ToUpper(strings.TrimSpace(siteKey)))
	if err != nil {
		return nil, err
	}
	c, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialsNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.InsuranceCredential, error) {
	const q = `SELECT id, user_id, site_key, username, password_enc, created_at FROM insurance_credentials WHERE user_id=$1 ORDER BY site_key`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.InsuranceCredential
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *credentialRepo) Delete(ctx context.Context, tx repository.Tx, userID, id int64) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM insurance_credentials WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
