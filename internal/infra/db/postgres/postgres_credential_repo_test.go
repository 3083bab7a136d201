//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/infra/security"
)

func TestCredentialRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	enc, err := security.NewEncryptionService("0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	repo := NewCredentialRepo(testPool, enc)
	ctx := context.Background()
	cleanup(t)

	c, _ := model.NewInsuranceCredential(5, "ddma", "desk", "s3cret")
	if err := repo.Save(ctx, nil, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var stored string
	if err := testPool.QueryRow(ctx, `SELECT password_enc FROM insurance_credentials WHERE id=$1`, c.ID).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored == "s3cret" {
		t.Fatal("password stored in plaintext")
	}

	got, err := repo.FindBySiteKey(ctx, nil, 5, "DDMA")
	if err != nil {
		t.Fatalf("FindBySiteKey failed: %v", err)
	}
	if got.Password != "s3cret" || got.Username != "desk" {
		t.Errorf("unexpected credential %+v", got)
	}

	c2, _ := model.NewInsuranceCredential(5, "DDMA", "desk2", "new")
	if err := repo.Save(ctx, nil, c2); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	list, _ := repo.ListByUser(ctx, nil, 5)
	if len(list) != 1 || list[0].Username != "desk2" {
		t.Errorf("expected one upserted credential, got %+v", list)
	}

	if _, err := repo.FindBySiteKey(ctx, nil, 6, "DDMA"); !errors.Is(err, domain.ErrCredentialsNotFound) {
		t.Errorf("expected ErrCredentialsNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, nil, 5, list[0].ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, nil, 5, list[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
