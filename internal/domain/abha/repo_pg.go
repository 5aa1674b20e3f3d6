package abha

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type identityRepoPG struct {
	pool *pgxpool.Pool
}

// NewIdentityRepoPG creates a Postgres-backed identity link repository.
func NewIdentityRepoPG(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepoPG{pool: pool}
}

const linkCols = `id, patient_id, abha_number, abha_address, status, provider, linked_at, created_at, updated_at`

func (r *identityRepoPG) Upsert(ctx context.Context, link *IdentityLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO abha_identity_link (id, patient_id, abha_number, abha_address, status, provider, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (patient_id) DO UPDATE SET
			abha_number  = EXCLUDED.abha_number,
			abha_address = EXCLUDED.abha_address,
			status       = EXCLUDED.status,
			provider     = EXCLUDED.provider,
			linked_at    = now(),
			updated_at   = now()`,
		link.ID, link.PatientID, link.AbhaNumber, link.AbhaAddress, link.Status, link.Provider,
	)
	if err != nil {
		return fmt.Errorf("identity link upsert: %w", err)
	}
	return nil
}

func (r *identityRepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*IdentityLink, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+linkCols+` FROM abha_identity_link WHERE patient_id = $1`, patientID)

	var link IdentityLink
	err := row.Scan(
		&link.ID, &link.PatientID, &link.AbhaNumber, &link.AbhaAddress,
		&link.Status, &link.Provider, &link.LinkedAt, &link.CreatedAt, &link.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity link get: %w", err)
	}
	return &link, nil
}

func (r *identityRepoPG) Clear(ctx context.Context, patientID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE abha_identity_link
		SET abha_number = NULL, abha_address = NULL, status = $2, updated_at = now()
		WHERE patient_id = $1`,
		patientID, StatusDelinked,
	)
	if err != nil {
		return fmt.Errorf("identity link clear: %w", err)
	}
	return nil
}
