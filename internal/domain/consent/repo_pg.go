package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG creates a Postgres-backed consent token repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const recordCols = `id, consent_id, patient_id, patient_abha, organization_id, purpose_of_use,
	allowed_resources, token, issued_at, valid_from, expires_at,
	revoked, revoked_at, revoked_reason`

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO consent_token (
			id, consent_id, patient_id, patient_abha, organization_id, purpose_of_use,
			allowed_resources, token, issued_at, valid_from, expires_at, revoked
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false)`,
		rec.ID, rec.ConsentID, rec.PatientID, rec.PatientAbha, rec.OrganizationID, rec.PurposeOfUse,
		rec.AllowedResources, rec.Token, rec.IssuedAt, rec.ValidFrom, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("consent create: %w", err)
	}
	return nil
}

func (r *repoPG) Find(ctx context.Context, consentID, token string) (*Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM consent_token WHERE consent_id = $1 AND token = $2`,
		consentID, token,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consent find: %w", err)
	}
	return rec, nil
}

func (r *repoPG) Revoke(ctx context.Context, consentID, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consent_token
		SET revoked = true, revoked_at = now(), revoked_reason = NULLIF($2, '')
		WHERE consent_id = $1 AND revoked = false`,
		consentID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("consent revoke: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) RevokeAllForOrganization(ctx context.Context, patientID uuid.UUID, organizationID, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consent_token
		SET revoked = true, revoked_at = now(), revoked_reason = NULLIF($3, '')
		WHERE patient_id = $1 AND organization_id = $2 AND revoked = false`,
		patientID, organizationID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("consent revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM consent_token WHERE patient_id = $1`, patientID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("consent count: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordCols+` FROM consent_token
		 WHERE patient_id = $1 ORDER BY issued_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("consent list: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("consent list scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.ConsentID, &rec.PatientID, &rec.PatientAbha, &rec.OrganizationID, &rec.PurposeOfUse,
		&rec.AllowedResources, &rec.Token, &rec.IssuedAt, &rec.ValidFrom, &rec.ExpiresAt,
		&rec.Revoked, &rec.RevokedAt, &rec.RevokedReason,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
