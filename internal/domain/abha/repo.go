package abha

import (
	"context"

	"github.com/google/uuid"
)

// IdentityRepository persists the patient's national-health-ID link.
type IdentityRepository interface {
	// Upsert creates the patient's link row or replaces its external
	// identifier. Idempotent: repeated links never duplicate rows.
	Upsert(ctx context.Context, link *IdentityLink) error

	// GetByPatient returns the patient's link, or nil when none exists.
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*IdentityLink, error)

	// Clear marks the link delinked and blanks the external identifier.
	// The row itself survives.
	Clear(ctx context.Context, patientID uuid.UUID) error
}
