package consent

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the durable store behind issued consent tokens. It must
// support upsert-by-key, conditional flag flips, and count-on-update; the
// engine behind it is an external collaborator.
type Repository interface {
	Create(ctx context.Context, r *Record) error

	// Find looks a record up by the (consentID, token) pair used for
	// revocation introspection. Returns nil when no such record exists.
	Find(ctx context.Context, consentID, token string) (*Record, error)

	// Revoke flips the revoked flag where it is not already set. Returns
	// the number of rows affected; revoking an absent or already-revoked
	// consent matches zero rows and is not an error.
	Revoke(ctx context.Context, consentID, reason string) (int64, error)

	// RevokeAllForOrganization bulk-flips every non-revoked record for the
	// (patient, organization) pair and returns the affected count.
	RevokeAllForOrganization(ctx context.Context, patientID uuid.UUID, organizationID, reason string) (int64, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
}
