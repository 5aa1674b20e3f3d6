package abha

import (
	"time"

	"github.com/google/uuid"
)

// Identity link status values. A delinked row is cleared, not deleted, so
// the history of a previous link survives re-enrollment.
const (
	StatusLinked   = "linked"
	StatusDelinked = "delinked"
)

// IdentityLink maps to the abha_identity_link table: the association
// between an internal patient and their national health ID. One row per
// patient; re-linking replaces the external identifier idempotently.
type IdentityLink struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	AbhaNumber  *string    `db:"abha_number" json:"abha_number,omitempty"`
	AbhaAddress *string    `db:"abha_address" json:"abha_address,omitempty"`
	Status      string     `db:"status" json:"status"`
	Provider    *string    `db:"provider" json:"provider,omitempty"`
	LinkedAt    *time.Time `db:"linked_at" json:"linked_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Result is the uniform envelope every orchestrated flow returns. Flows
// never propagate gateway or network errors as Go errors; failures are
// mapped into Success=false with a short human-readable message.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TxnID   string `json:"txn_id,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func failure(message string) Result {
	return Result{Success: false, Message: message}
}
