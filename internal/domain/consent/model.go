package consent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PurposeOfUse is the declared reason an organization requests access to a
// patient's clinical resources. The set is closed.
type PurposeOfUse string

const (
	PurposeTreatment PurposeOfUse = "TREATMENT"
	PurposeEmergency PurposeOfUse = "EMERGENCY"
	PurposeInsurance PurposeOfUse = "INSURANCE"
	PurposeResearch  PurposeOfUse = "RESEARCH"
)

// Valid reports whether p belongs to the closed purpose set.
func (p PurposeOfUse) Valid() bool {
	switch p {
	case PurposeTreatment, PurposeEmergency, PurposeInsurance, PurposeResearch:
		return true
	}
	return false
}

var (
	// ErrInvalidPurpose is returned when a purpose outside the closed set
	// is supplied at issuance. No durable row is written in that case.
	ErrInvalidPurpose = errors.New("consent: purpose must be one of TREATMENT, EMERGENCY, INSURANCE, RESEARCH")

	// ErrInvalidWindow is returned when validUntil is not strictly after
	// the issuance time.
	ErrInvalidWindow = errors.New("consent: validUntil must be strictly in the future")
)

// ScopeError is returned when a consent token does not cover the requested
// resource type. It names both sides so the requesting organization can fix
// its request without guessing.
type ScopeError struct {
	Requested string
	Allowed   []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("consent: resource type %q not covered; allowed: %s",
		e.Requested, strings.Join(e.Allowed, ", "))
}

// Record maps to the consent_token table. A record is immutable after
// creation except for the monotonic revoked flip.
type Record struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	ConsentID        string     `db:"consent_id" json:"consent_id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientAbha      string     `db:"patient_abha" json:"patient_abha,omitempty"`
	OrganizationID   string     `db:"organization_id" json:"organization_id"`
	PurposeOfUse     PurposeOfUse `db:"purpose_of_use" json:"purpose_of_use"`
	AllowedResources []string   `db:"allowed_resources" json:"allowed_resources"`
	Token            string     `db:"token" json:"-"`
	IssuedAt         time.Time  `db:"issued_at" json:"issued_at"`
	ValidFrom        time.Time  `db:"valid_from" json:"valid_from"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	Revoked          bool       `db:"revoked" json:"revoked"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason    *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
}

// Claims is the signed consent token payload. Audience carries the
// organization identifier; issuer is the fixed service name.
type Claims struct {
	ConsentID        string    `json:"consentId"`
	PatientAbha      string    `json:"patientAbha,omitempty"`
	PatientID        string    `json:"patientId"`
	OrganizationID   string    `json:"organizationId"`
	PurposeOfUse     string    `json:"purposeOfUse"`
	AllowedResources []string  `json:"allowedResources"`
	ValidFrom        time.Time `json:"validFrom"`
	ValidUntil       time.Time `json:"validUntil"`
	jwt.RegisteredClaims
}

// AllowsResource reports whether the token's scope covers the resource type.
func (c *Claims) AllowsResource(resourceType string) bool {
	for _, r := range c.AllowedResources {
		if r == resourceType || r == "*" {
			return true
		}
	}
	return false
}

// Validation is the outcome of token validation. Exactly one of the failure
// categories (Expired, Revoked, generic Reason) applies when Valid is false.
type Validation struct {
	Valid   bool    `json:"valid"`
	Claims  *Claims `json:"payload,omitempty"`
	Expired bool    `json:"expired,omitempty"`
	Revoked bool    `json:"revoked,omitempty"`
	Reason  string  `json:"error,omitempty"`
}
