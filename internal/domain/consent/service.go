package consent

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Issuer is the fixed iss claim on every consent token.
const Issuer = "arogya-consent-service"

// IssueParams carries everything needed to grant an organization access to
// a set of the patient's clinical resource types.
type IssueParams struct {
	ConsentID        string
	PatientID        uuid.UUID
	PatientAbha      string
	OrganizationID   string
	Purpose          PurposeOfUse
	AllowedResources []string
	ValidFrom        time.Time // zero means issuance time
	ValidUntil       time.Time
}

// Service issues, validates, and revokes signed, time-boxed, purpose-scoped
// consent tokens. Tokens are RS256-signed; a durable row accompanies every
// issued token so revocation and introspection never require re-parsing.
type Service struct {
	repo      Repository
	signKey   *rsa.PrivateKey
	verifyKey *rsa.PublicKey
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a consent service around the signing keypair.
func NewService(repo Repository, signKey *rsa.PrivateKey, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		signKey:   signKey,
		verifyKey: &signKey.PublicKey,
		logger:    logger.With().Str("component", "consent").Logger(),
		now:       time.Now,
	}
}

// Issue validates the grant, signs the token, and records the durable row.
// The token's own expiry claim equals ValidUntil. Purpose and window guards
// run before anything is written.
func (s *Service) Issue(ctx context.Context, p IssueParams) (string, *Record, error) {
	if !p.Purpose.Valid() {
		return "", nil, ErrInvalidPurpose
	}

	now := s.now()
	if !p.ValidUntil.After(now) {
		return "", nil, ErrInvalidWindow
	}
	if p.ValidFrom.IsZero() {
		p.ValidFrom = now
	}
	if p.ConsentID == "" {
		p.ConsentID = uuid.NewString()
	}

	claims := Claims{
		ConsentID:        p.ConsentID,
		PatientAbha:      p.PatientAbha,
		PatientID:        p.PatientID.String(),
		OrganizationID:   p.OrganizationID,
		PurposeOfUse:     string(p.Purpose),
		AllowedResources: p.AllowedResources,
		ValidFrom:        p.ValidFrom,
		ValidUntil:       p.ValidUntil,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{p.OrganizationID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(p.ValidUntil),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("consent issue: sign: %w", err)
	}

	rec := &Record{
		ConsentID:        p.ConsentID,
		PatientID:        p.PatientID,
		PatientAbha:      p.PatientAbha,
		OrganizationID:   p.OrganizationID,
		PurposeOfUse:     p.Purpose,
		AllowedResources: p.AllowedResources,
		Token:            token,
		IssuedAt:         now,
		ValidFrom:        p.ValidFrom,
		ExpiresAt:        p.ValidUntil,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("consent issue: %w", err)
	}

	s.logger.Info().
		Str("consent_id", p.ConsentID).
		Str("organization_id", p.OrganizationID).
		Str("purpose", string(p.Purpose)).
		Time("expires_at", p.ValidUntil).
		Msg("consent issued")

	return token, rec, nil
}

// Validate verifies the signature and issuer, checks the durable revocation
// flag, and re-checks wall-clock validity against the payload's own
// validUntil independent of the cryptographic expiry claim.
func (s *Service) Validate(ctx context.Context, token string) Validation {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.verifyKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Validation{Expired: true, Reason: "consent token expired"}
		}
		return Validation{Reason: "invalid consent token: " + err.Error()}
	}
	if !parsed.Valid {
		return Validation{Reason: "invalid consent token"}
	}

	// Belt and braces: the payload's own window is checked against the
	// wall clock even though the exp claim already passed.
	if !s.now().Before(claims.ValidUntil) {
		return Validation{Expired: true, Reason: "consent window elapsed"}
	}

	rec, err := s.repo.Find(ctx, claims.ConsentID, token)
	if err != nil {
		s.logger.Error().Err(err).Str("consent_id", claims.ConsentID).Msg("revocation lookup failed")
		return Validation{Reason: "consent store unavailable"}
	}
	if rec == nil {
		return Validation{Reason: "consent token not on record"}
	}
	if rec.Revoked {
		return Validation{Revoked: true, Reason: "consent has been revoked"}
	}

	return Validation{Valid: true, Claims: claims}
}

// ValidateForResource layers a scope check over Validate: the requested
// resource type must be in the token's allowed list.
func (s *Service) ValidateForResource(ctx context.Context, token, resourceType string) Validation {
	v := s.Validate(ctx, token)
	if !v.Valid {
		return v
	}
	if !v.Claims.AllowsResource(resourceType) {
		scopeErr := &ScopeError{Requested: resourceType, Allowed: v.Claims.AllowedResources}
		return Validation{Claims: v.Claims, Reason: scopeErr.Error()}
	}
	return v
}

// Revoke flips the durable revoked flag. Idempotent: revoking an absent or
// already-revoked consent simply matches zero rows.
func (s *Service) Revoke(ctx context.Context, consentID, reason string) error {
	n, err := s.repo.Revoke(ctx, consentID, reason)
	if err != nil {
		return fmt.Errorf("consent revoke: %w", err)
	}
	s.logger.Info().Str("consent_id", consentID).Int64("rows", n).Msg("consent revoked")
	return nil
}

// RevokeAllForOrganization revokes every active grant the patient has made
// to the organization and returns how many were affected.
func (s *Service) RevokeAllForOrganization(ctx context.Context, patientID uuid.UUID, organizationID, reason string) (int64, error) {
	n, err := s.repo.RevokeAllForOrganization(ctx, patientID, organizationID, reason)
	if err != nil {
		return 0, fmt.Errorf("consent revoke all: %w", err)
	}
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("organization_id", organizationID).
		Int64("revoked", n).
		Msg("organization access revoked")
	return n, nil
}

// ListByPatient returns the patient's consent history.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
