package abha

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arogya/arogya/internal/platform/abdm"
)

// Default consent metadata sent with enrollment completions.
const (
	enrollmentConsentCode    = "abha-enrollment"
	enrollmentConsentVersion = "1.4"

	defaultRefreshTTL = 15 * 24 * time.Hour
)

// ErrNoSession is returned by card/QR proxying when the patient has no
// usable ABDM session.
var ErrNoSession = errors.New("abha: no valid session for patient")

// GatewayClient is the slice of the ABDM gateway client the orchestrator
// drives.
type GatewayClient interface {
	RequestOTP(ctx context.Context, req abdm.OTPRequest) (*abdm.OTPResponse, error)
	EnrollByAadhaar(ctx context.Context, req abdm.EnrollByAadhaarRequest) (*abdm.EnrollmentResponse, error)
	AuthByOTP(ctx context.Context, req abdm.AuthByOTPRequest) (*abdm.EnrollmentResponse, error)
	EnrollByDocument(ctx context.Context, req abdm.EnrollByDocumentRequest) (*abdm.EnrollmentResponse, error)
	LinkBenefit(ctx context.Context, req abdm.BenefitLinkRequest) (*abdm.BenefitLinkResponse, error)
	GetCard(ctx context.Context, patientToken string) ([]byte, error)
	GetQRCode(ctx context.Context, patientToken string) ([]byte, error)
}

// PatientTokens is the slice of the token store the orchestrator uses.
type PatientTokens interface {
	Store(ctx context.Context, patientID uuid.UUID, refreshToken string, ttl time.Duration)
	AccessToken(ctx context.Context, patientID uuid.UUID) string
	Revoke(ctx context.Context, patientID uuid.UUID)
}

// Service sequences multi-step ABHA flows into single operations with a
// uniform Result envelope. Flows hold no server-side state between steps:
// the txnId returned by an OTP request must be passed back by the caller
// into the completing call.
type Service struct {
	gateway  GatewayClient
	identity IdentityRepository
	tokens   PatientTokens
	logger   zerolog.Logger
}

func NewService(gateway GatewayClient, identity IdentityRepository, tokens PatientTokens, logger zerolog.Logger) *Service {
	return &Service{
		gateway:  gateway,
		identity: identity,
		tokens:   tokens,
		logger:   logger.With().Str("component", "abha_service").Logger(),
	}
}

// RequestAadhaarOTP starts Aadhaar-based enrollment by dispatching an OTP
// to the mobile registered against the Aadhaar number.
func (s *Service) RequestAadhaarOTP(ctx context.Context, aadhaarNumber string) Result {
	resp, err := s.gateway.RequestOTP(ctx, abdm.OTPRequest{
		Scope:      []string{"abha-enrol"},
		LoginHint:  "aadhaar",
		LoginValue: aadhaarNumber,
		OTPSystem:  "aadhaar",
	})
	if err != nil {
		return s.failed("request_aadhaar_otp", "Failed to send OTP. Please verify the Aadhaar number and try again.", err)
	}
	return Result{Success: true, Message: resp.Message, TxnID: resp.TxnID}
}

// EnrollByAadhaar completes Aadhaar enrollment with the OTP the patient
// received, links the resulting ABHA identity to the patient, and persists
// the patient's refresh token.
func (s *Service) EnrollByAadhaar(ctx context.Context, patientID uuid.UUID, txnID, otp, mobile string) Result {
	resp, err := s.gateway.EnrollByAadhaar(ctx, abdm.EnrollByAadhaarRequest{
		TxnID:          txnID,
		OTP:            otp,
		Mobile:         mobile,
		ConsentCode:    enrollmentConsentCode,
		ConsentVersion: enrollmentConsentVersion,
	})
	if err != nil {
		return s.failed("enroll_by_aadhaar", "Enrollment failed. The OTP may be incorrect or expired.", err)
	}
	return s.completeEnrollment(ctx, patientID, resp)
}

// RequestMobileOTP starts communication-mobile verification within an
// in-progress enrollment transaction.
func (s *Service) RequestMobileOTP(ctx context.Context, txnID, mobile string) Result {
	resp, err := s.gateway.RequestOTP(ctx, abdm.OTPRequest{
		TxnID:      txnID,
		Scope:      []string{"abha-enrol", "mobile-verify"},
		LoginHint:  "mobile",
		LoginValue: mobile,
		OTPSystem:  "abdm",
	})
	if err != nil {
		return s.failed("request_mobile_otp", "Failed to send OTP to the mobile number.", err)
	}
	return Result{Success: true, Message: resp.Message, TxnID: resp.TxnID}
}

// VerifyMobileOTP completes communication-mobile verification.
func (s *Service) VerifyMobileOTP(ctx context.Context, txnID, otp string) Result {
	resp, err := s.gateway.AuthByOTP(ctx, abdm.AuthByOTPRequest{
		TxnID: txnID,
		OTP:   otp,
		Scope: []string{"abha-enrol", "mobile-verify"},
	})
	if err != nil {
		return s.failed("verify_mobile_otp", "Mobile verification failed. The OTP may be incorrect or expired.", err)
	}
	return Result{Success: true, Message: resp.Message, TxnID: resp.TxnID, Data: resp.Profile}
}

// DrivingLicenceEnrollment carries the document fields for DL-based
// enrollment. Photos are base64-encoded image attachments.
type DrivingLicenceEnrollment struct {
	TxnID          string
	LicenceNumber  string
	FirstName      string
	MiddleName     string
	LastName       string
	DOB            string
	Gender         string
	Address        string
	State          string
	District       string
	PinCode        string
	FrontSidePhoto string
	BackSidePhoto  string
}

// EnrollByDrivingLicence enrolls a patient whose Aadhaar is unavailable
// using their driving licence. The resulting ABHA is created in a
// verification-pending state upstream; the identity link is recorded
// immediately.
func (s *Service) EnrollByDrivingLicence(ctx context.Context, patientID uuid.UUID, enr DrivingLicenceEnrollment) Result {
	resp, err := s.gateway.EnrollByDocument(ctx, abdm.EnrollByDocumentRequest{
		TxnID:          enr.TxnID,
		DocumentType:   "DRIVING_LICENCE",
		DocumentNumber: enr.LicenceNumber,
		FirstName:      enr.FirstName,
		MiddleName:     enr.MiddleName,
		LastName:       enr.LastName,
		DOB:            enr.DOB,
		Gender:         enr.Gender,
		Address:        enr.Address,
		State:          enr.State,
		District:       enr.District,
		PinCode:        enr.PinCode,
		FrontSidePhoto: enr.FrontSidePhoto,
		BackSidePhoto:  enr.BackSidePhoto,
		ConsentCode:    enrollmentConsentCode,
		ConsentVersion: enrollmentConsentVersion,
	})
	if err != nil {
		return s.failed("enroll_by_dl", "Document enrollment failed. Please verify the submitted details.", err)
	}
	return s.completeEnrollment(ctx, patientID, resp)
}

// RequestLoginOTP starts ABHA account recovery/login against an existing
// ABHA number.
func (s *Service) RequestLoginOTP(ctx context.Context, abhaNumber string) Result {
	resp, err := s.gateway.RequestOTP(ctx, abdm.OTPRequest{
		Scope:      []string{"abha-login"},
		LoginHint:  "abha-number",
		LoginValue: abhaNumber,
		OTPSystem:  "abdm",
	})
	if err != nil {
		return s.failed("request_login_otp", "Failed to send OTP. Please verify the ABHA number and try again.", err)
	}
	return Result{Success: true, Message: resp.Message, TxnID: resp.TxnID}
}

// VerifyLoginOTP completes recovery/login, relinking the ABHA identity and
// re-establishing the patient's session.
func (s *Service) VerifyLoginOTP(ctx context.Context, patientID uuid.UUID, txnID, otp string) Result {
	resp, err := s.gateway.AuthByOTP(ctx, abdm.AuthByOTPRequest{
		TxnID: txnID,
		OTP:   otp,
		Scope: []string{"abha-login"},
	})
	if err != nil {
		return s.failed("verify_login_otp", "Login failed. The OTP may be incorrect or expired.", err)
	}
	return s.completeEnrollment(ctx, patientID, resp)
}

// LinkBenefit links the patient's ABHA number to a benefit program.
func (s *Service) LinkBenefit(ctx context.Context, patientID uuid.UUID, benefitName, programID string) Result {
	link, err := s.identity.GetByPatient(ctx, patientID)
	if err != nil {
		return s.failed("link_benefit", "Unable to look up the patient's ABHA details.", err)
	}
	if link == nil || link.Status != StatusLinked || link.AbhaNumber == nil {
		return failure("Patient has no linked ABHA number.")
	}
	resp, err := s.gateway.LinkBenefit(ctx, abdm.BenefitLinkRequest{
		AbhaNumber:  *link.AbhaNumber,
		BenefitName: benefitName,
		ProgramID:   programID,
	})
	if err != nil {
		return s.failed("link_benefit", "Benefit linking failed.", err)
	}
	return Result{Success: true, Message: resp.Message}
}

// Details returns the patient's identity link, or a failure Result when
// the patient has never linked an ABHA.
func (s *Service) Details(ctx context.Context, patientID uuid.UUID) Result {
	link, err := s.identity.GetByPatient(ctx, patientID)
	if err != nil {
		return s.failed("details", "Unable to look up the patient's ABHA details.", err)
	}
	if link == nil {
		return failure("Patient has no linked ABHA number.")
	}
	return Result{Success: true, Message: "ok", Data: link}
}

// Delink clears the patient's identity link and revokes their stored
// tokens. Idempotent.
func (s *Service) Delink(ctx context.Context, patientID uuid.UUID) Result {
	if err := s.identity.Clear(ctx, patientID); err != nil {
		return s.failed("delink", "Failed to delink the ABHA account.", err)
	}
	s.tokens.Revoke(ctx, patientID)
	return Result{Success: true, Message: "ABHA account delinked"}
}

// Card fetches the patient's ABHA card image using their cached session.
func (s *Service) Card(ctx context.Context, patientID uuid.UUID) ([]byte, error) {
	return s.binary(ctx, patientID, s.gateway.GetCard)
}

// QRCode fetches the patient's ABHA QR code image.
func (s *Service) QRCode(ctx context.Context, patientID uuid.UUID) ([]byte, error) {
	return s.binary(ctx, patientID, s.gateway.GetQRCode)
}

func (s *Service) binary(ctx context.Context, patientID uuid.UUID, fetch func(context.Context, string) ([]byte, error)) ([]byte, error) {
	token := s.tokens.AccessToken(ctx, patientID)
	if token == "" {
		return nil, ErrNoSession
	}
	return fetch(ctx, token)
}

// completeEnrollment records the identity link and session material from
// an auth-completing gateway response.
func (s *Service) completeEnrollment(ctx context.Context, patientID uuid.UUID, resp *abdm.EnrollmentResponse) Result {
	if resp.Profile == nil {
		return Result{Success: true, Message: resp.Message, TxnID: resp.TxnID}
	}

	now := time.Now().UTC()
	provider := "abdm"
	link := &IdentityLink{
		PatientID:   patientID,
		AbhaNumber:  &resp.Profile.AbhaNumber,
		AbhaAddress: &resp.Profile.AbhaAddress,
		Status:      StatusLinked,
		Provider:    &provider,
		LinkedAt:    &now,
	}
	if err := s.identity.Upsert(ctx, link); err != nil {
		// The ABHA exists upstream; surface the failure so the caller can
		// retry the link rather than re-enrolling.
		return s.failed("identity_upsert", "Enrollment succeeded upstream but the account link could not be saved.", err)
	}

	if resp.Tokens != nil && resp.Tokens.RefreshToken != "" {
		ttl := time.Duration(resp.Tokens.RefreshExpiresIn) * time.Second
		if ttl <= 0 {
			ttl = defaultRefreshTTL
		}
		s.tokens.Store(ctx, patientID, resp.Tokens.RefreshToken, ttl)
	}

	return Result{Success: true, Message: resp.Message, TxnID: resp.TxnID, Data: resp.Profile}
}

// failed logs the underlying error and maps it to a user-facing failure
// envelope. Upstream status codes are preserved in the log only.
func (s *Service) failed(op, message string, err error) Result {
	evt := s.logger.Warn().Err(err).Str("op", op)
	if ue, ok := abdm.AsUpstreamError(err); ok {
		evt = evt.Int("upstream_status", ue.Status)
	}
	evt.Msg("abha flow failed")
	return failure(message)
}
