package abdm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arogya/arogya/internal/platform/pii"
)

// Config configures a gateway client. BaseURL and CertURL default from the
// Environment when empty; Timeout defaults to 15s.
type Config struct {
	Environment Environment
	BaseURL     string
	CertURL     string
	Timeout     time.Duration
}

// Client encodes each business operation into the header and payload shape
// the ABDM gateway expects, encrypting protocol-mandated fields with the
// gateway's current public key before transmission.
//
// The client performs no retries; retry policy is a caller concern and most
// operations here (OTP dispatch, enrollment) are not idempotent-safe.
type Client struct {
	cfg      Config
	sessions *SessionManager
	httpc    *http.Client
	logger   zerolog.Logger
	now      func() time.Time
	keys     publicKeyCache
}

// NewClient creates a gateway client bound to one environment.
func NewClient(cfg Config, sessions *SessionManager, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cfg.Environment.DefaultBaseURL()
	}
	if cfg.CertURL == "" {
		cfg.CertURL = cfg.BaseURL + "/v3/profile/public/certificate"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:      cfg,
		sessions: sessions,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With().Str("component", "abdm_client").Str("env", string(cfg.Environment)).Logger(),
		now:      time.Now,
	}
}

// RequestOTP dispatches an OTP against the encrypted login identifier.
func (c *Client) RequestOTP(ctx context.Context, req OTPRequest) (*OTPResponse, error) {
	encValue, err := c.encryptField(ctx, req.LoginValue)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"scope":     req.Scope,
		"loginHint": req.LoginHint,
		"loginId":   encValue,
		"otpSystem": req.OTPSystem,
	}
	if req.TxnID != "" {
		payload["txnId"] = req.TxnID
	}

	var out OTPResponse
	if err := c.do(ctx, http.MethodPost, "/v3/enrollment/request/otp", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnrollByAadhaar completes an Aadhaar OTP enrollment. The OTP value is
// encrypted; the transaction ID and consent metadata pass through.
func (c *Client) EnrollByAadhaar(ctx context.Context, req EnrollByAadhaarRequest) (*EnrollmentResponse, error) {
	encOTP, err := c.encryptField(ctx, req.OTP)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"authData": map[string]any{
			"authMethods": []string{"otp"},
			"otp": map[string]any{
				"timeStamp": c.now().UTC().Format("2006-01-02 15:04:05"),
				"txnId":     req.TxnID,
				"otpValue":  encOTP,
				"mobile":    req.Mobile,
			},
		},
		"consent": map[string]string{
			"code":    req.ConsentCode,
			"version": req.ConsentVersion,
		},
	}

	var out EnrollmentResponse
	if err := c.do(ctx, http.MethodPost, "/v3/enrollment/enrol/byAadhaar", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthByOTP completes a generic OTP-based auth step.
func (c *Client) AuthByOTP(ctx context.Context, req AuthByOTPRequest) (*EnrollmentResponse, error) {
	encOTP, err := c.encryptField(ctx, req.OTP)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"scope": req.Scope,
		"authData": map[string]any{
			"authMethods": []string{"otp"},
			"otp": map[string]any{
				"txnId":    req.TxnID,
				"otpValue": encOTP,
			},
		},
	}

	var out EnrollmentResponse
	if err := c.do(ctx, http.MethodPost, "/v3/enrollment/auth/byAbdm", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnrollByDocument enrolls via an identity document. Identifying fields are
// encrypted field-by-field; base64 attachments pass through unencrypted.
func (c *Client) EnrollByDocument(ctx context.Context, req EnrollByDocumentRequest) (*EnrollmentResponse, error) {
	encrypted := map[string]string{}
	for field, value := range map[string]string{
		"documentId": req.DocumentNumber,
		"firstName":  req.FirstName,
		"middleName": req.MiddleName,
		"lastName":   req.LastName,
		"dob":        req.DOB,
		"gender":     req.Gender,
		"address":    req.Address,
	} {
		if value == "" {
			continue
		}
		enc, err := c.encryptField(ctx, value)
		if err != nil {
			return nil, err
		}
		encrypted[field] = enc
	}

	payload := map[string]any{
		"txnId":        req.TxnID,
		"documentType": req.DocumentType,
		"state":        req.State,
		"district":     req.District,
		"pinCode":      req.PinCode,
		// Already-base64 binary attachments are never double-encoded.
		"frontSidePhoto": req.FrontSidePhoto,
		"backSidePhoto":  req.BackSidePhoto,
		"consent": map[string]string{
			"code":    req.ConsentCode,
			"version": req.ConsentVersion,
		},
	}
	for field, value := range encrypted {
		payload[field] = value
	}

	var out EnrollmentResponse
	if err := c.do(ctx, http.MethodPost, "/v3/enrollment/enrol/byDocument", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkBenefit links an ABHA number to a benefit program.
func (c *Client) LinkBenefit(ctx context.Context, req BenefitLinkRequest) (*BenefitLinkResponse, error) {
	encNumber, err := c.encryptField(ctx, req.AbhaNumber)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"abhaNumber":  encNumber,
		"benefitName": req.BenefitName,
		"programId":   req.ProgramID,
	}

	var out BenefitLinkResponse
	if err := c.do(ctx, http.MethodPost, "/v3/benefit/link", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken exchanges a patient's refresh token for a new access token.
// Upstream may rotate the refresh token; callers must persist the returned
// one when it differs from the input.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	payload := map[string]string{"refreshToken": refreshToken}

	var out TokenPair
	if err := c.do(ctx, http.MethodPost, "/v3/profile/login/refresh", payload, nil, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &UpstreamError{Op: "refresh token", Body: "response missing token"}
	}
	return &out, nil
}

// GetCard fetches the rendered ABHA card for the patient identified by
// their access token.
func (c *Client) GetCard(ctx context.Context, patientToken string) ([]byte, error) {
	return c.fetchBinary(ctx, "/v3/profile/account/abha-card", patientToken, "get abha card")
}

// GetQRCode fetches the ABHA QR code payload for the patient.
func (c *Client) GetQRCode(ctx context.Context, patientToken string) ([]byte, error) {
	return c.fetchBinary(ctx, "/v3/profile/account/qrCode", patientToken, "get abha qr")
}

func (c *Client) fetchBinary(ctx context.Context, path, patientToken, op string) ([]byte, error) {
	header := http.Header{}
	header.Set("X-Token", "Bearer "+patientToken)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil, header)
	if err != nil {
		return nil, &UpstreamError{Op: op, Body: err.Error()}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// encryptField resolves the environment's current public key and encrypts a
// single outbound value.
func (c *Client) encryptField(ctx context.Context, value string) (string, error) {
	key, err := c.publicKey(ctx)
	if err != nil {
		return "", err
	}
	enc, err := pii.EncryptField(key, value)
	if err != nil {
		return "", fmt.Errorf("abdm: encrypt field: %w", err)
	}
	return enc, nil
}

// newRequest builds a request with the mandatory gateway headers: a fresh
// correlation ID, an ISO-8601 timestamp, the environment discriminator, and
// the service-level bearer token.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, extra http.Header) (*http.Request, error) {
	token, err := c.sessions.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set(HeaderTimestamp, c.now().UTC().Format(time.RFC3339))
	req.Header.Set(HeaderEnvironment, string(c.cfg.Environment))
	req.Header.Set("Authorization", "Bearer "+token)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// do executes one JSON request/response cycle. Non-2xx responses, transport
// failures, and timeouts all surface as *UpstreamError.
func (c *Client) do(ctx context.Context, method, path string, payload any, extra http.Header, out any) error {
	op := method + " " + path

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("abdm: marshal %s payload: %w", path, err)
	}

	req, err := c.newRequest(ctx, method, path, body, extra)
	if err != nil {
		if _, ok := err.(*AuthError); ok {
			return err
		}
		return &UpstreamError{Op: op, Body: err.Error()}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).Msg("gateway call failed")
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &UpstreamError{Op: op, Status: resp.StatusCode, Body: "malformed response: " + err.Error()}
		}
	}
	return nil
}
