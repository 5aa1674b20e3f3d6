package abdm

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeGateway serves the session, certificate, and operation endpoints a
// Client touches, recording what it receives.
type fakeGateway struct {
	t          *testing.T
	priv       *rsa.PrivateKey
	certFetch  int32
	lastOp     map[string]any
	lastHeader http.Header
	srv        *httptest.Server
}

func newFakeGateway(t *testing.T, opStatus int, opResponse any) *fakeGateway {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, _ := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	g := &fakeGateway{t: t, priv: priv}
	mux := http.NewServeMux()

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "svc-token", "expiresIn": 600})
	})

	mux.HandleFunc("/cert", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.certFetch, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Errorf("cert fetch: expected service bearer, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"publicKey": pemKey})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		g.lastHeader = r.Header.Clone()
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		g.lastOp = body

		if opStatus != http.StatusOK {
			w.WriteHeader(opStatus)
			w.Write([]byte(`{"message":"upstream rejected"}`))
			return
		}
		json.NewEncoder(w).Encode(opResponse)
	})

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) client() *Client {
	sessions := NewSessionManager(SessionConfig{
		SessionURL:   g.srv.URL + "/sessions",
		ClientID:     "c",
		ClientSecret: "s",
		Environment:  Sandbox,
	}, zerolog.Nop())

	return NewClient(Config{
		Environment: Sandbox,
		BaseURL:     g.srv.URL,
		CertURL:     g.srv.URL + "/cert",
	}, sessions, zerolog.Nop())
}

// decryptField decrypts a base64 RSA-OAEP(SHA-1) value with the fake
// gateway's private key.
func (g *fakeGateway) decryptField(enc string) string {
	g.t.Helper()
	ct, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		g.t.Fatalf("field is not base64: %v", err)
	}
	plain, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, g.priv, ct, nil)
	if err != nil {
		g.t.Fatalf("field does not decrypt with gateway key: %v", err)
	}
	return string(plain)
}

func TestClient_RequestOTP(t *testing.T) {
	g := newFakeGateway(t, http.StatusOK, OTPResponse{TxnID: "T1", Message: "otp sent"})
	c := g.client()

	out, err := c.RequestOTP(context.Background(), OTPRequest{
		Scope:      []string{"abha-enrol"},
		LoginHint:  "aadhaar",
		LoginValue: "123412341234",
		OTPSystem:  "aadhaar",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TxnID != "T1" {
		t.Errorf("expected txnId T1, got %q", out.TxnID)
	}

	// The identifying number must be encrypted on the wire.
	loginID, _ := g.lastOp["loginId"].(string)
	if loginID == "123412341234" {
		t.Fatal("loginId was sent in the clear")
	}
	if got := g.decryptField(loginID); got != "123412341234" {
		t.Errorf("encrypted loginId round trip: got %q", got)
	}

	// Mandatory headers.
	for _, h := range []string{HeaderRequestID, HeaderTimestamp, HeaderEnvironment, "Authorization"} {
		if g.lastHeader.Get(h) == "" {
			t.Errorf("missing mandatory header %s", h)
		}
	}
	if env := g.lastHeader.Get(HeaderEnvironment); env != string(Sandbox) {
		t.Errorf("expected sandbox environment header, got %q", env)
	}
}

func TestClient_EnrollByAadhaar(t *testing.T) {
	g := newFakeGateway(t, http.StatusOK, EnrollmentResponse{
		Message: "enrolled",
		TxnID:   "T1",
		Tokens:  &TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 1800},
		Profile: &Profile{AbhaNumber: "12-3456-7890-1234", AbhaAddress: "john@abdm"},
	})
	c := g.client()

	out, err := c.EnrollByAadhaar(context.Background(), EnrollByAadhaarRequest{
		TxnID:          "T1",
		OTP:            "123456",
		Mobile:         "9876543210",
		ConsentCode:    "abha-enrollment",
		ConsentVersion: "1.4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Profile == nil || out.Profile.AbhaNumber != "12-3456-7890-1234" {
		t.Fatalf("expected profile with ABHA number, got %+v", out.Profile)
	}

	authData := g.lastOp["authData"].(map[string]any)
	otp := authData["otp"].(map[string]any)

	if otp["txnId"] != "T1" {
		t.Errorf("txnId must pass through unencrypted, got %v", otp["txnId"])
	}
	if got := g.decryptField(otp["otpValue"].(string)); got != "123456" {
		t.Errorf("otpValue round trip: got %q", got)
	}

	consent := g.lastOp["consent"].(map[string]any)
	if consent["code"] != "abha-enrollment" || consent["version"] != "1.4" {
		t.Errorf("consent metadata must pass through unencrypted, got %v", consent)
	}
}

func TestClient_EnrollByDocument_FieldSelection(t *testing.T) {
	g := newFakeGateway(t, http.StatusOK, EnrollmentResponse{Message: "ok"})
	c := g.client()

	_, err := c.EnrollByDocument(context.Background(), EnrollByDocumentRequest{
		TxnID:          "T9",
		DocumentType:   "DRIVING_LICENCE",
		DocumentNumber: "DL-0420110012345",
		FirstName:      "Jane",
		LastName:       "Doe",
		DOB:            "01-01-1990",
		Gender:         "F",
		Address:        "12 MG Road",
		FrontSidePhoto: "aGVsbG8=",
		ConsentCode:    "abha-enrollment",
		ConsentVersion: "1.4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Identifying fields encrypted.
	for field, want := range map[string]string{
		"documentId": "DL-0420110012345",
		"firstName":  "Jane",
		"dob":        "01-01-1990",
		"address":    "12 MG Road",
	} {
		raw, _ := g.lastOp[field].(string)
		if raw == want {
			t.Errorf("%s was sent in the clear", field)
			continue
		}
		if got := g.decryptField(raw); got != want {
			t.Errorf("%s round trip: got %q, want %q", field, got, want)
		}
	}

	// Binary attachment and txnId pass through untouched.
	if g.lastOp["frontSidePhoto"] != "aGVsbG8=" {
		t.Errorf("frontSidePhoto must pass through, got %v", g.lastOp["frontSidePhoto"])
	}
	if g.lastOp["txnId"] != "T9" {
		t.Errorf("txnId must pass through, got %v", g.lastOp["txnId"])
	}
}

func TestClient_UpstreamErrorPropagation(t *testing.T) {
	g := newFakeGateway(t, http.StatusBadRequest, nil)
	c := g.client()

	_, err := c.RequestOTP(context.Background(), OTPRequest{LoginValue: "x"})
	ue, ok := AsUpstreamError(err)
	if !ok {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", ue.Status)
	}
	if ue.Body == "" {
		t.Error("expected upstream body to be carried")
	}
}

func TestClient_RefreshToken_Rotation(t *testing.T) {
	g := newFakeGateway(t, http.StatusOK, TokenPair{
		AccessToken:      "new-access",
		ExpiresIn:        1800,
		RefreshToken:     "rotated-refresh",
		RefreshExpiresIn: 1296000,
	})
	c := g.client()

	pair, err := c.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.AccessToken != "new-access" || pair.RefreshToken != "rotated-refresh" {
		t.Errorf("unexpected pair: %+v", pair)
	}
	if g.lastOp["refreshToken"] != "old-refresh" {
		t.Errorf("refresh token must pass through, got %v", g.lastOp["refreshToken"])
	}
}

func TestClient_PublicKeyCache(t *testing.T) {
	g := newFakeGateway(t, http.StatusOK, OTPResponse{TxnID: "T1"})
	c := g.client()

	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if _, err := c.RequestOTP(context.Background(), OTPRequest{LoginValue: "1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := atomic.LoadInt32(&g.certFetch); n != 1 {
		t.Errorf("expected 1 key fetch within TTL, got %d", n)
	}

	// Past the 5-minute TTL the key is refreshed regardless of use.
	base = base.Add(publicKeyTTL + time.Second)
	if _, err := c.RequestOTP(context.Background(), OTPRequest{LoginValue: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&g.certFetch); n != 2 {
		t.Errorf("expected key refetch after TTL, got %d fetches", n)
	}
}

func TestClient_SessionFailureSurfacesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sessions := NewSessionManager(SessionConfig{SessionURL: srv.URL}, zerolog.Nop())
	c := NewClient(Config{Environment: Sandbox, BaseURL: srv.URL, CertURL: srv.URL}, sessions, zerolog.Nop())

	_, err := c.RequestOTP(context.Background(), OTPRequest{LoginValue: "1"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError from session layer, got %v", err)
	}
}
