package abha

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arogya/arogya/internal/platform/abdm"
)

func newRequestContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_RequestAadhaarOTP(t *testing.T) {
	gw := &mockGateway{}
	svc, _, _ := newTestOrchestrator(gw)
	h, e := NewHandler(svc), echo.New()

	c, rec := newRequestContext(e, http.MethodPost, "/api/v1/abha/enrollment/otp", `{"aadhaar_number":"123456789012"}`)
	if err := h.RequestAadhaarOTP(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.Success || res.TxnID != "T1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHandler_RequestAadhaarOTP_MissingNumber(t *testing.T) {
	gw := &mockGateway{}
	svc, _, _ := newTestOrchestrator(gw)
	h, e := NewHandler(svc), echo.New()

	c, _ := newRequestContext(e, http.MethodPost, "/api/v1/abha/enrollment/otp", `{}`)
	err := h.RequestAadhaarOTP(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_EnrollByAadhaar_FailureEnvelope(t *testing.T) {
	gw := &mockGateway{failWith: &abdm.UpstreamError{Op: "enroll", Status: 422, Body: "bad otp"}}
	svc, _, _ := newTestOrchestrator(gw)
	h, e := NewHandler(svc), echo.New()

	body := `{"patient_id":"` + uuid.NewString() + `","txn_id":"T1","otp":"000000"}`
	c, rec := newRequestContext(e, http.MethodPost, "/api/v1/abha/enrollment/aadhaar", body)
	if err := h.EnrollByAadhaar(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Success || res.Message == "" {
		t.Fatalf("expected failure envelope, got %+v", res)
	}
}

func TestHandler_DetailsNotFound(t *testing.T) {
	gw := &mockGateway{}
	svc, _, _ := newTestOrchestrator(gw)
	h, e := NewHandler(svc), echo.New()

	c, rec := newRequestContext(e, http.MethodGet, "/api/v1/abha/x", "")
	c.SetParamNames("patientId")
	c.SetParamValues(uuid.NewString())

	if err := h.Details(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CardNoSession(t *testing.T) {
	gw := &mockGateway{card: []byte{0x89}}
	svc, _, _ := newTestOrchestrator(gw)
	h, e := NewHandler(svc), echo.New()

	c, _ := newRequestContext(e, http.MethodGet, "/api/v1/abha/x/card", "")
	c.SetParamNames("patientId")
	c.SetParamValues(uuid.NewString())

	err := h.Card(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
