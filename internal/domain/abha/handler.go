package abha

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/abha/enrollment/otp", h.RequestAadhaarOTP)
	api.POST("/abha/enrollment/aadhaar", h.EnrollByAadhaar)
	api.POST("/abha/enrollment/mobile/otp", h.RequestMobileOTP)
	api.POST("/abha/enrollment/mobile/verify", h.VerifyMobileOTP)
	api.POST("/abha/enrollment/document", h.EnrollByDrivingLicence)
	api.POST("/abha/auth/otp", h.RequestLoginOTP)
	api.POST("/abha/auth/verify", h.VerifyLoginOTP)
	api.POST("/abha/benefits", h.LinkBenefit)
	api.GET("/abha/:patientId", h.Details)
	api.DELETE("/abha/:patientId", h.Delink)
	api.GET("/abha/:patientId/card", h.Card)
	api.GET("/abha/:patientId/qr", h.QRCode)
}

// respond maps a flow Result onto the HTTP status: failures are reported
// as 422 with the envelope intact so clients read one shape either way.
func respond(c echo.Context, res Result) error {
	if !res.Success {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(http.StatusOK, res)
}

type requestOTPRequest struct {
	AadhaarNumber string `json:"aadhaar_number"`
}

func (h *Handler) RequestAadhaarOTP(c echo.Context) error {
	var req requestOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AadhaarNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "aadhaar_number is required")
	}
	return respond(c, h.svc.RequestAadhaarOTP(c.Request().Context(), req.AadhaarNumber))
}

type enrollByAadhaarRequest struct {
	PatientID string `json:"patient_id"`
	TxnID     string `json:"txn_id"`
	OTP       string `json:"otp"`
	Mobile    string `json:"mobile"`
}

func (h *Handler) EnrollByAadhaar(c echo.Context) error {
	var req enrollByAadhaarRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if req.TxnID == "" || req.OTP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "txn_id and otp are required")
	}
	return respond(c, h.svc.EnrollByAadhaar(c.Request().Context(), patientID, req.TxnID, req.OTP, req.Mobile))
}

type mobileOTPRequest struct {
	TxnID  string `json:"txn_id"`
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

func (h *Handler) RequestMobileOTP(c echo.Context) error {
	var req mobileOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TxnID == "" || req.Mobile == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "txn_id and mobile are required")
	}
	return respond(c, h.svc.RequestMobileOTP(c.Request().Context(), req.TxnID, req.Mobile))
}

func (h *Handler) VerifyMobileOTP(c echo.Context) error {
	var req mobileOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TxnID == "" || req.OTP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "txn_id and otp are required")
	}
	return respond(c, h.svc.VerifyMobileOTP(c.Request().Context(), req.TxnID, req.OTP))
}

type enrollByDocumentRequest struct {
	PatientID      string `json:"patient_id"`
	TxnID          string `json:"txn_id"`
	LicenceNumber  string `json:"licence_number"`
	FirstName      string `json:"first_name"`
	MiddleName     string `json:"middle_name"`
	LastName       string `json:"last_name"`
	DOB            string `json:"dob"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	State          string `json:"state"`
	District       string `json:"district"`
	PinCode        string `json:"pin_code"`
	FrontSidePhoto string `json:"front_side_photo"`
	BackSidePhoto  string `json:"back_side_photo"`
}

func (h *Handler) EnrollByDrivingLicence(c echo.Context) error {
	var req enrollByDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if req.LicenceNumber == "" || req.FirstName == "" || req.DOB == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "licence_number, first_name and dob are required")
	}
	return respond(c, h.svc.EnrollByDrivingLicence(c.Request().Context(), patientID, DrivingLicenceEnrollment{
		TxnID:          req.TxnID,
		LicenceNumber:  req.LicenceNumber,
		FirstName:      req.FirstName,
		MiddleName:     req.MiddleName,
		LastName:       req.LastName,
		DOB:            req.DOB,
		Gender:         req.Gender,
		Address:        req.Address,
		State:          req.State,
		District:       req.District,
		PinCode:        req.PinCode,
		FrontSidePhoto: req.FrontSidePhoto,
		BackSidePhoto:  req.BackSidePhoto,
	}))
}

type loginOTPRequest struct {
	AbhaNumber string `json:"abha_number"`
	PatientID  string `json:"patient_id"`
	TxnID      string `json:"txn_id"`
	OTP        string `json:"otp"`
}

func (h *Handler) RequestLoginOTP(c echo.Context) error {
	var req loginOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AbhaNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "abha_number is required")
	}
	return respond(c, h.svc.RequestLoginOTP(c.Request().Context(), req.AbhaNumber))
}

func (h *Handler) VerifyLoginOTP(c echo.Context) error {
	var req loginOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if req.TxnID == "" || req.OTP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "txn_id and otp are required")
	}
	return respond(c, h.svc.VerifyLoginOTP(c.Request().Context(), patientID, req.TxnID, req.OTP))
}

type linkBenefitRequest struct {
	PatientID   string `json:"patient_id"`
	BenefitName string `json:"benefit_name"`
	ProgramID   string `json:"program_id"`
}

func (h *Handler) LinkBenefit(c echo.Context) error {
	var req linkBenefitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if req.BenefitName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "benefit_name is required")
	}
	return respond(c, h.svc.LinkBenefit(c.Request().Context(), patientID, req.BenefitName, req.ProgramID))
}

func (h *Handler) Details(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	res := h.svc.Details(c.Request().Context(), patientID)
	if !res.Success {
		return c.JSON(http.StatusNotFound, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Delink(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return respond(c, h.svc.Delink(c.Request().Context(), patientID))
}

func (h *Handler) Card(c echo.Context) error {
	return h.image(c, h.svc.Card)
}

func (h *Handler) QRCode(c echo.Context) error {
	return h.image(c, h.svc.QRCode)
}

func (h *Handler) image(c echo.Context, fetch func(ctx context.Context, id uuid.UUID) ([]byte, error)) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	data, err := fetch(c.Request().Context(), patientID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return echo.NewHTTPError(http.StatusUnauthorized, "no active ABHA session for patient")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "failed to fetch from ABDM")
	}
	return c.Blob(http.StatusOK, "image/png", data)
}
