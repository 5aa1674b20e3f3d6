package consent

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arogya/arogya/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consents", h.IssueConsent)
	api.POST("/consents/validate", h.ValidateConsent)
	api.DELETE("/consents/:consentId", h.RevokeConsent)
	api.POST("/consents/revoke-organization", h.RevokeOrganization)
	api.GET("/consents", h.ListConsents)
}

type issueRequest struct {
	ConsentID        string   `json:"consent_id"`
	PatientID        string   `json:"patient_id"`
	PatientAbha      string   `json:"patient_abha"`
	OrganizationID   string   `json:"organization_id"`
	Purpose          string   `json:"purpose"`
	AllowedResources []string `json:"allowed_resources"`
	ValidFrom        string   `json:"valid_from"`
	ValidUntil       string   `json:"valid_until"`
}

type issueResponse struct {
	Token   string  `json:"token"`
	Consent *Record `json:"consent"`
}

func (h *Handler) IssueConsent(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if req.OrganizationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "organization_id is required")
	}
	if len(req.AllowedResources) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "allowed_resources is required")
	}

	validUntil, err := time.Parse(time.RFC3339, req.ValidUntil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "valid_until must be RFC3339")
	}
	var validFrom time.Time
	if req.ValidFrom != "" {
		validFrom, err = time.Parse(time.RFC3339, req.ValidFrom)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "valid_from must be RFC3339")
		}
	}

	token, rec, err := h.svc.Issue(c.Request().Context(), IssueParams{
		ConsentID:        req.ConsentID,
		PatientID:        patientID,
		PatientAbha:      req.PatientAbha,
		OrganizationID:   req.OrganizationID,
		Purpose:          PurposeOfUse(req.Purpose),
		AllowedResources: req.AllowedResources,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
	})
	if err != nil {
		switch err {
		case ErrInvalidPurpose, ErrInvalidWindow:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue consent")
	}

	return c.JSON(http.StatusCreated, issueResponse{Token: token, Consent: rec})
}

type validateRequest struct {
	Token        string `json:"token"`
	ResourceType string `json:"resource_type"`
}

func (h *Handler) ValidateConsent(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	var v Validation
	if req.ResourceType != "" {
		v = h.svc.ValidateForResource(c.Request().Context(), req.Token, req.ResourceType)
	} else {
		v = h.svc.Validate(c.Request().Context(), req.Token)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RevokeConsent(c echo.Context) error {
	consentID := c.Param("consentId")
	reason := c.QueryParam("reason")

	if err := h.svc.Revoke(c.Request().Context(), consentID, reason); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke consent")
	}
	return c.JSON(http.StatusOK, map[string]string{"consent_id": consentID, "status": "revoked"})
}

type revokeOrganizationRequest struct {
	PatientID      string `json:"patient_id"`
	OrganizationID string `json:"organization_id"`
	Reason         string `json:"reason"`
}

func (h *Handler) RevokeOrganization(c echo.Context) error {
	var req revokeOrganizationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if req.OrganizationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "organization_id is required")
	}

	n, err := h.svc.RevokeAllForOrganization(c.Request().Context(), patientID, req.OrganizationID, req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke organization access")
	}
	return c.JSON(http.StatusOK, map[string]int64{"revoked_count": n})
}

func (h *Handler) ListConsents(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	pg := pagination.FromContext(c)
	records, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}
