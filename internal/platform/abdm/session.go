package abdm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// expiryMargin is subtracted from every upstream-reported token lifetime so
// a consumer never observes a token expiring mid-request.
const expiryMargin = 60 * time.Second

// SessionConfig configures the service-level session exchange.
type SessionConfig struct {
	SessionURL   string
	ClientID     string
	ClientSecret string
	Environment  Environment
	Timeout      time.Duration
}

// SessionManager acquires and caches the shared service-level bearer token
// used to authorize administrative and enrollment calls to the gateway.
//
// The cache is guarded by a mutex held across the refresh exchange, so
// concurrent callers racing past expiry coalesce into a single upstream
// exchange; callers arriving while the token is still fresh return without
// touching the network.
type SessionManager struct {
	cfg    SessionConfig
	httpc  *http.Client
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSessionManager creates a manager. SessionURL defaults from the
// Environment when empty; Timeout defaults to 15s.
func NewSessionManager(cfg SessionConfig, logger zerolog.Logger) *SessionManager {
	if cfg.SessionURL == "" {
		cfg.SessionURL = cfg.Environment.DefaultSessionURL()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SessionManager{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "abdm_session").Logger(),
		now:    time.Now,
	}
}

// Token returns the cached bearer token while it is fresh, otherwise
// performs one client-credentials exchange and caches the result. A stale
// token is never returned as valid.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.expires) {
		return m.token, nil
	}
	return m.refreshLocked(ctx)
}

// Refresh unconditionally performs the exchange, replacing any cached token.
func (m *SessionManager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *SessionManager) refreshLocked(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"clientId":     m.cfg.ClientID,
		"clientSecret": m.cfg.ClientSecret,
		"grantType":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("abdm: marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.SessionURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("abdm: build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Fresh correlation ID and timestamp on every exchange, per the
	// gateway's anti-replay expectations.
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set(HeaderTimestamp, m.now().UTC().Format(time.RFC3339))
	req.Header.Set(HeaderEnvironment, string(m.cfg.Environment))

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", &AuthError{Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn().Int("status", resp.StatusCode).Msg("session exchange rejected")
		return "", &AuthError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", &AuthError{Status: resp.StatusCode, Body: "malformed session response: " + err.Error()}
	}
	if payload.AccessToken == "" {
		return "", &AuthError{Status: resp.StatusCode, Body: "session response missing accessToken"}
	}

	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	m.token = payload.AccessToken
	m.expires = m.now().Add(lifetime - expiryMargin)

	m.logger.Debug().Time("expires", m.expires).Msg("session token refreshed")
	return m.token, nil
}
