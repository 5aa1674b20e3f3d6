package abdm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arogya/arogya/internal/platform/pii"
)

// publicKeyTTL bounds how long a fetched encryption key is reused. The
// gateway rotates certificates without notice, so the cache is refreshed
// every five minutes regardless of use.
const publicKeyTTL = 5 * time.Minute

type publicKeyCache struct {
	mu        sync.Mutex
	pemKey    string
	fetchedAt time.Time
}

// publicKey returns the gateway's RSA public key in PEM form, fetching it
// when the cache is empty or stale. The endpoint belongs to the client's
// own environment, so key and request environment always match.
func (c *Client) publicKey(ctx context.Context) (string, error) {
	c.keys.mu.Lock()
	defer c.keys.mu.Unlock()

	if c.keys.pemKey != "" && c.now().Sub(c.keys.fetchedAt) < publicKeyTTL {
		return c.keys.pemKey, nil
	}

	token, err := c.sessions.Token(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CertURL, nil)
	if err != nil {
		return "", &UpstreamError{Op: "fetch public key", Body: err.Error()}
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set(HeaderTimestamp, c.now().UTC().Format(time.RFC3339))
	req.Header.Set(HeaderEnvironment, string(c.cfg.Environment))
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &UpstreamError{Op: "fetch public key", Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Op: "fetch public key", Status: resp.StatusCode, Body: string(body)}
	}

	// The endpoint serves either a JSON envelope or the raw key material,
	// which itself may be armored PEM or a bare base64 DER body.
	material := string(body)
	var envelope struct {
		PublicKey string `json:"publicKey"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.PublicKey != "" {
		material = envelope.PublicKey
	}

	c.keys.pemKey = pii.WrapPEM(material)
	c.keys.fetchedAt = c.now()

	c.logger.Debug().Msg("gateway public key refreshed")
	return c.keys.pemKey, nil
}
