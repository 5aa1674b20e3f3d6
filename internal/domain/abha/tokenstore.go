package abha

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/arogya/arogya/internal/platform/abdm"
	"github.com/arogya/arogya/internal/platform/pii"
)

// accessTokenMargin is subtracted from the upstream-reported access token
// lifetime before caching; accessTokenFloor is the minimum cache TTL.
const (
	accessTokenMargin = 60 * time.Second
	accessTokenFloor  = 60 * time.Second

	refreshKeyPrefix = "abha:refresh:"
	accessKeyPrefix  = "abha:access:"
)

// TokenRefresher is the slice of the gateway client the store needs.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*abdm.TokenPair, error)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// TokenStore keeps each patient's ABDM refresh token durable and their
// access token cached, backed by Redis with a transparent in-process
// fallback when Redis is not configured or unreachable.
//
// Refresh tokens are encrypted at rest on the Redis path. The fallback map
// holds plaintext with explicit expiry; that degraded mode is acceptable
// only because it is non-production by definition.
//
// Every method degrades to "no valid session" on internal failure instead
// of surfacing an error: losing a token must never be confused with a hard
// error that blocks unrelated requests.
type TokenStore struct {
	rdb     *redis.Client // nil in fallback-only mode
	cipher  *pii.Cipher
	gateway TokenRefresher
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	memory map[string]memoryEntry
}

// NewTokenStore creates a token store. rdb may be nil, in which case every
// operation uses the in-process fallback.
func NewTokenStore(rdb *redis.Client, cipher *pii.Cipher, gateway TokenRefresher, logger zerolog.Logger) *TokenStore {
	return &TokenStore{
		rdb:     rdb,
		cipher:  cipher,
		gateway: gateway,
		logger:  logger.With().Str("component", "abha_tokens").Logger(),
		now:     time.Now,
		memory:  make(map[string]memoryEntry),
	}
}

// Store encrypts and persists the patient's refresh token with the given
// TTL.
func (s *TokenStore) Store(ctx context.Context, patientID uuid.UUID, refreshToken string, ttl time.Duration) {
	s.write(ctx, refreshKeyPrefix+patientID.String(), refreshToken, ttl, true)
}

// Get returns the patient's refresh token, or "" when none is stored or it
// has expired. Expired fallback entries are evicted lazily since the
// memory map has no TTL reaper of its own.
func (s *TokenStore) Get(ctx context.Context, patientID uuid.UUID) string {
	return s.read(ctx, refreshKeyPrefix+patientID.String(), true)
}

// AccessToken returns a live access token for the patient, refreshing via
// the gateway when the cache is cold. Returns "" when the patient has no
// usable session.
func (s *TokenStore) AccessToken(ctx context.Context, patientID uuid.UUID) string {
	accessKey := accessKeyPrefix + patientID.String()

	if cached := s.read(ctx, accessKey, false); cached != "" {
		return cached
	}

	refreshToken := s.Get(ctx, patientID)
	if refreshToken == "" {
		return ""
	}

	pair, err := s.gateway.RefreshToken(ctx, refreshToken)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("token refresh failed")
		return ""
	}

	ttl := time.Duration(pair.ExpiresIn)*time.Second - accessTokenMargin
	if ttl < accessTokenFloor {
		ttl = accessTokenFloor
	}
	s.write(ctx, accessKey, pair.AccessToken, ttl, false)

	// Upstream rotated the refresh token; persist the replacement.
	if pair.RefreshToken != "" && pair.RefreshToken != refreshToken {
		refreshTTL := time.Duration(pair.RefreshExpiresIn) * time.Second
		if refreshTTL <= 0 {
			refreshTTL = 15 * 24 * time.Hour
		}
		s.Store(ctx, patientID, pair.RefreshToken, refreshTTL)
	}

	return pair.AccessToken
}

// Revoke removes both the refresh token and the cached access token.
// Idempotent: revoking an absent patient is a no-op.
func (s *TokenStore) Revoke(ctx context.Context, patientID uuid.UUID) {
	refreshKey := refreshKeyPrefix + patientID.String()
	accessKey := accessKeyPrefix + patientID.String()

	if s.rdb != nil {
		if err := s.rdb.Del(ctx, refreshKey, accessKey).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("redis delete failed during revoke")
		}
	}

	s.mu.Lock()
	delete(s.memory, refreshKey)
	delete(s.memory, accessKey)
	s.mu.Unlock()
}

// write stores a value under key. encrypted selects the at-rest cipher,
// used for refresh tokens but not for short-lived access tokens.
func (s *TokenStore) write(ctx context.Context, key, value string, ttl time.Duration, encrypted bool) {
	if s.rdb != nil {
		stored := value
		if encrypted {
			enc, err := s.cipher.Encrypt(value)
			if err != nil {
				s.logger.Error().Err(err).Msg("encryption failed")
				return
			}
			stored = enc
		}
		err := s.rdb.Set(ctx, key, stored, ttl).Err()
		if err == nil {
			return
		}
		s.logger.Warn().Err(err).Msg("redis unreachable, falling back to memory store")
	}

	s.mu.Lock()
	s.memory[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// read returns the value under key or "". encrypted selects decryption on
// the Redis path.
func (s *TokenStore) read(ctx context.Context, key string, encrypted bool) string {
	if s.rdb != nil {
		stored, err := s.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			if !encrypted {
				return stored
			}
			plain, derr := s.cipher.Decrypt(stored)
			if derr != nil {
				// Undecryptable material is useless; drop it.
				s.logger.Error().Err(derr).Str("key", key).Msg("stored token failed decryption, deleting")
				s.rdb.Del(ctx, key)
				return ""
			}
			return plain
		case err == redis.Nil:
			// Fall through to the memory map: the entry may have been
			// written there while Redis was unreachable.
		default:
			s.logger.Warn().Err(err).Msg("redis unreachable, reading memory store")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.memory[key]
	if !ok {
		return ""
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.memory, key)
		return ""
	}
	return entry.value
}
