package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot reported by the health endpoint.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats snapshots the pool counters.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

type checkStatus struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// HealthHandler probes the dependencies this service cannot run without and
// the ones it degrades gracefully around. Postgres down means identity
// links and consent rows are unreachable, so the endpoint reports 503. The
// cache probe is nil when Redis is not configured; a failing cache only
// degrades the token store to its in-process fallback, so it is reported
// but never fails the check.
func HealthHandler(pool *pgxpool.Pool, cacheProbe func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		dbErr := pool.Ping(ctx)
		var cacheErr error
		if cacheProbe != nil {
			cacheErr = cacheProbe(ctx)
		}

		code, payload := healthPayload(dbErr, GetPoolStats(pool), cacheProbe != nil, cacheErr)
		return c.JSON(code, payload)
	}
}

func healthPayload(dbErr error, stats *PoolStats, cacheConfigured bool, cacheErr error) (int, map[string]any) {
	database := checkStatus{Status: "ok", Pool: stats}
	if dbErr != nil {
		database.Status = "unhealthy"
		database.Error = dbErr.Error()
	}

	cache := checkStatus{Status: "unconfigured"}
	if cacheConfigured {
		cache.Status = "ok"
		if cacheErr != nil {
			cache.Status = "unhealthy"
			cache.Error = cacheErr.Error()
		}
	}

	status := "ok"
	code := http.StatusOK
	switch {
	case dbErr != nil:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case cacheErr != nil:
		status = "degraded"
	}

	return code, map[string]any{
		"status":   status,
		"database": database,
		"cache":    cache,
	}
}
