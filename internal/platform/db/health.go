package db

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

// PoolStats is the pool section of the readiness report.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

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

// Check is a named dependency the readiness endpoint pings.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// PoolCheck pings the database pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{Name: "database", Ping: pool.Ping}
}

// RunChecks runs every check concurrently and returns "ok" or the error
// text per check name, plus whether all of them passed.
func RunChecks(ctx context.Context, checks []Check) (map[string]string, bool) {
	var mu sync.Mutex
	results := make(map[string]string, len(checks))
	healthy := true

	var g errgroup.Group
	for _, chk := range checks {
		chk := chk
		g.Go(func() error {
			status := "ok"
			if err := chk.Ping(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[chk.Name] = status
			if status != "ok" {
				healthy = false
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, healthy
}

// ReadinessHandler reports 200 when every check passes and 503 otherwise.
// Pool statistics are included when pool is non-nil.
func ReadinessHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		results, healthy := RunChecks(ctx, checks)
		body := map[string]interface{}{"checks": results}
		if pool != nil {
			body["pool"] = GetPoolStats(pool)
		}

		if !healthy {
			body["status"] = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["status"] = "ready"
		return c.JSON(http.StatusOK, body)
	}
}
