package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SiteIDKey contextKey = "site_id"
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"

	// SiteHeader names the lab site a request targets when the token does not.
	SiteHeader = "X-Lab-Site"
)

var siteIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SiteSchema returns the schema that holds a lab site's records.
func SiteSchema(siteID string) string {
	return "site_" + siteID
}

// ValidSiteID reports whether id may be used as part of a schema name.
func ValidSiteID(id string) bool {
	return siteIDPattern.MatchString(id)
}

// SiteMiddleware pins a pooled connection to the lab site schema for the
// lifetime of the request and stores it in the request context.
func SiteMiddleware(pool *pgxpool.Pool, defaultSite string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			siteID := extractSiteID(c, defaultSite)
			if !ValidSiteID(siteID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid lab site identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SiteSchema(siteID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "lab site resolution failed")
			}

			ctx = context.WithValue(ctx, SiteIDKey, siteID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("site_id", siteID)

			return next(c)
		}
	}
}

// extractSiteID resolves the site from the token claim, the X-Lab-Site
// header, the site query parameter, then the configured default.
func extractSiteID(c echo.Context, defaultSite string) string {
	if sid, ok := c.Get("jwt_site_id").(string); ok && sid != "" {
		return sid
	}
	if sid := c.Request().Header.Get(SiteHeader); sid != "" {
		return sid
	}
	if sid := c.QueryParam("site"); sid != "" {
		return sid
	}
	return defaultSite
}

// ConnFromContext retrieves the site-scoped connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// SiteFromContext retrieves the lab site ID from context.
func SiteFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SiteIDKey).(string)
	return sid
}

// CreateSiteSchema creates the schema for a lab site and applies every
// migration in migrations to it. A nil migrations skips the second step.
func CreateSiteSchema(ctx context.Context, pool *pgxpool.Pool, siteID string, migrations fs.FS) error {
	if !ValidSiteID(siteID) {
		return fmt.Errorf("invalid lab site identifier: %s", siteID)
	}
	schema := SiteSchema(siteID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations != nil {
		if _, err := NewMigrator(pool, migrations).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
