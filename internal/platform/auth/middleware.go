package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserNameKey  contextKey = "user_name"
	UserRolesKey contextKey = "user_roles"
)

// Claims are the bearer token claims the lab service reads.
type Claims struct {
	jwt.RegisteredClaims
	SiteID   string   `json:"site_id"`
	Username string   `json:"preferred_username"`
	Roles    []string `json:"roles"`
}

// JWTConfig selects how bearer tokens are verified. SigningKey enables
// HS256; PublicKey enables RS256. When both are set either method verifies.
type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	PublicKey  *rsa.PublicKey
}

// LoadRSAPublicKey reads a PEM encoded RSA public key.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

func (cfg JWTConfig) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(cfg.SigningKey) > 0 {
			return cfg.SigningKey, nil
		}
	case *jwt.SigningMethodRSA:
		if cfg.PublicKey != nil {
			return cfg.PublicKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
}

func (cfg JWTConfig) parserOptions() []jwt.ParserOption {
	var methods []string
	if len(cfg.SigningKey) > 0 {
		methods = append(methods, "HS256")
	}
	if cfg.PublicKey != nil {
		methods = append(methods, "RS256")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := cfg.parserOptions()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, cfg.keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			c.Set("jwt_site_id", claims.SiteID)
			name := claims.Username
			if name == "" {
				name = claims.Subject
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), claims.Subject, name, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin user.
// Requests that do carry a bearer token are verified by cfg as usual.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && (len(cfg.SigningKey) > 0 || cfg.PublicKey != nil) {
				return verified(c)
			}
			ctx := WithIdentity(c.Request().Context(), "dev-user", "dev-user", []string{RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, userID, username string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserNameKey, username)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// UsernameFromContext falls back to the user ID when no display name is known.
func UsernameFromContext(ctx context.Context) string {
	if name, _ := ctx.Value(UserNameKey).(string); name != "" {
		return name
	}
	return UserIDFromContext(ctx)
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// Actor is the caller as recorded on requests, results and audit entries.
type Actor struct {
	UserID     string
	Username   string
	RemoteAddr string
}

// ActorFrom reads the authenticated caller and client address from c.
func ActorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		UserID:     UserIDFromContext(ctx),
		Username:   UsernameFromContext(ctx),
		RemoteAddr: c.RealIP(),
	}
}
