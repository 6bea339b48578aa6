package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"commerce-service/pkg/jwtutil"
	"commerce-service/pkg/logger"
)

const claimsKey = "claims"

// Auth validates the Bearer session token and stores its claims in the context
func Auth(j *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := j.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set(claimsKey, claims)
			c.Set(logger.EchoKey, log.With(zap.String("username", claims.Username)))
			return next(c)
		}
	}
}

// RequireRole rejects tokens without the given role; it must run after Auth
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFromContext(c)
			if !ok || claims.Role != role {
				logger.FromEcho(c).Warn("Role required", zap.String("role", role))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient privileges"})
			}
			return next(c)
		}
	}
}

// ClaimsFromContext returns the session claims stored by Auth
func ClaimsFromContext(c echo.Context) (*jwtutil.SessionClaims, bool) {
	claims, ok := c.Get(claimsKey).(*jwtutil.SessionClaims)
	return claims, ok
}
