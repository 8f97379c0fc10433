// Package middleware contains reusable Echo middleware for the HTTP layer.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
	"github.com/solderstack/gatehouse/internal/service"
)

// Context keys populated by Auth.
const (
	ContextAccount = "account"
	ContextClaims  = "claims"
	ContextToken   = "token"
)

// Auth returns middleware that validates a Bearer token and loads the
// matching account into the request context. With required=false the
// request proceeds anonymously when no token is supplied; a token that
// is present but invalid is rejected either way. When scopes are given
// the token must carry at least one of them.
func Auth(tokens *service.TokenService, accounts *service.AccountService, required bool, scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				if required {
					return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
				}
				return next(c)
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid token"})
			}
			if len(scopes) > 0 && !claims.HasScope(scopes...) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid token"})
			}

			acc, err := accounts.Get(c.Request().Context(), claims.AccountID, repository.FindOptions{AllFields: true})
			if err != nil {
				return err
			}
			if acc == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid token"})
			}

			c.Set(ContextAccount, acc)
			c.Set(ContextClaims, claims)
			c.Set(ContextToken, raw)
			return next(c)
		}
	}
}

// AccountFrom returns the authenticated account, nil for anonymous
// requests.
func AccountFrom(c echo.Context) *model.Account {
	if acc, ok := c.Get(ContextAccount).(*model.Account); ok {
		return acc
	}
	return nil
}

// ClaimsFrom returns the verified token claims when present.
func ClaimsFrom(c echo.Context) (model.TokenClaims, bool) {
	claims, ok := c.Get(ContextClaims).(model.TokenClaims)
	return claims, ok
}

// CanModify reports whether the caller may write the target account:
// the account itself, or any admin.
func CanModify(c echo.Context, targetID string) bool {
	acc := AccountFrom(c)
	if acc == nil {
		return false
	}
	return acc.ID == targetID || acc.HasRole(model.RoleAdmin)
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
