package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/solderstack/gatehouse/internal/middleware"
	"github.com/solderstack/gatehouse/internal/service"
)

// TokenHandler serves token issuance and verification.
type TokenHandler struct {
	Tokens   *service.TokenService
	Facebook *service.FacebookExchange
	Login    *service.LoginService
}

func NewTokenHandler(tokens *service.TokenService, facebook *service.FacebookExchange, login *service.LoginService) *TokenHandler {
	return &TokenHandler{Tokens: tokens, Facebook: facebook, Login: login}
}

type createTokenReq struct {
	FacebookAccessToken string `json:"facebookAccessToken"`
	Email               string `json:"email"`
}

// Create issues a token bundle. Three credential sources are accepted,
// checked in order: an authenticated bearer (access or refresh scope)
// gets a fresh bundle for its own account, a facebookAccessToken is
// exchanged through the Graph API, and an email (or username) value
// dispatches a magic-link login email. With none of the three the
// request is unauthorized.
func (h *TokenHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	if acc := middleware.AccountFrom(c); acc != nil {
		bundle, err := h.Tokens.Create(ctx, *acc)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, bundle)
	}

	var req createTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
	}

	switch {
	case req.FacebookAccessToken != "":
		_, bundle, err := h.Facebook.Exchange(ctx, req.FacebookAccessToken)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, bundle)
	case req.Email != "":
		if err := h.Login.SendMagicLink(ctx, req.Email); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, echo.Map{"message": "OK"})
	default:
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing credentials"})
	}
}

// Verify reports whether the bearer token is valid. The auth middleware
// has already rejected invalid tokens, so reaching the handler means OK.
func (h *TokenHandler) Verify(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"accountId": claims.AccountID,
		"name":      claims.Name,
		"scope":     claims.Scope,
	})
}
