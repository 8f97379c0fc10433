package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
	"github.com/solderstack/gatehouse/internal/service"
)

func authFixture(t *testing.T) (*service.TokenService, *service.AccountService, *model.Account) {
	t.Helper()
	store := repository.NewMemoryStore()
	accounts := service.NewAccountService(store, store, nil, zap.NewNop())
	tokens := service.NewTokenService("secret", time.Hour, nil, zap.NewNop())

	acc, err := accounts.Create(context.Background(), service.CreateParams{Email: "jane@example.com", Username: "jane"})
	require.NoError(t, err)
	return tokens, accounts, acc
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAuthLoadsAccount(t *testing.T) {
	tokens, accounts, acc := authFixture(t)
	bundle, err := tokens.Create(context.Background(), *acc)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+bundle.AccessToken)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := Auth(tokens, accounts, true, model.ScopeAccessToken)
	require.NoError(t, mw(func(c echo.Context) error {
		loaded := AccountFrom(c)
		require.NotNil(t, loaded)
		assert.Equal(t, acc.ID, loaded.ID)
		assert.Equal(t, "jane@example.com", loaded.Email)
		return okHandler(c)
	})(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	tokens, accounts, _ := authFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := Auth(tokens, accounts, true)
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthOptionalAllowsAnonymous(t *testing.T) {
	tokens, accounts, _ := authFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := Auth(tokens, accounts, false)
	require.NoError(t, mw(func(c echo.Context) error {
		assert.Nil(t, AccountFrom(c))
		return okHandler(c)
	})(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	tokens, accounts, _ := authFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	// an invalid token is rejected even on optional routes
	mw := Auth(tokens, accounts, false)
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthEnforcesScope(t *testing.T) {
	tokens, accounts, acc := authFixture(t)
	bundle, err := tokens.Create(context.Background(), *acc)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+bundle.RefreshToken)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := Auth(tokens, accounts, true, model.ScopeAccessToken)
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCanModify(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	// anonymous
	c := e.NewContext(req, httptest.NewRecorder())
	assert.False(t, CanModify(c, "a1"))

	// self
	c = e.NewContext(req, httptest.NewRecorder())
	c.Set(ContextAccount, &model.Account{ID: "a1"})
	assert.True(t, CanModify(c, "a1"))
	assert.False(t, CanModify(c, "b1"))

	// admin
	c = e.NewContext(req, httptest.NewRecorder())
	c.Set(ContextAccount, &model.Account{ID: "z9", Roles: []string{model.RoleAdmin}})
	assert.True(t, CanModify(c, "a1"))
}
