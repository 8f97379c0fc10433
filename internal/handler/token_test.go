package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/middleware"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
	"github.com/solderstack/gatehouse/internal/service"
)

type stubFetcher struct {
	profile *model.FacebookProfile
}

func (f *stubFetcher) FetchProfile(ctx context.Context, accessToken string) (*model.FacebookProfile, error) {
	return f.profile, nil
}

type stubMailer struct {
	sent int
}

func (m *stubMailer) SendLoginEmail(ctx context.Context, acc model.Account, bundle model.TokenBundle) error {
	m.sent++
	return nil
}

func newTokenHandler(t *testing.T, mailer service.Mailer) (*TokenHandler, *service.AccountService) {
	t.Helper()
	store := repository.NewMemoryStore()
	accounts := service.NewAccountService(store, store, nil, zap.NewNop())
	tokens := service.NewTokenService("secret", time.Hour, nil, zap.NewNop())
	fetcher := &stubFetcher{profile: &model.FacebookProfile{
		ID:          "fb-1",
		DisplayName: "Jane Doe",
		Email:       "jane@example.com",
	}}
	facebook := service.NewFacebookExchange(fetcher, accounts, tokens, zap.NewNop())
	login := service.NewLoginService(accounts, tokens, mailer, zap.NewNop())
	return NewTokenHandler(tokens, facebook, login), accounts
}

func TestTokenCreateWithoutCredentials(t *testing.T) {
	h, _ := newTokenHandler(t, &stubMailer{})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/tokens", `{}`)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Create(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenCreateForBearer(t *testing.T) {
	h, accounts := newTokenHandler(t, &stubMailer{})
	e := echo.New()

	acc, err := accounts.Create(context.Background(), service.CreateParams{Email: "jane@example.com", Username: "jane"})
	require.NoError(t, err)

	req := jsonRequest(http.MethodPost, "/tokens", `{}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.ContextAccount, acc)
	require.NoError(t, h.Create(c))

	require.Equal(t, http.StatusCreated, rec.Code)
	var bundle model.TokenBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Equal(t, acc.ID, bundle.AccountID)
	assert.NotEmpty(t, bundle.AccessToken)
}

func TestTokenCreateWithFacebookToken(t *testing.T) {
	h, _ := newTokenHandler(t, &stubMailer{})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/tokens", `{"facebookAccessToken":"fb-token"}`)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Create(e.NewContext(req, rec)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var bundle model.TokenBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.NotEmpty(t, bundle.AccountID)
	assert.NotEmpty(t, bundle.AccessToken)
}

func TestTokenCreateDispatchesMagicLink(t *testing.T) {
	mailer := &stubMailer{}
	h, accounts := newTokenHandler(t, mailer)
	e := echo.New()

	_, err := accounts.Create(context.Background(), service.CreateParams{Email: "jane@example.com", Username: "jane"})
	require.NoError(t, err)

	req := jsonRequest(http.MethodPost, "/tokens", `{"email":"jane@example.com"}`)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Create(e.NewContext(req, rec)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, mailer.sent)
	assert.Contains(t, rec.Body.String(), "OK")
}

func TestTokenCreateMagicLinkUnknownAccount(t *testing.T) {
	h, _ := newTokenHandler(t, &stubMailer{})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/tokens", `{"email":"nobody@example.com"}`)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Create(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTokenVerify(t *testing.T) {
	h, _ := newTokenHandler(t, &stubMailer{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/tokens", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.ContextClaims, model.TokenClaims{
		AccountID: "acc-1",
		Name:      "Jane",
		Scope:     []string{model.RoleUser, model.ScopeAccessToken},
	})
	require.NoError(t, h.Verify(c))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "acc-1", body["accountId"])

	// no claims in context means the middleware never ran
	rec = httptest.NewRecorder()
	require.NoError(t, h.Verify(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
