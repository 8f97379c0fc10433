// Package handler contains the HTTP handlers for the account and token
// endpoints.
package handler

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/solderstack/gatehouse/internal/middleware"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
	"github.com/solderstack/gatehouse/internal/service"
)

// AccountHandler bundles dependencies for account endpoints.
type AccountHandler struct {
	Accounts *service.AccountService
	Tokens   *service.TokenService
	Validate *validator.Validate
}

func NewAccountHandler(accounts *service.AccountService, tokens *service.TokenService) *AccountHandler {
	return &AccountHandler{Accounts: accounts, Tokens: tokens, Validate: validator.New()}
}

// ----- DTOs -----

type createAccountReq struct {
	ID         string            `json:"id"`
	Email      string            `json:"email" validate:"omitempty,email"`
	Username   string            `json:"username" validate:"omitempty,min=1,max=64"`
	Name       string            `json:"name" validate:"omitempty,max=256"`
	FacebookID string            `json:"facebookId"`
	Metadata   map[string]string `json:"metadata"`
}

type updateAccountReq struct {
	Email    *string           `json:"email" validate:"omitempty,email"`
	Username *string           `json:"username" validate:"omitempty,min=1,max=64"`
	Name     *string           `json:"name" validate:"omitempty,max=256"`
	Metadata map[string]string `json:"metadata"`
}

type createAccountResp struct {
	Account model.Account     `json:"account"`
	Tokens  model.TokenBundle `json:"tokens"`
}

// Create registers a new account and returns it together with a fresh
// token bundle so the client is signed in immediately.
func (h *AccountHandler) Create(c echo.Context) error {
	var req createAccountReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
	}
	if err := h.Validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	}

	ctx := c.Request().Context()
	acc, err := h.Accounts.Create(ctx, service.CreateParams{
		ID:         req.ID,
		Email:      req.Email,
		Username:   req.Username,
		Name:       req.Name,
		FacebookID: req.FacebookID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}

	bundle, err := h.Tokens.Create(ctx, *acc)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, createAccountResp{Account: *acc, Tokens: bundle})
}

// Get fetches a single account. The email field is only included when
// the caller may modify the account; the fields query narrows the
// response further.
func (h *AccountHandler) Get(c echo.Context) error {
	id := c.Param("id")
	opts := findOptions(c, middleware.CanModify(c, id))

	acc, err := h.Accounts.Get(c.Request().Context(), id, opts)
	if err != nil {
		return respondError(c, err)
	}
	if acc == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "Account with id " + id + " not found"})
	}
	return c.JSON(http.StatusOK, acc)
}

// Search resolves accounts by exactly one selector: ids, email or
// username. Anything else is a validation error.
func (h *AccountHandler) Search(c echo.Context) error {
	ids := c.QueryParam("ids")
	email := c.QueryParam("email")
	username := c.QueryParam("username")

	selectors := 0
	for _, s := range []string{ids, email, username} {
		if s != "" {
			selectors++
		}
	}
	if selectors != 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "exactly one of ids, email or username is required"})
	}

	ctx := c.Request().Context()
	var accounts []model.Account

	switch {
	case ids != "":
		idList := strings.Split(ids, ",")
		opts := findOptions(c, false)
		found, err := h.Accounts.GetMany(ctx, idList, opts)
		if err != nil {
			return respondError(c, err)
		}
		accounts = found
	case email != "":
		acc, err := h.Accounts.FindByEmail(ctx, email, findOptions(c, false))
		if err != nil {
			return respondError(c, err)
		}
		if acc != nil {
			accounts = []model.Account{*acc}
		}
	default:
		acc, err := h.Accounts.FindByUsername(ctx, username, findOptions(c, false))
		if err != nil {
			return respondError(c, err)
		}
		if acc != nil {
			accounts = []model.Account{*acc}
		}
	}

	if len(accounts) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "no accounts matching criteria found"})
	}
	return c.JSON(http.StatusOK, accounts)
}

// Update applies a partial write to the caller's own account, or any
// account for admins.
func (h *AccountHandler) Update(c echo.Context) error {
	id := c.Param("id")
	if !middleware.CanModify(c, id) {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "Access Denied"})
	}

	var req updateAccountReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
	}
	if err := h.Validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	}

	acc, err := h.Accounts.Update(c.Request().Context(), id, model.AccountUpdate{
		Email:    req.Email,
		Username: req.Username,
		Name:     req.Name,
		Metadata: req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, acc)
}

// Remove deletes an account; self or admin only. Removing an absent
// account succeeds.
func (h *AccountHandler) Remove(c echo.Context) error {
	id := c.Param("id")
	if !middleware.CanModify(c, id) {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "Access Denied"})
	}
	if err := h.Accounts.Remove(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "OK"})
}

// findOptions builds the projection for a read. Email is only released
// when the caller may modify the record; the store-level projection
// strips it otherwise, so requesting fields=email as a stranger yields
// nothing.
func findOptions(c echo.Context, canModify bool) repository.FindOptions {
	opts := repository.FindOptions{AllFields: canModify}
	if canModify && c.QueryParam("allFields") == "true" {
		return opts
	}
	raw := c.QueryParam("fields")
	if raw == "" {
		return opts
	}
	fields := make([]string, 0, 4)
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			fields = append(fields, f)
		}
	}
	opts.Fields = fields
	return opts
}
