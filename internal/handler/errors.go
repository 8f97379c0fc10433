package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/observability"
)

// respondError maps a service error onto its HTTP status. Unclassified
// errors are reported to Sentry and rendered as a plain 500 so internal
// detail never leaks to clients.
func respondError(c echo.Context, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return c.JSON(statusOf(ae.Kind), echo.Map{"message": ae.Msg})
	}
	observability.CaptureError(err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal server error"})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
