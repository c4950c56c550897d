package apperr

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPStatus maps an error kind to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUndoExpired:
		return http.StatusGone
	case KindTransactionAborted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts an application error into an echo HTTP error carrying the
// kind name alongside the message.
func ToHTTP(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), map[string]string{
		"kind":  KindOf(err).String(),
		"error": err.Error(),
	})
}
