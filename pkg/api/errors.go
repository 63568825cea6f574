package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/orchestrator"
)

// mapServiceError maps an orchestrator/config error to an HTTP response per
// §7's taxonomy and §6.1's status mapping (validation -> 400, exclusivity
// -> 409, cap -> 429, not found -> 404, internal -> 500). The echo.HTTPError
// message carries an *ErrorResponse so the JSON body matches §6.1's error
// envelope regardless of which handler surfaces it.
func mapServiceError(err error) *echo.HTTPError {
	if kind, ok := orchestrator.AsKind(err); ok {
		return httpErrorForKind(kind, err)
	}

	var validErr *config.ValidationError
	if errors.As(err, &validErr) {
		return newHTTPError(http.StatusBadRequest, "invalid_request", err.Error())
	}
	var loadErr *config.LoadError
	if errors.As(err, &loadErr) {
		return newHTTPError(http.StatusBadRequest, "invalid_request", err.Error())
	}

	slog.Error("api: unexpected service error", "error", err)
	return newHTTPError(http.StatusInternalServerError, "internal_error", "internal server error")
}

func httpErrorForKind(kind orchestrator.Kind, err error) *echo.HTTPError {
	switch kind {
	case orchestrator.KindValidation:
		return newHTTPError(http.StatusBadRequest, string(kind), err.Error())
	case orchestrator.KindWorkflowConflict:
		return newHTTPError(http.StatusConflict, string(kind), err.Error())
	case orchestrator.KindRateLimit:
		return newHTTPError(http.StatusTooManyRequests, string(kind), err.Error())
	case orchestrator.KindNotFound:
		return newHTTPError(http.StatusNotFound, string(kind), err.Error())
	case orchestrator.KindInvalidTransition:
		slog.Error("api: invalid transition", "error", err)
		return newHTTPError(http.StatusConflict, string(kind), err.Error())
	case orchestrator.KindDriverError, orchestrator.KindCancellation:
		return newHTTPError(http.StatusConflict, string(kind), err.Error())
	case orchestrator.KindPersistence:
		slog.Error("api: persistence error", "error", err)
		return newHTTPError(http.StatusInternalServerError, string(kind), "internal server error")
	default:
		slog.Error("api: unclassified orchestrator error", "kind", kind, "error", err)
		return newHTTPError(http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func newHTTPError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, &ErrorResponse{Error: message, Code: code})
}
