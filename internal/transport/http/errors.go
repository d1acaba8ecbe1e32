package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/logging"
)

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// HTTPErrorHandler renders every error as {status:"error", message, details?}.
// Untagged errors are logged and never leak their text to the caller.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, body := renderError(err)
	if code >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "status", code, "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, body)
	}
	if werr != nil {
		logging.FromContext(c.Request().Context()).Error("error_response_failed", "error", werr)
	}
}

func renderError(err error) (int, errorBody) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Code, errorBody{Status: "error", Message: ae.Message, Details: ae.Details}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok || msg == "" || he.Code >= http.StatusInternalServerError {
			msg = http.StatusText(he.Code)
		}
		return he.Code, errorBody{Status: "error", Message: msg}
	}

	return http.StatusInternalServerError, errorBody{Status: "error", Message: "Internal Server Error"}
}
