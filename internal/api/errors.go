package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }
func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Status  *int   `json:"status,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return writeJSON(c, status, map[string]any{
		"error": ResponseError{Message: msg, Type: errType, Code: code},
	})
}

// writeFitError maps a whole-run failure to an HTTP status by class.
func writeFitError(c *echo.Context, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return writeBadRequest(c, err.Error())
	}
	class := lmfit.ClassOf(err)
	status := http.StatusInternalServerError
	errType := "server_error"
	switch class {
	case lmfit.ClassConfiguration:
		status, errType = http.StatusUnprocessableEntity, "invalid_request_error"
	case lmfit.ClassOutOfMemory:
		status, errType = http.StatusInsufficientStorage, "insufficient_memory_error"
	case lmfit.ClassDeviceUnavailable:
		status, errType = http.StatusServiceUnavailable, "device_unavailable_error"
	case lmfit.ClassBusy:
		status, errType = http.StatusConflict, "busy_error"
	}
	code := lmfit.Status(err)
	return writeJSON(c, status, map[string]any{
		"error": ResponseError{Message: err.Error(), Type: errType, Code: class.String(), Status: &code},
	})
}
