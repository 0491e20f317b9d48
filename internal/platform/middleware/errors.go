package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ErrorHandler renders errors as {"detail": ...}. Classified errors keep
// their message; anything else becomes a generic 500 unless dev is set, in
// which case the error type and message are shown.
func ErrorHandler(logger zerolog.Logger, dev bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, detail := describe(err, dev)
		if status >= http.StatusInternalServerError {
			l := zerolog.Ctx(c.Request().Context())
			if l.GetLevel() == zerolog.Disabled {
				l = &logger
			}
			l.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, ErrorResponse{Detail: detail})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func describe(err error, dev bool) (int, string) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		status := apperr.HTTPStatus(ae.Kind)
		if ae.Kind == apperr.KindInternal {
			return status, internalDetail(err, dev)
		}
		return status, ae.Message
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError && dev && he.Internal != nil {
			return he.Code, internalDetail(he.Internal, dev)
		}
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	return http.StatusInternalServerError, internalDetail(err, dev)
}

func internalDetail(err error, dev bool) string {
	if !dev {
		return "Internal Server Error"
	}
	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	return fmt.Sprintf("%T: %v", root, err)
}
