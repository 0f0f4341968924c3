package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/dto"

	"github.com/labstack/echo/v4"
)

// NewErrorHandler renders every error returned by a handler as an
// ErrorResponse. Internal detail is only exposed in development.
func NewErrorHandler(log *slog.Logger, development bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, res := errorResponse(err, development)

		logger := log.With(
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"error", err,
		)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request().Context(), "request failed")
		} else {
			logger.WarnContext(c.Request().Context(), "request rejected")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, res)
		}
		if err != nil {
			log.ErrorContext(c.Request().Context(), "write error response", "error", err)
		}
	}
}

func errorResponse(err error, development bool) (int, dto.ErrorResponse) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return apperr.HTTPStatus(err), appErrorResponse(err, ae, development)
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, dto.ErrorResponse{
			Code:    http.StatusText(he.Code),
			Message: fmt.Sprint(he.Message),
		}
	}

	res := dto.ErrorResponse{
		Code:    "INTERNAL",
		Message: "internal server error",
	}
	if development {
		res.Detail = err.Error()
	}
	return http.StatusInternalServerError, res
}

func appErrorResponse(err error, ae *apperr.Error, development bool) dto.ErrorResponse {
	res := dto.ErrorResponse{
		Code:    string(ae.Kind),
		Message: ae.Message,
		Errors:  ae.Fields,
	}
	if ae.Kind == apperr.KindInternal {
		res.Message = "internal server error"
		if development {
			res.Detail = err.Error()
		}
		return res
	}
	if apperr.IsGateway(err) {
		// gateway bodies can carry merchant data
		res.Message = "payment gateway error"
		res.Retryable = apperr.Retryable(err)
		if development {
			res.Detail = err.Error()
		}
	}
	return res
}
