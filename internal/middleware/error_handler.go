package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"konsul_app_echo/internal/services"
)

// StatusFor maps an error returned by a handler to a status code and the
// message shown to the caller
func StatusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok && msg != "" {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	switch {
	case errors.Is(err, services.ErrInvalidOrderSpec),
		errors.Is(err, services.ErrInvalidRefund),
		errors.Is(err, services.ErrInvalidWindow),
		errors.Is(err, services.ErrMalformedWebhook):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrInvalidSignature):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrOrderNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrExcessiveRefund),
		errors.Is(err, services.ErrConcurrentUpdate),
		errors.Is(err, services.ErrRefundMismatch):
		return http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "payment gateway unavailable, retry later"
	}
	return http.StatusInternalServerError, "Something went wrong. Please try again later."
}

// CustomErrorHandler creates a JSON error handler for Echo
func CustomErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, message := StatusFor(err)
		fields := []interface{}{
			"method", c.Request().Method,
			"path", c.Path(),
			"status", code,
			"error", err,
		}
		if code >= http.StatusInternalServerError {
			log.Errorw("request_failed", fields...)
		} else {
			log.Infow("request_rejected", fields...)
		}

		if code == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", "5")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, map[string]string{"message": message})
		}
		if writeErr != nil {
			log.Errorw("error_response_failed", "error", writeErr)
		}
	}
}
