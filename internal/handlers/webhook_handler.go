package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"konsul_app_echo/internal/services"
)

const (
	// SignatureHeader carries the hex HMAC of the raw webhook body
	SignatureHeader = "X-Gateway-Signature"
	// WebhookBodyLimit caps webhook bodies, in echo BodyLimit notation
	WebhookBodyLimit = "1M"
)

type WebhookHandler struct {
	dispatcher *services.WebhookDispatcher
}

func NewWebhookHandler(dispatcher *services.WebhookDispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// HandlePaymentWebhook passes the unparsed body to the dispatcher, which
// verifies the signature over the exact bytes received
func (h *WebhookHandler) HandlePaymentWebhook(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	result, err := h.dispatcher.Handle(c.Request().Context(), body, c.Request().Header.Get(SignatureHeader))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// HandleMidtransNotification receives Midtrans HTTP notifications. A non-2xx
// answer makes Midtrans redeliver.
func (h *WebhookHandler) HandleMidtransNotification(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	result, err := h.dispatcher.HandleMidtrans(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// readBody returns the raw request bytes. BodyLimit surfaces oversized
// bodies as an HTTPError from the read.
func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Failed to read body")
	}
	return body, nil
}
