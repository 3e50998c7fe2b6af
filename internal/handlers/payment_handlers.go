package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"konsul_app_echo/internal/services"
)

type PaymentHandler struct {
	orders    *services.OrderService
	payments  *services.PaymentStateMachine
	refunds   *services.RefundService
	analytics *services.AnalyticsService
	validate  *validator.Validate
}

func NewPaymentHandler(orders *services.OrderService, payments *services.PaymentStateMachine, refunds *services.RefundService, analytics *services.AnalyticsService) *PaymentHandler {
	return &PaymentHandler{
		orders:    orders,
		payments:  payments,
		refunds:   refunds,
		analytics: analytics,
		validate:  validator.New(),
	}
}

// CreateOrder opens a payment order with the gateway
func (h *PaymentHandler) CreateOrder(c echo.Context) error {
	var spec services.OrderSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	if spec.IdempotencyKey == "" {
		spec.IdempotencyKey = c.Request().Header.Get("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request().Context(), spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *PaymentHandler) GetOrder(c echo.Context) error {
	order, err := h.orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// VerifyPayment applies a client-side payment confirmation
func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	var req services.PaymentVerification
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "gateway_order_id, gateway_payment_id and signature are required")
	}

	order, err := h.payments.ApplyVerifiedPayment(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

type failPaymentRequest struct {
	ErrorCode        string `json:"error_code" validate:"required,max=100"`
	ErrorDescription string `json:"error_description"`
}

// FailPayment records a failed payment reported by the checkout client
func (h *PaymentHandler) FailPayment(c echo.Context) error {
	var req failPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "error_code is required")
	}

	order, outcome, err := h.payments.ApplyFailedPayment(c.Request().Context(), c.Param("gatewayOrderId"), req.ErrorCode, req.ErrorDescription)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"outcome": outcome,
		"order":   order,
	})
}

func (h *PaymentHandler) CreateRefund(c echo.Context) error {
	var req services.RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	req.PaymentID = c.Param("id")

	refund, err := h.refunds.ProcessRefund(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, refund)
}

func (h *PaymentHandler) ListRefunds(c echo.Context) error {
	refunds, err := h.refunds.ListRefunds(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"refunds": refunds,
	})
}

// GetAnalytics aggregates a consultant's payments over [start, end).
// The consultant defaults to the authenticated user.
func (h *PaymentHandler) GetAnalytics(c echo.Context) error {
	consultantID := c.QueryParam("consultant_id")
	if consultantID == "" {
		consultantID = getStringFromContext(c, "userUID")
	}
	if consultantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "consultant_id is required")
	}

	start, err := parseTimeParam(c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid start, use RFC3339 or YYYY-MM-DD")
	}
	end, err := parseTimeParam(c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid end, use RFC3339 or YYYY-MM-DD")
	}

	result, err := h.analytics.GetPaymentAnalytics(c.Request().Context(), consultantID, start, end)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func parseTimeParam(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
