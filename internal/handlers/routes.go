package handlers

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Handlers struct {
	Payments *PaymentHandler
	Webhooks *WebhookHandler
	Admin    *AdminHandler
	Health   *HealthHandler
}

// RegisterRoutes mounts the API. auth guards /api and may be nil.
func RegisterRoutes(e *echo.Echo, h Handlers, auth echo.MiddlewareFunc) {
	e.GET("/healthz", h.Health.Healthz)
	webhookLimit := echomw.BodyLimit(WebhookBodyLimit)
	e.POST("/webhooks/payments", h.Webhooks.HandlePaymentWebhook, webhookLimit)
	e.POST("/webhooks/midtrans", h.Webhooks.HandleMidtransNotification, webhookLimit)

	api := e.Group("/api")
	if auth != nil {
		api.Use(auth)
	}

	payments := api.Group("/payments")
	payments.POST("/orders", h.Payments.CreateOrder)
	payments.GET("/orders/:id", h.Payments.GetOrder)
	payments.POST("/orders/:gatewayOrderId/fail", h.Payments.FailPayment)
	payments.POST("/verify", h.Payments.VerifyPayment)
	payments.GET("/analytics", h.Payments.GetAnalytics)
	payments.POST("/:id/refunds", h.Payments.CreateRefund)
	payments.GET("/:id/refunds", h.Payments.ListRefunds)

	admin := api.Group("/admin")
	admin.GET("/reports", h.Admin.NotImplemented)
	admin.GET("/admins", h.Admin.NotImplemented)
}
