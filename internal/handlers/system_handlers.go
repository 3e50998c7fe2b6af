package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"konsul_app_echo/internal/services"
)

// AdminHandler holds the admin endpoints that are not built yet
type AdminHandler struct{}

func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

func (h *AdminHandler) NotImplemented(c echo.Context) error {
	return c.JSON(http.StatusNotImplemented, map[string]string{"message": "coming soon"})
}

type HealthHandler struct {
	checker *services.HealthChecker
}

func NewHealthHandler(checker *services.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Healthz(c echo.Context) error {
	report := h.checker.Check(c.Request().Context())
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// Helper to safely get string from context
func getStringFromContext(c echo.Context, key string) string {
	val := c.Get(key)
	if val == nil {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}
