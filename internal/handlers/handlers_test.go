package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"konsul_app_echo/internal/middleware"
	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
	"konsul_app_echo/internal/testutil"
)

type apiFixture struct {
	e       *echo.Echo
	store   *testutil.MemoryStore
	gateway *testutil.MockGateway
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	cfg := testutil.Config()
	store := testutil.NewMemoryStore()
	gw := &testutil.MockGateway{}
	locker := services.NewLocalLocker()

	machine := services.NewPaymentStateMachine(store, store, &testutil.MockReferenceMarker{}, &testutil.RecordingQueue{}, cfg.PaymentSigningSecret, models.PaymentGatewayMidtrans, log)
	refunds := services.NewRefundService(store, store, gw, locker, cfg, log)

	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	e.HTTPErrorHandler = middleware.CustomErrorHandler(log)
	RegisterRoutes(e, Handlers{
		Payments: NewPaymentHandler(
			services.NewOrderService(store, gw, locker, cfg, log),
			machine,
			refunds,
			services.NewAnalyticsService(store, cfg.CountRefundedAsSuccessful, log),
		),
		Webhooks: NewWebhookHandler(services.NewWebhookDispatcher(cfg.WebhookSigningSecret, store, machine, refunds, store, models.PaymentGatewayMidtrans, log,
			services.WithMidtransServerKey(cfg.MidtransServerKey))),
		Admin:    NewAdminHandler(),
	}, nil)

	return &apiFixture{e: e, store: store, gateway: gw}
}

func (f *apiFixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newAPI(t)
	f.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req services.GatewayOrderRequest) bool {
		return req.Amount == 2500
	})).Return(&services.GatewayOrder{GatewayOrderID: "KNS-1", Token: "tok"}, nil).Once()

	rec := f.do(http.MethodPost, "/api/payments/orders",
		`{"amount":2500,"consultant_id":"c1","client_email":"a@b.com"}`,
		"Idempotency-Key", "req-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "CREATED", body["status"])
	assert.Equal(t, "KNS-1", body["gateway_order_id"])
	assert.Equal(t, "req-1", body["idempotency_key"])

	id := body["id"].(string)
	rec = f.do(http.MethodGet, "/api/payments/orders/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrderEndpoint_InvalidOrderSpec(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodPost, "/api/payments/orders", `{"amount":0,"consultant_id":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/payments/orders", `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.gateway.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestGetOrderEndpoint_NotFound(t *testing.T) {
	f := newAPI(t)
	rec := f.do(http.MethodGet, "/api/payments/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	f := newAPI(t)
	f.store.PutOrder(testutil.Order("o-1", models.PaymentStatusCreated, 2500))

	bad := fmt.Sprintf(`{"gateway_order_id":"gw_o-1","gateway_payment_id":"pay_1","signature":%q}`,
		services.SignPayment("gw_o-1", "pay_1", "wrong-secret"))
	rec := f.do(http.MethodPost, "/api/payments/verify", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.PaymentStatusCreated, f.store.Order("o-1").Status)

	good := fmt.Sprintf(`{"gateway_order_id":"gw_o-1","gateway_payment_id":"pay_1","signature":%q}`,
		services.SignPayment("gw_o-1", "pay_1", testutil.PaymentSecret))
	rec = f.do(http.MethodPost, "/api/payments/verify", good)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", decode(t, rec)["status"])

	// a repeated confirmation is not an error
	rec = f.do(http.MethodPost, "/api/payments/verify", good)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/payments/verify", `{"gateway_order_id":"gw_o-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFailEndpoint(t *testing.T) {
	f := newAPI(t)
	f.store.PutOrder(testutil.Order("o-1", models.PaymentStatusPending, 2500))
	f.store.PutOrder(testutil.Order("o-2", models.PaymentStatusPaid, 2500))

	rec := f.do(http.MethodPost, "/api/payments/orders/gw_o-1/fail", `{"error_code":"DENY","error_description":"card declined"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode(t, rec)["outcome"])
	assert.Equal(t, models.PaymentStatusFailed, f.store.Order("o-1").Status)

	rec = f.do(http.MethodPost, "/api/payments/orders/gw_o-2/fail", `{"error_code":"DENY"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, models.PaymentStatusPaid, f.store.Order("o-2").Status)

	rec = f.do(http.MethodPost, "/api/payments/orders/gw_o-1/fail", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefundEndpoints(t *testing.T) {
	f := newAPI(t)
	f.store.PutOrder(testutil.Order("o-1", models.PaymentStatusPaid, 10000))
	f.gateway.On("Refund", mock.Anything, mock.Anything).
		Return(&services.GatewayRefund{GatewayRefundID: "rf_1", Status: models.RefundStatusPending}, nil).Once()

	rec := f.do(http.MethodPost, "/api/payments/o-1/refunds", `{"amount":4000,"reason":"session cancelled"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, f.store.Order("o-1").Status)

	rec = f.do(http.MethodPost, "/api/payments/o-1/refunds", `{"amount":7000}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/api/payments/o-1/refunds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	refunds := decode(t, rec)["refunds"].([]interface{})
	assert.Len(t, refunds, 1)

	rec = f.do(http.MethodGet, "/api/payments/missing/refunds", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.gateway.AssertNumberOfCalls(t, "Refund", 1)
}

func TestWebhookEndpoint(t *testing.T) {
	f := newAPI(t)
	f.store.PutOrder(testutil.Order("o-1", models.PaymentStatusCreated, 2500))
	body := `{"id":"evt_1","event":"payment.captured","payload":{"order_id":"gw_o-1","payment_id":"pay_1","amount":2500,"currency":"IDR"}}`
	sig := services.SignWebhook([]byte(body), testutil.WebhookSecret)

	tampered := "0" + sig[1:]
	if sig[0] == '0' {
		tampered = "1" + sig[1:]
	}
	rec := f.do(http.MethodPost, "/webhooks/payments", body, SignatureHeader, tampered)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/payments", body, SignatureHeader, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["duplicate"])
	assert.Equal(t, models.PaymentStatusPaid, f.store.Order("o-1").Status)

	rec = f.do(http.MethodPost, "/webhooks/payments", body, SignatureHeader, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])
}

func TestWebhookEndpoint_TooLarge(t *testing.T) {
	f := newAPI(t)
	body := strings.Repeat("a", 1<<20+1)

	rec := f.do(http.MethodPost, "/webhooks/payments", body, SignatureHeader, "00")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// Chunked uploads carry no Content-Length and are cut off while reading
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.ContentLength = -1
	req.Header.Set(SignatureHeader, "00")
	chunked := httptest.NewRecorder()
	f.e.ServeHTTP(chunked, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, chunked.Code)

	rec = f.do(http.MethodPost, "/webhooks/midtrans", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMidtransNotificationEndpoint(t *testing.T) {
	f := newAPI(t)
	f.store.PutOrder(testutil.Order("o-1", models.PaymentStatusCreated, 2500))
	sig := services.SignMidtransNotification("gw_o-1", "200", "2500.00", testutil.MidtransKey)
	body := fmt.Sprintf(`{"transaction_id":"tx-1","order_id":"gw_o-1","transaction_status":"settlement","status_code":"200","gross_amount":"2500.00","currency":"IDR","signature_key":%q}`, sig)

	forged := strings.Replace(body, sig, services.SignMidtransNotification("gw_o-1", "200", "2500.00", "other-key"), 1)
	rec := f.do(http.MethodPost, "/webhooks/midtrans", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.PaymentStatusCreated, f.store.Order("o-1").Status)

	rec = f.do(http.MethodPost, "/webhooks/midtrans", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "midtrans:tx-1:settlement", decode(t, rec)["event_id"])
	assert.Equal(t, models.PaymentStatusPaid, f.store.Order("o-1").Status)

	rec = f.do(http.MethodPost, "/webhooks/midtrans", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])
}

func TestAnalyticsEndpoint(t *testing.T) {
	f := newAPI(t)
	f.store.PutOrder(testutil.Order("o-1", models.PaymentStatusPaid, 10000))
	f.store.PutOrder(testutil.Order("o-2", models.PaymentStatusFailed, 5000))

	rec := f.do(http.MethodGet, "/api/payments/analytics?consultant_id=consultant-1&start=2026-03-01&end=2026-04-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total_transactions"])
	assert.EqualValues(t, 1, body["successful_payments"])
	assert.Equal(t, "0.5", body["success_rate"])

	rec = f.do(http.MethodGet, "/api/payments/analytics?start=2026-03-01&end=2026-04-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/payments/analytics?consultant_id=consultant-1&start=2026-04-01&end=2026-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/payments/analytics?consultant_id=consultant-1&start=yesterday&end=2026-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpointsNotImplemented(t *testing.T) {
	f := newAPI(t)
	for _, path := range []string{"/api/admin/reports", "/api/admin/admins"} {
		rec := f.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
		assert.JSONEq(t, `{"message":"coming soon"}`, rec.Body.String())
	}
}
