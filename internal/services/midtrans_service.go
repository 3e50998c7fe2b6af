package services

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/models"
)

// MidtransService is the Gateway backed by Midtrans Snap and Core API
type MidtransService struct {
	SnapClient snap.Client
	CoreClient coreapi.Client
	log        *zap.SugaredLogger
}

func NewMidtransService(cfg *config.Config, log *zap.SugaredLogger) *MidtransService {
	env := midtrans.Sandbox
	if cfg.MidtransIsProduction {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(cfg.MidtransServerKey, env)

	var c coreapi.Client
	c.New(cfg.MidtransServerKey, env)

	midtrans.ServerKey = cfg.MidtransServerKey
	midtrans.ClientKey = cfg.MidtransClientKey
	midtrans.Environment = env

	return &MidtransService{
		SnapClient: s,
		CoreClient: c,
		log:        log,
	}
}

func (s *MidtransService) Name() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// CreateOrder opens a Snap transaction. Midtrans uses the merchant receipt
// as its order id.
func (s *MidtransService) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	if req.Currency != "IDR" {
		return nil, &GatewayError{Op: "create_order", StatusCode: 400, Message: "midtrans only settles IDR, got " + req.Currency}
	}

	param := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Receipt,
			GrossAmt: req.Amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.Email,
			Phone: req.Phone,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.Receipt,
				Name:  req.ItemName,
				Price: req.Amount,
				Qty:   1,
			},
		},
	}

	type result struct {
		resp *snap.Response
		err  *midtrans.Error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.SnapClient.CreateTransaction(param)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, midtransError("create_order", r.err)
		}
		raw, _ := json.Marshal(r.resp)
		return &GatewayOrder{
			GatewayOrderID: req.Receipt,
			Token:          r.resp.Token,
			RedirectURL:    r.resp.RedirectURL,
			Raw:            raw,
		}, nil
	}
}

// Refund issues a Core API refund. RefundKey makes retries idempotent on
// the Midtrans side.
func (s *MidtransService) Refund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefund, error) {
	param := &coreapi.RefundReq{
		RefundKey: req.RefundKey,
		Amount:    req.Amount,
		Reason:    req.Reason,
	}

	type result struct {
		resp *coreapi.RefundResponse
		err  *midtrans.Error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.CoreClient.RefundTransaction(req.GatewayOrderID, param)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, midtransError("refund", r.err)
		}
		raw, _ := json.Marshal(r.resp)

		code, _ := strconv.Atoi(r.resp.StatusCode)
		if code >= 300 {
			return nil, &GatewayError{Op: "refund", StatusCode: code, Transient: transientStatus(code), Message: r.resp.StatusMessage}
		}

		status := models.RefundStatusPending
		if r.resp.TransactionStatus == "refund" || r.resp.TransactionStatus == "partial_refund" {
			status = models.RefundStatusProcessed
		}
		refundID := r.resp.RefundKey
		if refundID == "" {
			refundID = req.RefundKey
		}
		s.log.Infow("midtrans_refund_accepted", "gateway_order_id", req.GatewayOrderID, "refund_key", refundID, "transaction_status", r.resp.TransactionStatus)
		return &GatewayRefund{GatewayRefundID: refundID, Status: status, Raw: raw}, nil
	}
}

func midtransError(op string, err *midtrans.Error) error {
	return &GatewayError{
		Op:         op,
		StatusCode: err.StatusCode,
		Transient:  transientStatus(err.StatusCode),
		Message:    err.Message,
	}
}
