package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/logger"
	"konsul_app_echo/internal/models"
)

// OrderSpec is a request to open a payment order
type OrderSpec struct {
	Amount         int64                `json:"amount" validate:"gt=0"`
	Currency       string               `json:"currency" validate:"omitempty,len=3,alpha"`
	ConsultantID   string               `json:"consultant_id" validate:"required,max=100"`
	ReferenceType  models.ReferenceType `json:"reference_type" validate:"omitempty,oneof=session quotation"`
	ReferenceID    string               `json:"reference_id" validate:"required_with=ReferenceType,max=100"`
	ClientName     string               `json:"client_name" validate:"max=255"`
	ClientEmail    string               `json:"client_email" validate:"omitempty,email,max=255"`
	ClientPhone    string               `json:"client_phone" validate:"max=50"`
	Description    string               `json:"description" validate:"max=255"`
	IdempotencyKey string               `json:"idempotency_key" validate:"max=128"`
}

// Fingerprint derives an idempotency key from the fields that make two
// requests the same purchase
func (s OrderSpec) Fingerprint() string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		s.ConsultantID,
		string(s.ReferenceType),
		s.ReferenceID,
		strconv.FormatInt(s.Amount, 10),
		strings.ToUpper(s.Currency),
		strings.ToLower(s.ClientEmail),
	}, "|")))
	return "fp:" + hex.EncodeToString(h[:])
}

type OrderService struct {
	orders   OrderStore
	gateway  Gateway
	locker   Locker
	retry    RetryPolicy
	cfg      *config.Config
	validate *validator.Validate
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewOrderService(orders OrderStore, gateway Gateway, locker Locker, cfg *config.Config, log *zap.SugaredLogger) *OrderService {
	return &OrderService{
		orders:   orders,
		gateway:  gateway,
		locker:   locker,
		retry:    RetryPolicyFromConfig(cfg),
		cfg:      cfg,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
}

// CreateOrder opens a gateway order and persists it as CREATED. A request
// repeating the idempotency key within the window returns the earlier order.
func (s *OrderService) CreateOrder(ctx context.Context, spec OrderSpec) (*models.PaymentOrder, error) {
	spec.Currency = strings.ToUpper(strings.TrimSpace(spec.Currency))
	if spec.Currency == "" {
		spec.Currency = s.cfg.DefaultCurrency
	}
	spec.IdempotencyKey = strings.TrimSpace(spec.IdempotencyKey)

	if err := s.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOrderSpec, describeValidation(err))
	}
	if spec.ReferenceID != "" && spec.ReferenceType == models.ReferenceTypeNone {
		return nil, fmt.Errorf("%w: reference_id requires reference_type", ErrInvalidOrderSpec)
	}
	if !s.cfg.IsSupportedCurrency(spec.Currency) {
		return nil, fmt.Errorf("%w: unsupported currency %s", ErrInvalidOrderSpec, spec.Currency)
	}

	key := spec.IdempotencyKey
	if key == "" {
		key = spec.Fingerprint()
	}

	release, err := s.locker.Acquire(ctx, idempotencyLockKey(key))
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.orders.FindReusableOrder(ctx, key, s.now().Add(-s.cfg.IdempotencyWindow))
	if err != nil {
		return nil, fmt.Errorf("lookup idempotent order: %w", err)
	}
	if existing != nil {
		s.log.Infow("payment_order_reused", logger.OrderFields(existing.ID, existing.GatewayOrderID)...)
		return existing, nil
	}

	id := uuid.NewString()
	req := GatewayOrderRequest{
		Receipt:      "KNS-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:20]),
		Amount:       spec.Amount,
		Currency:     spec.Currency,
		ItemName:     itemName(spec),
		CustomerName: spec.ClientName,
		Email:        spec.ClientEmail,
		Phone:        spec.ClientPhone,
	}

	var gwOrder *GatewayOrder
	err = s.retry.Do(ctx, s.log, "create_order", func(ctx context.Context) error {
		res, err := s.gateway.CreateOrder(ctx, req)
		if err != nil {
			return err
		}
		gwOrder = res
		return nil
	})
	if err != nil {
		s.log.Errorw("gateway_create_order_failed", "order_id", id, "receipt", req.Receipt, "error", err)
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Transient {
			return nil, fmt.Errorf("%w: %s", ErrInvalidOrderSpec, gwErr.Message)
		}
		return nil, err
	}

	order := &models.PaymentOrder{
		ID:             id,
		CreatedAt:      s.now(),
		Gateway:        s.gateway.Name(),
		GatewayOrderID: gwOrder.GatewayOrderID,
		Amount:         spec.Amount,
		Currency:       spec.Currency,
		ConsultantID:   spec.ConsultantID,
		ReferenceType:  spec.ReferenceType,
		ClientName:     spec.ClientName,
		ClientEmail:    spec.ClientEmail,
		ClientPhone:    spec.ClientPhone,
		IdempotencyKey: key,
		Status:         models.PaymentStatusCreated,
		CheckoutToken:  gwOrder.Token,
		CheckoutURL:    gwOrder.RedirectURL,
		Version:        1,
	}
	if spec.ReferenceID != "" {
		ref := spec.ReferenceID
		order.ReferenceID = &ref
	}
	if len(gwOrder.Raw) > 0 {
		order.GatewayMetadata = datatypes.JSON(gwOrder.Raw)
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.log.Errorw("payment_order_persist_failed", append(logger.OrderFields(order.ID, order.GatewayOrderID), "error", err)...)
		return nil, fmt.Errorf("persist payment order: %w", err)
	}

	s.log.Infow("payment_order_created", append(logger.OrderFields(order.ID, order.GatewayOrderID),
		"amount", order.Amount, "currency", order.Currency, "consultant_id", order.ConsultantID)...)
	return order, nil
}

// GetOrder returns the order or ErrOrderNotFound
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.PaymentOrder, error) {
	order, err := s.orders.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func itemName(spec OrderSpec) string {
	if spec.Description != "" {
		return spec.Description
	}
	switch spec.ReferenceType {
	case models.ReferenceTypeSession:
		return "Consulting session " + spec.ReferenceID
	case models.ReferenceTypeQuotation:
		return "Quotation " + spec.ReferenceID
	}
	return "Consulting payment"
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}
