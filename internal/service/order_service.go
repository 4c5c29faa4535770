package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPaymentTTL is how long a bank transfer order waits for payment
const DefaultPaymentTTL = 15 * time.Minute

// OrderService handles order creation and the buyer-facing read side
type OrderService struct {
	store    store.Store
	engine   *pricing.Engine
	codec    *payment.Codec
	bank     payment.BankAccount
	notifier *Notifier
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	st store.Store,
	engine *pricing.Engine,
	codec *payment.Codec,
	bank payment.BankAccount,
	notifier *Notifier,
	paymentTTL time.Duration,
) *OrderService {
	if paymentTTL <= 0 {
		paymentTTL = DefaultPaymentTTL
	}
	return &OrderService{
		store:    st,
		engine:   engine,
		codec:    codec,
		bank:     bank,
		notifier: notifier,
		ttl:      paymentTTL,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// ShippingDetails is where the order is delivered
type ShippingDetails struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note,omitempty"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items         []pricing.Item       `json:"items"`
	Shipping      ShippingDetails      `json:"shipping"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

// OrderView is an order with its lines and, while a transfer is awaited,
// the instructions to pay it
type OrderView struct {
	Order   *models.Order         `json:"order"`
	Items   []models.LineSnapshot `json:"items"`
	Payment *payment.Descriptor   `json:"payment,omitempty"`
	PollURL string                `json:"pollUrl"`
}

// PaymentStatusView is the poll endpoint payload
type PaymentStatusView struct {
	OrderID       int64                `json:"orderId"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	PaidAt        *time.Time           `json:"paidAt,omitempty"`
	ExpiresAt     *time.Time           `json:"expiresAt,omitempty"`
}

// PollURL is the status endpoint clients fall back to when the stream is silent
func PollURL(orderID int64) string {
	return fmt.Sprintf("/api/v1/orders/%d/payment-status", orderID)
}

func (r *CreateOrderRequest) validate() error {
	if len(r.Items) == 0 {
		return apperr.Validation("items must not be empty")
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("unsupported payment method %q", r.PaymentMethod)
	}
	r.Shipping.Name = strings.TrimSpace(r.Shipping.Name)
	r.Shipping.Phone = strings.TrimSpace(r.Shipping.Phone)
	r.Shipping.Address = strings.TrimSpace(r.Shipping.Address)
	r.Shipping.Note = strings.TrimSpace(r.Shipping.Note)
	if r.Shipping.Name == "" || r.Shipping.Phone == "" || r.Shipping.Address == "" {
		return apperr.Validation("shipping name, phone and address are required")
	}
	return nil
}

// CreateOrder prices the request against the live catalog and persists the
// order, its lines, the payment attempt and the cart cleanup in one unit of work
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	if userID <= 0 {
		return nil, apperr.Unauthorized("missing user")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		order   models.Order
		lines   []models.LineSnapshot
		attempt *models.PaymentAttempt
	)

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		quote, err := s.engine.Quote(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		order = models.Order{
			UserID:          userID,
			PaymentMethod:   req.PaymentMethod,
			Subtotal:        quote.Subtotal,
			ShippingFee:     quote.ShippingFee,
			Discount:        quote.Discount,
			Total:           quote.Total,
			ShippingName:    req.Shipping.Name,
			ShippingPhone:   req.Shipping.Phone,
			ShippingAddress: req.Shipping.Address,
			Note:            req.Shipping.Note,
		}
		if req.PaymentMethod.RequiresTransfer() {
			expires := now.Add(s.ttl)
			order.Status = models.OrderStatusPendingPayment
			order.PaymentStatus = models.PaymentStatusPending
			order.ExpiresAt = &expires
		} else {
			order.Status = models.OrderStatusProcessing
			order.PaymentStatus = models.PaymentStatusNotRequired
		}

		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		lines = make([]models.LineSnapshot, len(quote.Lines))
		for i, l := range quote.Lines {
			lines[i] = models.LineSnapshot{
				OrderID:   order.ID,
				ProductID: l.ProductID,
				SKU:       l.SKU,
				Name:      l.Name,
				UnitPrice: l.UnitPrice,
				Quantity:  l.Quantity,
				LineTotal: l.LineTotal,
			}
		}
		if err := tx.InsertLineSnapshots(ctx, lines); err != nil {
			return err
		}

		if req.PaymentMethod.RequiresTransfer() {
			attempt, err = s.openAttempt(ctx, tx, &order)
			if err != nil {
				return err
			}
		}

		if _, err := tx.DeleteCartLines(ctx, userID, quote.ProductIDs()); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		s.logger.Info("Order creation rejected",
			zap.Int64("user_id", userID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("total", order.Total.StringFixed(pricing.MoneyPlaces)))
	s.notifier.OrderCreated(order, lines)

	return s.view(&order, lines, attempt), nil
}

// openAttempt inserts the PENDING attempt under a placeholder code, then
// stamps the code derived from its id on both attempt and order
func (s *OrderService) openAttempt(ctx context.Context, tx store.Tx, order *models.Order) (*models.PaymentAttempt, error) {
	attempt := &models.PaymentAttempt{
		OrderID:  order.ID,
		Provider: models.ProviderBankTransfer,
		Status:   models.AttemptStatusPending,
		Amount:   order.Total,
		Code:     "TMP-" + uuid.New().String(),
	}
	if err := tx.InsertPaymentAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create payment attempt: %w", err)
	}

	code := s.codec.Format(attempt.ID)
	if err := tx.SetPaymentCode(ctx, attempt.ID, order.ID, code); err != nil {
		return nil, err
	}
	attempt.Code = code
	order.PaymentCode = code
	return attempt, nil
}

func (s *OrderService) view(order *models.Order, lines []models.LineSnapshot, attempt *models.PaymentAttempt) *OrderView {
	v := &OrderView{Order: order, Items: lines, PollURL: PollURL(order.ID)}
	if v.Items == nil {
		v.Items = []models.LineSnapshot{}
	}
	if attempt != nil && attempt.Status == models.AttemptStatusPending && order.Status == models.OrderStatusPendingPayment {
		d := s.bank.Describe(attempt.Code, attempt.Amount)
		v.Payment = &d
	}
	return v
}

func (s *OrderService) load(ctx context.Context, viewer auth.Identity, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// other buyers' orders are indistinguishable from missing ones
	if order.UserID != viewer.UserID && !viewer.Can(auth.CapOrdersReadAny) {
		return nil, apperr.NotFound("order not found: %d", orderID)
	}
	return order, nil
}

// GetOrder returns an order visible to viewer
func (s *OrderService) GetOrder(ctx context.Context, viewer auth.Identity, orderID int64) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}

	lines, err := s.store.GetLineSnapshots(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order lines: %w", err)
	}

	var attempt *models.PaymentAttempt
	if order.PaymentMethod.RequiresTransfer() {
		if attempt, err = s.store.GetPaymentAttemptByOrderID(ctx, orderID); err != nil {
			return nil, fmt.Errorf("failed to load payment attempt: %w", err)
		}
	}
	return s.view(order, lines, attempt), nil
}

// PaymentStatus returns the lightweight status used by polling clients
func (s *OrderService) PaymentStatus(ctx context.Context, viewer auth.Identity, orderID int64) (*PaymentStatusView, error) {
	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	return &PaymentStatusView{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaidAt:        order.PaidAt,
		ExpiresAt:     order.ExpiresAt,
	}, nil
}
