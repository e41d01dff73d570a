package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/models"
)

// OrderNotifier receives best-effort order events. TelegramService implements it.
type OrderNotifier interface {
	NotifyNewOrder(ctx context.Context, order OrderNotification) error
	NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) error
}

const notifyTimeout = 15 * time.Second

// OrderService owns order placement, payment verification and the
// delivered/returned lifecycle.
type OrderService struct {
	db             *gorm.DB
	gateway        PaymentGateway
	notifier       OrderNotifier
	currency       string
	gatewayTimeout time.Duration
	log            logrus.FieldLogger
	now            func() time.Time
}

// NewOrderService constructs an OrderService. notifier may be nil.
func NewOrderService(db *gorm.DB, gateway PaymentGateway, notifier OrderNotifier, currency string, gatewayTimeout time.Duration, log logrus.FieldLogger) *OrderService {
	if currency == "" {
		currency = "INR"
	}
	return &OrderService{
		db:             db,
		gateway:        gateway,
		notifier:       notifier,
		currency:       currency,
		gatewayTimeout: gatewayTimeout,
		log:            log.WithField("component", "orders"),
		now:            time.Now,
	}
}

// OrderItemInput is a cart line as submitted by the client. ID carries the
// product identifier; Product is accepted as a fallback.
type OrderItemInput struct {
	ID      string  `json:"_id"`
	Product string  `json:"product"`
	Name    string  `json:"name"`
	Image   string  `json:"image"`
	Qty     int     `json:"qty"`
	Price   float64 `json:"price"`
}

// PlaceOrderInput is the checkout payload.
type PlaceOrderInput struct {
	OrderItems      []OrderItemInput `json:"orderItems"`
	ShippingAddress models.Address   `json:"shippingAddress"`
	PaymentMethod   string           `json:"paymentMethod"`
	ItemsPrice      float64          `json:"itemsPrice"`
	TaxPrice        float64          `json:"taxPrice"`
	ShippingPrice   float64          `json:"shippingPrice"`
	TotalPrice      float64          `json:"totalPrice"`
}

// PaymentConfirmation is what the gateway checkout hands back to the client.
// Field names follow the gateway's convention.
type PaymentConfirmation struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

// PaymentIntentResult is returned to the client to open the gateway checkout.
type PaymentIntentResult struct {
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
}

// PlaceOrder persists a new unpaid, undelivered order for caller. The caller's
// saved shipping address is updated afterwards on a best-effort basis.
func (s *OrderService) PlaceOrder(ctx context.Context, caller *models.User, in PlaceOrderInput) (*models.Order, error) {
	if len(in.OrderItems) == 0 {
		return nil, newError(KindValidation, "No order items")
	}

	order := models.Order{
		UserID:          caller.ID,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		ItemsPrice:      in.ItemsPrice,
		TaxPrice:        in.TaxPrice,
		ShippingPrice:   in.ShippingPrice,
		TotalPrice:      in.TotalPrice,
		OrderItems:      make([]models.OrderItem, 0, len(in.OrderItems)),
	}
	for _, item := range in.OrderItems {
		order.OrderItems = append(order.OrderItems, models.OrderItem{
			ProductID: productRef(item),
			Name:      item.Name,
			Image:     item.Image,
			Quantity:  item.Qty,
			Price:     item.Price,
		})
	}

	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	metrics.OrdersPlaced.Inc()

	log := s.log.WithFields(logrus.Fields{"order_id": order.ID, "user_id": caller.ID})
	log.Info("order placed")

	address := in.ShippingAddress
	if err := s.db.WithContext(ctx).
		Model(&models.User{BaseModel: models.BaseModel{ID: caller.ID}}).
		Select("ShippingAddress").
		Updates(&models.User{ShippingAddress: &address}).Error; err != nil {
		log.WithError(err).Warn("failed to save shipping address")
	} else {
		caller.ShippingAddress = &address
	}

	s.notifyNewOrder(caller, &order)
	return &order, nil
}

func productRef(item OrderItemInput) string {
	if ref := strings.TrimSpace(item.ID); ref != "" {
		return ref
	}
	return strings.TrimSpace(item.Product)
}

// GetOrder returns the order with its items and the owner's name and email.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, errOrderNotFound
	}

	var order models.Order
	if err := s.db.WithContext(ctx).
		Preload("OrderItems").
		Preload("User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "name", "email")
		}).
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListMyOrders returns every order owned by caller, newest first.
func (s *OrderService) ListMyOrders(ctx context.Context, caller *models.User) ([]models.Order, error) {
	orders := []models.Order{}
	if err := s.db.WithContext(ctx).
		Preload("OrderItems").
		Where("user_id = ?", caller.ID).
		Order("created_at desc").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListAllOrders returns every order with the owner's id and name.
func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	orders := []models.Order{}
	if err := s.db.WithContext(ctx).
		Preload("OrderItems").
		Preload("User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "name")
		}).
		Order("created_at desc").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CreatePaymentIntent opens a gateway order for the order's total, expressed
// in minor currency units.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, id string) (*PaymentIntentResult, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	req := PaymentIntentRequest{
		Amount:   MinorUnits(order.TotalPrice),
		Currency: s.currency,
		Receipt:  order.ID.String(),
	}

	gctx := ctx
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}

	intent, err := s.gateway.CreateIntent(gctx, req)
	if err != nil {
		log := s.log.WithField("order_id", order.ID).WithError(err)
		if isTimeout(err) {
			log.Error("payment gateway timed out")
			return nil, wrapError(KindGatewayTimeout, "Payment gateway timed out", err)
		}
		log.Error("payment gateway request failed")
		return nil, wrapError(KindGateway, "Something went wrong with Razorpay", err)
	}

	return &PaymentIntentResult{OrderID: intent.ID, Amount: intent.Amount}, nil
}

// MinorUnits converts a price to the gateway's smallest currency unit.
func MinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}

// ConfirmPayment marks the order paid once the gateway signature over
// "intentID|paymentID" checks out. Nothing is written on a bad signature.
func (s *OrderService) ConfirmPayment(ctx context.Context, caller *models.User, id string, in PaymentConfirmation) (*models.Order, error) {
	if !s.gateway.VerifySignature(in.RazorpayOrderID, in.RazorpayPaymentID, in.RazorpaySignature) {
		metrics.PaymentVerifications.WithLabelValues("invalid").Inc()
		s.log.WithFields(logrus.Fields{"order_id": id, "user_id": caller.ID}).Warn("payment signature mismatch")
		return nil, newError(KindInvalidSignature, "Invalid signature")
	}
	metrics.PaymentVerifications.WithLabelValues("valid").Inc()

	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order.IsPaid = true
	order.PaidAt = &now
	order.PaymentResult = &models.PaymentResult{
		ID:           in.RazorpayPaymentID,
		Status:       models.PaymentStatusCompleted,
		UpdateTime:   strconv.FormatInt(now.UnixMilli(), 10),
		EmailAddress: caller.Email,
	}

	if err := s.db.WithContext(ctx).
		Model(order).
		Select("IsPaid", "PaidAt", "PaymentResult").
		Updates(order).Error; err != nil {
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues("paid").Inc()

	s.log.WithFields(logrus.Fields{"order_id": order.ID, "payment_id": in.RazorpayPaymentID}).Info("order paid")
	s.notifyPayment(caller, order)
	return order, nil
}

// MarkDelivered flags the order delivered. Payment state is not checked.
func (s *OrderService) MarkDelivered(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order.IsDelivered = true
	order.DeliveredAt = &now

	if err := s.db.WithContext(ctx).
		Model(order).
		Select("IsDelivered", "DeliveredAt").
		Updates(order).Error; err != nil {
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues("delivered").Inc()

	s.log.WithField("order_id", order.ID).Info("order delivered")
	return order, nil
}

// MarkReturned records a return on a delivered order. A recorded return is
// never overwritten.
func (s *OrderService) MarkReturned(ctx context.Context, id, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(KindValidation, "Return reason is required")
	}

	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkReturnable(order); err != nil {
		return nil, err
	}

	details := &models.ReturnDetails{
		IsReturned:   true,
		ReturnReason: reason,
		ReturnedAt:   s.now(),
	}

	// The guard makes the check-and-set atomic against a concurrent return
	// or a record changed since it was read.
	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_delivered = ? AND return_details IS NULL", order.ID, true).
		Select("ReturnDetails").
		Updates(&models.Order{ReturnDetails: details})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.findOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkReturnable(current); err != nil {
			return nil, err
		}
		return nil, errors.New("return update matched no rows")
	}
	metrics.OrderTransitions.WithLabelValues("returned").Inc()

	order.ReturnDetails = details
	s.log.WithFields(logrus.Fields{"order_id": order.ID, "reason": reason}).Info("order returned")
	return order, nil
}

func checkReturnable(order *models.Order) error {
	if !order.IsDelivered {
		return newError(KindInvalidState, "Order has not been delivered yet")
	}
	if order.IsReturned() {
		return newError(KindInvalidState, "Order has already been returned")
	}
	return nil
}

// DeleteOrder removes the order and its items whatever its state.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return err
	}

	if order.IsPaid || order.IsDelivered {
		s.log.WithFields(logrus.Fields{
			"order_id":     order.ID,
			"is_paid":      order.IsPaid,
			"is_delivered": order.IsDelivered,
		}).Warn("deleting an order that was already paid or delivered")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Order{}, "id = ?", order.ID).Error
	})
	if err != nil {
		return err
	}
	metrics.OrderTransitions.WithLabelValues("deleted").Inc()

	s.log.WithField("order_id", order.ID).Info("order removed")
	return nil
}

func (s *OrderService) findOrder(ctx context.Context, id string) (*models.Order, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, errOrderNotFound
	}

	var order models.Order
	if err := s.db.WithContext(ctx).
		Preload("OrderItems").
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *OrderService) notifyNewOrder(caller *models.User, order *models.Order) {
	if s.notifier == nil {
		return
	}

	items := make([]OrderItemNotification, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		items = append(items, OrderItemNotification{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	addr := order.ShippingAddress
	notification := OrderNotification{
		OrderID:       order.ID.String(),
		CustomerName:  caller.Name,
		CustomerEmail: caller.Email,
		Items:         items,
		TotalPrice:    order.TotalPrice,
		Currency:      s.currency,
		PaymentMethod: order.PaymentMethod,
		ShipTo:        strings.Join(nonEmpty(addr.Address, addr.City, addr.PostalCode, addr.Country), ", "),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyNewOrder(ctx, notification); err != nil {
			s.log.WithField("order_id", notification.OrderID).WithError(err).Warn("new order notification failed")
		}
	}()
}

func (s *OrderService) notifyPayment(caller *models.User, order *models.Order) {
	if s.notifier == nil || order.PaymentResult == nil {
		return
	}

	notification := PaymentSuccessNotification{
		OrderID:    order.ID.String(),
		PaymentID:  order.PaymentResult.ID,
		Amount:     order.TotalPrice,
		Currency:   s.currency,
		PayerEmail: caller.Email,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyPaymentSuccess(ctx, notification); err != nil {
			s.log.WithField("order_id", notification.OrderID).WithError(err).Warn("payment notification failed")
		}
	}()
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
