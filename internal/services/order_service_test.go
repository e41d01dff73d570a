package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/logger"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/testutil"
)

const testSecret = "rzp_test_secret"

type fakeGateway struct {
	mu       sync.Mutex
	requests []PaymentIntentRequest
	err      error
	delay    time.Duration
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &PaymentIntent{ID: "order_" + req.Receipt[:8], Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (g *fakeGateway) VerifySignature(intentID, paymentID, signature string) bool {
	return NewRazorpayClient("", "key", testSecret).VerifySignature(intentID, paymentID, signature)
}

type recordingNotifier struct {
	orders   chan OrderNotification
	payments chan PaymentSuccessNotification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		orders:   make(chan OrderNotification, 8),
		payments: make(chan PaymentSuccessNotification, 8),
	}
}

func (n *recordingNotifier) NotifyNewOrder(_ context.Context, order OrderNotification) error {
	n.orders <- order
	return nil
}

func (n *recordingNotifier) NotifyPaymentSuccess(_ context.Context, payment PaymentSuccessNotification) error {
	n.payments <- payment
	return nil
}

type orderFixture struct {
	db       *gorm.DB
	svc      *OrderService
	gateway  *fakeGateway
	notifier *recordingNotifier
	customer *models.User
	admin    *models.User
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	db := testutil.NewDB(t)
	f := &orderFixture{
		db:       db,
		gateway:  &fakeGateway{},
		notifier: newRecordingNotifier(),
		customer: testutil.CreateUser(t, db, "John Doe", "john@example.com", "123456", false),
		admin:    testutil.CreateUser(t, db, "Jane Doe", "jane@example.com", "abcdef", true),
	}
	f.svc = NewOrderService(db, f.gateway, f.notifier, "INR", time.Second, logger.Discard())
	return f
}

func sampleOrderInput() PlaceOrderInput {
	return PlaceOrderInput{
		OrderItems: []OrderItemInput{
			{ID: "prod-1", Name: "Airpods", Image: "/images/airpods.jpg", Qty: 2, Price: 89.99},
			{Product: "prod-2", Name: "Phone", Qty: 1, Price: 599.99},
		},
		ShippingAddress: models.Address{Address: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"},
		PaymentMethod:   "Razorpay",
		ItemsPrice:      779.97,
		TaxPrice:        117,
		ShippingPrice:   0,
		TotalPrice:      896.97,
	}
}

func TestPlaceOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)

	stored, err := f.svc.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)

	require.Len(t, stored.OrderItems, 2)
	assert.Equal(t, 896.97, stored.TotalPrice)
	assert.Equal(t, 779.97, stored.ItemsPrice)
	assert.Equal(t, 117.0, stored.TaxPrice)
	assert.False(t, stored.IsPaid)
	assert.False(t, stored.IsDelivered)
	assert.Nil(t, stored.PaidAt)
	assert.Nil(t, stored.ReturnDetails)
	assert.Equal(t, "Pune", stored.ShippingAddress.City)

	products := map[string]int{}
	for _, item := range stored.OrderItems {
		products[item.ProductID] = item.Quantity
	}
	assert.Equal(t, map[string]int{"prod-1": 2, "prod-2": 1}, products)

	require.NotNil(t, stored.User)
	assert.Equal(t, f.customer.ID, stored.User.ID)
	assert.Equal(t, "John Doe", stored.User.Name)
	assert.Equal(t, "john@example.com", stored.User.Email)

	var owner models.User
	require.NoError(t, f.db.First(&owner, "id = ?", f.customer.ID).Error)
	require.NotNil(t, owner.ShippingAddress)
	assert.Equal(t, "1 Main St", owner.ShippingAddress.Address)

	select {
	case n := <-f.notifier.orders:
		assert.Equal(t, order.ID.String(), n.OrderID)
		assert.Equal(t, "john@example.com", n.CustomerEmail)
		assert.Equal(t, "1 Main St, Pune, 411001, IN", n.ShipTo)
		assert.Len(t, n.Items, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no order notification")
	}
}

func TestPlaceOrderSurvivesAddressUpdateFailure(t *testing.T) {
	f := newOrderFixture(t)
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_users_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			_ = tx.AddError(errors.New("users table is read-only"))
		}
	}))

	order, err := f.svc.PlaceOrder(context.Background(), f.customer, sampleOrderInput())
	require.NoError(t, err)
	assert.Nil(t, f.customer.ShippingAddress)

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var owner models.User
	require.NoError(t, f.db.First(&owner, "id = ?", f.customer.ID).Error)
	assert.Nil(t, owner.ShippingAddress)
}

func TestPlaceOrderRejectsEmptyItems(t *testing.T) {
	f := newOrderFixture(t)

	in := sampleOrderInput()
	in.OrderItems = nil
	_, err := f.svc.PlaceOrder(context.Background(), f.customer, in)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newOrderFixture(t)

	for _, id := range []string{"not-a-uuid", "1b4e28ba-2fa1-11d2-883f-0016d3cca427"} {
		_, err := f.svc.GetOrder(context.Background(), id)
		assert.Equal(t, KindNotFound, KindOf(err), id)
	}
}

func TestListOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(ctx, f.admin, sampleOrderInput())
	require.NoError(t, err)

	mine, err := f.svc.ListMyOrders(ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.customer.ID, mine[0].UserID)
	assert.Len(t, mine[0].OrderItems, 2)

	all, err := f.svc.ListAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, o := range all {
		require.NotNil(t, o.User)
		assert.NotEmpty(t, o.User.Name)
		assert.Empty(t, o.User.Email)
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)

	intent, err := f.svc.CreatePaymentIntent(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(89697), intent.Amount)
	assert.NotEmpty(t, intent.OrderID)

	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, "INR", f.gateway.requests[0].Currency)
	assert.Equal(t, order.ID.String(), f.gateway.requests[0].Receipt)
}

func TestCreatePaymentIntentFailures(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentIntent(ctx, "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, KindNotFound, KindOf(err))

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)

	f.gateway.err = errors.New("razorpay: upstream exploded with secret detail")
	_, err = f.svc.CreatePaymentIntent(ctx, order.ID.String())
	require.Error(t, err)
	assert.Equal(t, KindGateway, KindOf(err))
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "Something went wrong with Razorpay", svcErr.Message)

	f.gateway.err = nil
	f.gateway.delay = time.Second
	f.svc.gatewayTimeout = 20 * time.Millisecond
	_, err = f.svc.CreatePaymentIntent(ctx, order.ID.String())
	assert.Equal(t, KindGatewayTimeout, KindOf(err))
	assert.Equal(t, 504, KindOf(err).Status())
}

func TestConfirmPayment(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)

	paid, err := f.svc.ConfirmPayment(ctx, f.customer, order.ID.String(), PaymentConfirmation{
		RazorpayOrderID:   "order_X",
		RazorpayPaymentID: "pay_Y",
		RazorpaySignature: PaymentSignature(testSecret, "order_X", "pay_Y"),
	})
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)

	stored, err := f.svc.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.True(t, stored.IsPaid)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, fixed.Equal(*stored.PaidAt))
	require.NotNil(t, stored.PaymentResult)
	assert.Equal(t, models.PaymentResult{
		ID:           "pay_Y",
		Status:       "COMPLETED",
		UpdateTime:   strconv.FormatInt(fixed.UnixMilli(), 10),
		EmailAddress: "john@example.com",
	}, *stored.PaymentResult)

	select {
	case n := <-f.notifier.payments:
		assert.Equal(t, "pay_Y", n.PaymentID)
		assert.Equal(t, 896.97, n.Amount)
	case <-time.After(2 * time.Second):
		t.Fatal("no payment notification")
	}
}

func TestConfirmPaymentRejectsMutatedSignature(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)

	good := PaymentSignature(testSecret, "order_X", "pay_Y")
	for _, i := range []int{0, len(good) / 2, len(good) - 1} {
		bad := []byte(good)
		if bad[i] == '0' {
			bad[i] = '1'
		} else {
			bad[i] = '0'
		}

		_, err := f.svc.ConfirmPayment(ctx, f.customer, order.ID.String(), PaymentConfirmation{
			RazorpayOrderID:   "order_X",
			RazorpayPaymentID: "pay_Y",
			RazorpaySignature: string(bad),
		})
		require.Error(t, err)
		assert.Equal(t, KindInvalidSignature, KindOf(err))
	}

	stored, err := f.svc.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.False(t, stored.IsPaid)
	assert.Nil(t, stored.PaymentResult)
}

func TestConfirmPaymentUnknownOrder(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.ConfirmPayment(context.Background(), f.customer, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", PaymentConfirmation{
		RazorpayOrderID:   "order_X",
		RazorpayPaymentID: "pay_Y",
		RazorpaySignature: PaymentSignature(testSecret, "order_X", "pay_Y"),
	})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReturnLifecycle(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)
	id := order.ID.String()

	_, err = f.svc.MarkReturned(ctx, id, "Wrong size")
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Contains(t, err.Error(), "not been delivered")

	delivered, err := f.svc.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.True(t, delivered.IsDelivered)
	require.NotNil(t, delivered.DeliveredAt)

	_, err = f.svc.MarkReturned(ctx, id, "   ")
	assert.Equal(t, KindValidation, KindOf(err))

	returned, err := f.svc.MarkReturned(ctx, id, "Wrong size")
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnDetails)
	assert.True(t, returned.ReturnDetails.IsReturned)

	stored, err := f.svc.GetOrder(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.ReturnDetails)
	assert.Equal(t, "Wrong size", stored.ReturnDetails.ReturnReason)
	assert.True(t, stored.IsDelivered)

	_, err = f.svc.MarkReturned(ctx, id, "Changed my mind")
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Contains(t, err.Error(), "already been returned")

	stored, err = f.svc.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Wrong size", stored.ReturnDetails.ReturnReason)
}

func TestMarkDeliveredNotFound(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.MarkDelivered(context.Background(), "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDeleteOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, f.customer, sampleOrderInput())
	require.NoError(t, err)
	_, err = f.svc.MarkDelivered(ctx, order.ID.String())
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID.String()))

	_, err = f.svc.GetOrder(ctx, order.ID.String())
	assert.Equal(t, KindNotFound, KindOf(err))

	var items int64
	require.NoError(t, f.db.Model(&models.OrderItem{}).Where("order_id = ?", order.ID).Count(&items).Error)
	assert.Zero(t, items)

	err = f.svc.DeleteOrder(ctx, order.ID.String())
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestNotifierFailureDoesNotFailOrder(t *testing.T) {
	db := testutil.NewDB(t)
	customer := testutil.CreateUser(t, db, "John Doe", "john@example.com", "123456", false)
	svc := NewOrderService(db, &fakeGateway{}, failingNotifier{}, "", time.Second, logger.Discard())

	order, err := svc.PlaceOrder(context.Background(), customer, sampleOrderInput())
	require.NoError(t, err)
	assert.NotEqual(t, order.ID.String(), "")
	assert.Equal(t, "INR", svc.currency)
}

type failingNotifier struct{}

func (failingNotifier) NotifyNewOrder(context.Context, OrderNotification) error {
	return errors.New("telegram down")
}

func (failingNotifier) NotifyPaymentSuccess(context.Context, PaymentSuccessNotification) error {
	return errors.New("telegram down")
}
