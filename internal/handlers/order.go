package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/services"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrder allows authenticated users to place an order.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req services.PlaceOrderInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}

	order, err := h.orders.PlaceOrder(c.UserContext(), middleware.CurrentUser(c), req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

// GetOrder returns a single order with its owner.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.orders.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(order)
}

// ListMyOrders returns orders of the current user.
func (h *OrderHandler) ListMyOrders(c *fiber.Ctx) error {
	orders, err := h.orders.ListMyOrders(c.UserContext(), middleware.CurrentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(orders)
}

// ListOrders returns every order. Admin only.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	orders, err := h.orders.ListAllOrders(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(orders)
}

// CreatePayment opens a Razorpay order for checkout.
func (h *OrderHandler) CreatePayment(c *fiber.Ctx) error {
	intent, err := h.orders.CreatePaymentIntent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(intent)
}

// PayOrder verifies the Razorpay signature and marks the order paid.
func (h *OrderHandler) PayOrder(c *fiber.Ctx) error {
	var req services.PaymentConfirmation
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}

	order, err := h.orders.ConfirmPayment(c.UserContext(), middleware.CurrentUser(c), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

// DeliverOrder marks the order delivered. Admin only.
func (h *OrderHandler) DeliverOrder(c *fiber.Ctx) error {
	order, err := h.orders.MarkDelivered(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(order)
}

type returnOrderRequest struct {
	ReturnReason string `json:"returnReason"`
}

// ReturnOrder records a return on a delivered order.
func (h *OrderHandler) ReturnOrder(c *fiber.Ctx) error {
	var req returnOrderRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest("Invalid request body")
		}
	}

	order, err := h.orders.MarkReturned(c.UserContext(), c.Params("id"), req.ReturnReason)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

// DeleteOrder removes an order. Admin only.
func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	if err := h.orders.DeleteOrder(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Order removed"})
}
