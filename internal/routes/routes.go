package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/services"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Auth   *services.AuthService
	Orders *services.OrderService
	Users  *services.UserService
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.Auth)
	orderHandler := handlers.NewOrderHandler(deps.Orders)
	profileHandler := handlers.NewProfileHandler(deps.Users)
	adminHandler := handlers.NewAdminHandler(deps.Users)

	protect := middleware.Protect(deps.Auth)
	admin := middleware.AdminOnly()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("API is running...")
	})
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api")

	// Order routes; myorders must precede /:id
	orders := api.Group("/orders")
	orders.Post("/", protect, orderHandler.CreateOrder)
	orders.Get("/", protect, admin, orderHandler.ListOrders)
	orders.Get("/myorders", protect, orderHandler.ListMyOrders)
	orders.Get("/:id", protect, orderHandler.GetOrder)
	orders.Get("/:id/razorpay", protect, orderHandler.CreatePayment)
	orders.Put("/:id/pay", protect, orderHandler.PayOrder)
	orders.Put("/:id/deliver", protect, admin, orderHandler.DeliverOrder)
	orders.Put("/:id/return", protect, orderHandler.ReturnOrder)
	orders.Delete("/:id", protect, admin, orderHandler.DeleteOrder)

	// User routes
	users := api.Group("/users")
	users.Post("/login", authHandler.Login)
	users.Post("/", authHandler.Register)
	users.Get("/profile", protect, profileHandler.GetProfile)
	users.Get("/", protect, admin, adminHandler.ListUsers)
	users.Delete("/:id", protect, admin, adminHandler.DeleteUser)
}
