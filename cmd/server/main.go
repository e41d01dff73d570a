package main

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/logger"
	"github.com/example/storefront/internal/routes"
	"github.com/example/storefront/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	db := database.Connect(cfg.DatabaseURL)

	if cfg.FirebaseProjectID != "" {
		if _, err := services.InitIdentityVerifier(func() (services.IdentityVerifier, error) {
			return services.NewFirebaseVerifier(cfg.FirebaseProjectID, cfg.FirebaseCertsURL)
		}); err != nil {
			log.WithError(err).Fatal("identity verifier init failed")
		}
	} else {
		log.Warn("FIREBASE_PROJECT_ID not set, federated login disabled")
	}
	verifier := services.IdentityVerifierInstance()

	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		log.Warn("Razorpay credentials not set, payments will fail")
	}
	gateway := services.NewRazorpayClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	telegram := services.NewTelegramService(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramAdminChat, log)

	app := fiber.New(fiber.Config{
		AppName:      "Storefront API",
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	routes.Register(app, routes.Dependencies{
		Auth:   services.NewAuthService(db, verifier, cfg.JWTSecret, cfg.TokenExpires(), cfg.IdentityTimeout, log),
		Orders: services.NewOrderService(db, gateway, telegram, cfg.PaymentCurrency, cfg.GatewayTimeout, log),
		Users:  services.NewUserService(db, log),
	})

	log.Infof("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.WithError(err).Fatal("fiber.Listen error")
	}
}
