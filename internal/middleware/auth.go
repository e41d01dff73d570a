package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/services"
)

const userContextKey = "currentUser"

// Protect resolves the bearer credential into the current user.
func Protect(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := services.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}

		user, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.Locals(userContextKey, user)
		return c.Next()
	}
}

// AdminOnly must run after Protect.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := services.RequireAdmin(CurrentUser(c)); err != nil {
			return err
		}
		return c.Next()
	}
}

// CurrentUser returns the user stored by Protect, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(userContextKey).(*models.User)
	return user
}
