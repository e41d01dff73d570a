package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/utils"
)

// SampleUser is a seed account with its plaintext password.
type SampleUser struct {
	Name     string
	Email    string
	Password string
	IsAdmin  bool
}

// SampleUsers are inserted by Import.
var SampleUsers = []SampleUser{
	{Name: "John Doe", Email: "john@example.com", Password: "123456"},
	{Name: "Jane Doe (Admin)", Email: "jane@example.com", Password: "abcdef", IsAdmin: true},
	{Name: "Test User", Email: "test@example.com", Password: "password"},
}

// Import wipes orders and users and inserts SampleUsers.
func Import(conn *gorm.DB) ([]models.User, error) {
	var created []models.User
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := destroy(tx); err != nil {
			return err
		}

		created = make([]models.User, 0, len(SampleUsers))
		for _, su := range SampleUsers {
			hash, err := utils.HashPassword(su.Password)
			if err != nil {
				return fmt.Errorf("hash password for %s: %w", su.Email, err)
			}
			created = append(created, models.User{
				Name:         su.Name,
				Email:        su.Email,
				PasswordHash: hash,
				IsAdmin:      su.IsAdmin,
			})
		}

		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Destroy removes every order, order item and user.
func Destroy(conn *gorm.DB) error {
	return conn.Transaction(destroy)
}

func destroy(tx *gorm.DB) error {
	for _, model := range []interface{}{&models.OrderItem{}, &models.Order{}, &models.User{}} {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}
