package models

import "github.com/google/uuid"

// User represents a customer or an administrator.
type User struct {
	BaseModel
	Name            string   `gorm:"not null" json:"name"`
	Email           string   `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash    string   `gorm:"not null" json:"-"`
	IsAdmin         bool     `gorm:"not null;default:false" json:"isAdmin"`
	ShippingAddress *Address `gorm:"type:jsonb;serializer:json" json:"shippingAddress,omitempty"`
}

// UserRef is the owner summary attached to orders. Column tags mirror User
// so migrating either leaves the users table unchanged.
type UserRef struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"_id"`
	Name  string    `gorm:"not null" json:"name"`
	Email string    `gorm:"uniqueIndex;not null" json:"email,omitempty"`
}

// TableName maps UserRef onto the users table.
func (UserRef) TableName() string {
	return "users"
}
