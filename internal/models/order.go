package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatusCompleted is recorded once a gateway signature has been verified.
const PaymentStatusCompleted = "COMPLETED"

// Order is a placed purchase. Prices are a snapshot of what the client
// submitted at checkout and are never recomputed from the items.
type Order struct {
	BaseModel
	UserID          uuid.UUID      `gorm:"type:uuid;index;not null" json:"userId"`
	User            *UserRef       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	OrderItems      []OrderItem    `json:"orderItems"`
	ShippingAddress Address        `gorm:"type:jsonb;serializer:json" json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	ItemsPrice      float64        `gorm:"not null;default:0" json:"itemsPrice"`
	TaxPrice        float64        `gorm:"not null;default:0" json:"taxPrice"`
	ShippingPrice   float64        `gorm:"not null;default:0" json:"shippingPrice"`
	TotalPrice      float64        `gorm:"not null;default:0" json:"totalPrice"`
	IsPaid          bool           `gorm:"not null;default:false" json:"isPaid"`
	PaidAt          *time.Time     `json:"paidAt,omitempty"`
	PaymentResult   *PaymentResult `gorm:"type:jsonb;serializer:json" json:"paymentResult,omitempty"`
	IsDelivered     bool           `gorm:"not null;default:false" json:"isDelivered"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	ReturnDetails   *ReturnDetails `gorm:"type:jsonb;serializer:json" json:"returnDetails,omitempty"`
}

// IsReturned reports whether a return has been recorded.
func (o *Order) IsReturned() bool {
	return o.ReturnDetails != nil && o.ReturnDetails.IsReturned
}

// OrderItem is a line item snapshot, decoupled from the live product.
type OrderItem struct {
	BaseModel
	OrderID   uuid.UUID `gorm:"type:uuid;index;not null" json:"-"`
	ProductID string    `gorm:"index" json:"product"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	Quantity  int       `gorm:"not null" json:"qty"`
	Price     float64   `gorm:"not null" json:"price"`
}

// PaymentResult records the gateway transaction that settled an order.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// ReturnDetails is set once, when a delivered order is returned.
type ReturnDetails struct {
	IsReturned   bool      `json:"isReturned"`
	ReturnReason string    `json:"returnReason"`
	ReturnedAt   time.Time `json:"returnedAt"`
}
