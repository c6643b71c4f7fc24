package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scoopsociety/creamery-backend/pkg/enums"
)

// Order is a materialized purchase. The unique (nullable) checkout_attempt_id
// is what makes order creation idempotent under webhook redelivery: a second
// insert for the same attempt fails at the storage layer. Renewal orders have
// no originating attempt and leave the column null; their storage-level guard
// is the unique stripe_invoice_id instead.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CheckoutAttemptID     *string           `gorm:"column:checkout_attempt_id;unique"`
	UserID                *uuid.UUID        `gorm:"column:user_id;type:uuid;index"`
	SubscriptionID        *uuid.UUID        `gorm:"column:subscription_id;type:uuid;index"`
	StripePaymentIntentID *string           `gorm:"column:stripe_payment_intent_id;index"`
	StripeInvoiceID       *string           `gorm:"column:stripe_invoice_id;unique"`
	TotalAmount           decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Status                enums.OrderStatus `gorm:"column:status;not null;default:'paid'"`

	ContactEmail string `gorm:"column:contact_email;not null"`
	ContactPhone string `gorm:"column:contact_phone"`

	ShipFullName   string `gorm:"column:ship_full_name"`
	ShipAddress1   string `gorm:"column:ship_address1"`
	ShipAddress2   string `gorm:"column:ship_address2"`
	ShipCity       string `gorm:"column:ship_city"`
	ShipState      string `gorm:"column:ship_state"`
	ShipPostalCode string `gorm:"column:ship_postal_code"`
	ShipCountry    string `gorm:"column:ship_country"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is a line on an order. ProductID is null for synthetic lines
// such as shipping.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   *uuid.UUID      `gorm:"column:product_id;type:uuid"`
	ProductName string          `gorm:"column:product_name;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
