package attempts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scoopsociety/creamery-backend/pkg/enums"
	"github.com/scoopsociety/creamery-backend/pkg/types"
)

// MetadataKey is the processor-metadata field that carries the attempt id on
// payment and setup intents. It is the only link between a processor event
// and the attempt context.
const MetadataKey = "checkout_attempt_id"

// CartItem is one priced line of a checkout attempt. Unit prices are resolved
// from the catalog at session-initiation time and are the authoritative prices
// used when the attempt is materialized into an order.
type CartItem struct {
	ProductID         uuid.UUID                `json:"product_id"`
	ProductName       string                   `json:"product_name"`
	Quantity          int                      `json:"quantity"`
	UnitPrice         decimal.Decimal          `json:"unit_price"`
	IsSubscription    bool                     `json:"is_subscription"`
	RecurringInterval *enums.RecurringInterval `json:"recurring_interval,omitempty"`
	StripePriceID     string                   `json:"stripe_price_id,omitempty"`
}

// CheckoutAttempt captures a shopper's purchase intent between session
// initiation and the asynchronous payment confirmation. The attempt id is the
// sole correlation key between the processor session and the eventual order.
type CheckoutAttempt struct {
	AttemptID       string                `json:"attempt_id"`
	UserID          *uuid.UUID            `json:"user_id,omitempty"`
	CartItems       []CartItem            `json:"cart_items"`
	Contact         types.ContactInfo     `json:"contact"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time             `json:"created_at"`
}

// HasSubscriptionItem reports whether any cart line is a recurring product.
// Attempts containing one are materialized exclusively through the
// setup-intent path.
func (a *CheckoutAttempt) HasSubscriptionItem() bool {
	if a == nil {
		return false
	}
	for _, item := range a.CartItems {
		if item.IsSubscription {
			return true
		}
	}
	return false
}

// SubscriptionItems returns only the recurring cart lines.
func (a *CheckoutAttempt) SubscriptionItems() []CartItem {
	if a == nil {
		return nil
	}
	var items []CartItem
	for _, item := range a.CartItems {
		if item.IsSubscription {
			items = append(items, item)
		}
	}
	return items
}

// NewAttemptID generates a fresh opaque attempt identifier.
func NewAttemptID() string {
	return uuid.NewString()
}
