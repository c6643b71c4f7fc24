package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scoopsociety/creamery-backend/pkg/enums"
)

// Product is a catalog entry. Unit prices are resolved from here at checkout
// time; client-supplied prices are never trusted.
type Product struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string                  `gorm:"column:name;not null"`
	Description       string                  `gorm:"column:description"`
	UnitPrice         decimal.Decimal         `gorm:"column:unit_price;type:numeric(12,2);not null"`
	IsSubscription    bool                    `gorm:"column:is_subscription;not null;default:false"`
	RecurringInterval *enums.RecurringInterval `gorm:"column:recurring_interval"`
	StripePriceID     *string                 `gorm:"column:stripe_price_id"`
	Available         bool                    `gorm:"column:available;not null;default:true"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
