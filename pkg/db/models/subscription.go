package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/scoopsociety/creamery-backend/pkg/enums"
)

// Subscription persists Stripe subscription state per shopper. The unique
// stripe_subscription_id is the reconciliation key for every lifecycle event;
// checkout_attempt_id additionally dedupes the initial materialization.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	CheckoutAttemptID    *string                  `gorm:"column:checkout_attempt_id;unique"`
	UserID               *uuid.UUID               `gorm:"column:user_id;type:uuid;index"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	PriceID              *string                  `gorm:"column:price_id"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CollectionPaused     bool                     `gorm:"column:collection_paused;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	Metadata             json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
