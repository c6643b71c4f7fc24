package subscriptions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	"github.com/scoopsociety/creamery-backend/pkg/enums"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
)

// BuildFromStripe maps a processor subscription into a fresh local row. The
// processor is the source of truth for status and billing period; callers
// never fill those from event payloads directly.
func BuildFromStripe(stripeSub *stripe.Subscription, userID *uuid.UUID, attemptID string) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	metadata, err := marshalMetadata(stripeSub.Metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	sub := &models.Subscription{
		StripeSubscriptionID: stripeSub.ID,
		UserID:               userID,
		Status:               mapStatus(stripeSub.Status),
		PriceID:              priceIDPtr(stripeSub),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CollectionPaused:     stripeSub.PauseCollection != nil,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
		Metadata:             metadata,
	}
	if attemptID != "" {
		sub.CheckoutAttemptID = &attemptID
	}

	start, end := billingPeriod(stripeSub)
	sub.CurrentPeriodStart = toTimePtr(start)
	sub.CurrentPeriodEnd = toTime(end)
	return sub, nil
}

// ApplyStripe refreshes the stored row with the processor's latest state.
// Last write wins; concurrent events converge on whatever the processor
// reported most recently.
func ApplyStripe(target *models.Subscription, stripeSub *stripe.Subscription) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	metadata, err := marshalMetadata(stripeSub.Metadata)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	target.StripeSubscriptionID = stripeSub.ID
	target.Status = mapStatus(stripeSub.Status)
	if price := priceIDPtr(stripeSub); price != nil {
		target.PriceID = price
	}
	start, end := billingPeriod(stripeSub)
	target.CurrentPeriodStart = toTimePtr(start)
	if !toTime(end).IsZero() {
		target.CurrentPeriodEnd = toTime(end)
	}
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CollectionPaused = stripeSub.PauseCollection != nil
	target.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	target.Metadata = metadata
	return nil
}

func mapStatus(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	if parsed, err := enums.ParseSubscriptionStatus(string(raw)); err == nil {
		return parsed
	}
	// Unknown vocabulary from the processor; treat as active rather than
	// wedging the sync.
	return enums.SubscriptionStatusActive
}

// billingPeriod reads the current period from the first subscription item,
// where the processor reports it.
func billingPeriod(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func priceIDPtr(sub *stripe.Subscription) *string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return nil
	}
	if sub.Items.Data[0].Price == nil || sub.Items.Data[0].Price.ID == "" {
		return nil
	}
	id := sub.Items.Data[0].Price.ID
	return &id
}

func marshalMetadata(metadata map[string]string) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
