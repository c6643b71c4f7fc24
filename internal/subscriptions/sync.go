package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/scoopsociety/creamery-backend/internal/orders"
	"github.com/scoopsociety/creamery-backend/pkg/db"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	"github.com/scoopsociety/creamery-backend/pkg/enums"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

const (
	refetchBaseDelay  = 200 * time.Millisecond
	refetchMaxRetries = 3
)

// Billing reasons that mark an invoice as a renewal rather than the first
// charge of a new subscription.
var renewalBillingReasons = map[stripe.InvoiceBillingReason]bool{
	stripe.InvoiceBillingReasonSubscriptionCycle:  true,
	stripe.InvoiceBillingReasonSubscriptionUpdate: true,
}

// SyncParams groups dependencies for the lifecycle sync.
type SyncParams struct {
	SubscriptionsRepo Repository
	OrdersRepo        orders.Repository
	Stripe            StripeSubscriptionClient
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Sync reconciles processor lifecycle events into local subscription and
// order state. Every handler is independently idempotent-safe: state comes
// from the processor's latest report, never from event arrival order.
type Sync struct {
	subsRepo   Repository
	ordersRepo orders.Repository
	stripe     StripeSubscriptionClient
	txRunner   txRunner
	logg       *logger.Logger
}

// NewSync builds the lifecycle sync.
func NewSync(params SyncParams) (*Sync, error) {
	if params.SubscriptionsRepo == nil {
		return nil, fmt.Errorf("subscriptions repo required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repo required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Sync{
		subsRepo:   params.SubscriptionsRepo,
		ordersRepo: params.OrdersRepo,
		stripe:     params.Stripe,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
	}, nil
}

// HandleSubscriptionUpdated refreshes the local row with the processor's
// state. A missing local row is logged and absorbed; creation belongs to the
// materializer alone.
func (s *Sync) HandleSubscriptionUpdated(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	ctx = s.logg.WithSubscriptionID(ctx, stripeSub.ID)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subsRepo.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			s.logg.Warn(ctx, "no local subscription for lifecycle event")
			return nil
		}
		if err := ApplyStripe(stored, stripeSub); err != nil {
			return err
		}
		return repo.Update(ctx, stored)
	})
}

// HandleSubscriptionDeleted marks the local row canceled.
func (s *Sync) HandleSubscriptionDeleted(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	ctx = s.logg.WithSubscriptionID(ctx, stripeSub.ID)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subsRepo.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			s.logg.Warn(ctx, "no local subscription for cancellation event")
			return nil
		}
		if err := ApplyStripe(stored, stripeSub); err != nil {
			return err
		}
		stored.Status = enums.SubscriptionStatusCanceled
		stored.CancelAtPeriodEnd = true
		if stored.CanceledAt == nil {
			now := time.Now().UTC()
			stored.CanceledAt = &now
		}
		return repo.Update(ctx, stored)
	})
}

// HandleInvoicePaid processes a paid invoice. Renewals re-fetch the
// subscription from the processor and then, in one transaction, advance the
// local subscription and insert the renewal order. A failure on either write
// rolls back both and propagates so the delivery is retried.
func (s *Sync) HandleInvoicePaid(ctx context.Context, invoice *stripe.Invoice, subscriptionID string) error {
	if invoice == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice required")
	}
	if subscriptionID == "" {
		s.logg.Warn(ctx, "paid invoice without subscription reference, ignoring")
		return nil
	}
	ctx = s.logg.WithSubscriptionID(ctx, subscriptionID)

	if !renewalBillingReasons[invoice.BillingReason] {
		// First-period invoices are covered by the setup-intent path.
		s.logg.Info(ctx, "non-renewal invoice acknowledged")
		return nil
	}

	stripeSub, err := s.refetchSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subsRepo.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			s.logg.Warn(ctx, "no local subscription for renewal invoice")
			return nil
		}

		if err := ApplyStripe(stored, stripeSub); err != nil {
			return err
		}
		if err := repo.Update(ctx, stored); err != nil {
			return err
		}

		order := buildRenewalOrder(invoice, stored)
		return s.ordersRepo.WithTx(tx).Create(ctx, order)
	})
	if db.IsUniqueViolation(err, "") {
		// The order row itself deduplicates renewals by invoice id, so a
		// redelivery that outlives the event-id claim is still absorbed.
		s.logg.Info(ctx, "renewal order already recorded for invoice")
		return nil
	}
	return err
}

// HandleInvoicePaymentFailed moves the subscription to past_due.
func (s *Sync) HandleInvoicePaymentFailed(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		s.logg.Warn(ctx, "failed invoice without subscription reference, ignoring")
		return nil
	}
	ctx = s.logg.WithSubscriptionID(ctx, subscriptionID)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subsRepo.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if stored == nil {
			s.logg.Warn(ctx, "no local subscription for failed invoice")
			return nil
		}
		stored.Status = enums.SubscriptionStatusPastDue
		return repo.Update(ctx, stored)
	})
}

// refetchSubscription pulls the authoritative subscription state from the
// processor, retrying transient failures before giving up and letting the
// delivery be redelivered.
func (s *Sync) refetchSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	var stripeSub *stripe.Subscription
	backoff := retry.WithMaxRetries(refetchMaxRetries, retry.NewExponential(refetchBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sub, err := s.stripe.GetSubscription(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
		if err != nil {
			return retry.RetryableError(err)
		}
		stripeSub = sub
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return stripeSub, nil
}

// buildRenewalOrder mirrors the invoice's non-zero lines into order items.
// Renewal orders have no originating attempt, so checkout_attempt_id stays
// null; the order hangs off the subscription and keeps the invoice id as
// its uniqueness key.
func buildRenewalOrder(invoice *stripe.Invoice, sub *models.Subscription) *models.Order {
	order := &models.Order{
		UserID:          sub.UserID,
		SubscriptionID:  &sub.ID,
		StripeInvoiceID: &invoice.ID,
		TotalAmount:     decimal.New(invoice.AmountPaid, -2),
		Status:          enums.OrderStatusPaid,
		ContactEmail:    invoice.CustomerEmail,
	}

	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line == nil || line.Amount == 0 {
				continue
			}
			quantity := int(line.Quantity)
			if quantity <= 0 {
				quantity = 1
			}
			unitPrice := decimal.New(line.Amount, -2).
				DivRound(decimal.NewFromInt(int64(quantity)), 2)
			order.Items = append(order.Items, models.OrderItem{
				ProductName: line.Description,
				Quantity:    quantity,
				UnitPrice:   unitPrice,
			})
		}
	}
	return order
}
