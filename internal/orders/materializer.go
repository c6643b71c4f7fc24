package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	"github.com/scoopsociety/creamery-backend/internal/pricing"
	"github.com/scoopsociety/creamery-backend/pkg/db"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	"github.com/scoopsociety/creamery-backend/pkg/enums"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

// ShippingLineName labels the synthetic shipping order item.
const ShippingLineName = "Shipping"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MaterializerParams groups dependencies for the order materializer.
type MaterializerParams struct {
	AttemptStore      attempts.Store
	OrdersRepo        Repository
	Pricing           *pricing.Calculator
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Materializer turns a succeeded payment intent plus its correlated attempt
// context into exactly one persisted order. The unique checkout_attempt_id
// column is the hard guarantee; the existence pre-check only short-circuits
// the common redelivery case.
type Materializer struct {
	attemptStore attempts.Store
	ordersRepo   Repository
	pricing      *pricing.Calculator
	txRunner     txRunner
	logg         *logger.Logger
}

// NewMaterializer builds the order materializer.
func NewMaterializer(params MaterializerParams) (*Materializer, error) {
	if params.AttemptStore == nil {
		return nil, fmt.Errorf("attempt store required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repo required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Materializer{
		attemptStore: params.AttemptStore,
		ordersRepo:   params.OrdersRepo,
		pricing:      params.Pricing,
		txRunner:     params.TransactionRunner,
		logg:         params.Logger,
	}, nil
}

// HandlePaymentIntentSucceeded materializes an order for the attempt
// referenced by the intent metadata. Correlation losses are absorbed after
// logging; upstream and persistence failures propagate so the delivery is
// retried.
func (m *Materializer) HandlePaymentIntentSucceeded(ctx context.Context, intent *stripe.PaymentIntent) error {
	if intent == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent required")
	}

	attemptID := intent.Metadata[attempts.MetadataKey]
	if attemptID == "" {
		// Not a session this system opened.
		m.logg.Info(ctx, "payment intent without attempt metadata, ignoring")
		return nil
	}
	ctx = m.logg.WithAttemptID(ctx, attemptID)

	attempt, err := m.attemptStore.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, attempts.ErrNotFound) {
			m.logg.Error(ctx, "checkout attempt missing, order cannot be materialized", err)
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout attempt")
	}

	if attempt.HasSubscriptionItem() {
		// Subscription carts are materialized exclusively from the
		// setup-intent path.
		m.logg.Info(ctx, "attempt contains subscription items, skipping order materialization")
		return nil
	}

	quote, err := m.pricing.Quote(ctx, attempt.CartItems)
	if err != nil {
		return err
	}

	existing, err := m.ordersRepo.FindByCheckoutAttemptID(ctx, attemptID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing order")
	}

	if existing == nil {
		order := buildOrder(attempt, quote, intent.ID, nil)
		err = m.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			return m.ordersRepo.WithTx(tx).Create(ctx, order)
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				// A concurrent redelivery won the race.
				m.logg.Info(ctx, "order already materialized for attempt")
			} else {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
			}
		} else {
			m.logg.Info(ctx, "order materialized")
		}
	} else {
		m.logg.Info(ctx, "order already exists for attempt, skipping creation")
	}

	if err := m.attemptStore.Delete(ctx, attemptID); err != nil {
		// The order exists; a lingering attempt record is harmless and the
		// store TTL reclaims it.
		m.logg.Warn(ctx, "failed to delete checkout attempt after materialization")
	}
	return nil
}

// HandlePaymentIntentFailed records the failure. No order exists for a failed
// intent, so there is nothing to roll back.
func (m *Materializer) HandlePaymentIntentFailed(ctx context.Context, intent *stripe.PaymentIntent) error {
	if intent == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent required")
	}
	if attemptID := intent.Metadata[attempts.MetadataKey]; attemptID != "" {
		ctx = m.logg.WithAttemptID(ctx, attemptID)
	}
	m.logg.Warn(ctx, "payment intent failed")
	return nil
}

// buildOrder assembles the order row plus its line items from the attempt
// context and the recomputed quote. A synthetic shipping line is added only
// when shipping was actually charged.
func buildOrder(attempt *attempts.CheckoutAttempt, quote pricing.Quote, paymentIntentID string, subscriptionID *uuid.UUID) *models.Order {
	attemptID := attempt.AttemptID
	order := &models.Order{
		CheckoutAttemptID: &attemptID,
		UserID:            attempt.UserID,
		SubscriptionID:    subscriptionID,
		TotalAmount:       quote.Total,
		Status:            enums.OrderStatusPaid,
		ContactEmail:      attempt.Contact.Email,
		ContactPhone:      attempt.Contact.Phone,
		ShipFullName:      attempt.ShippingAddress.FullName,
		ShipAddress1:      attempt.ShippingAddress.Address1,
		ShipAddress2:      attempt.ShippingAddress.Address2,
		ShipCity:          attempt.ShippingAddress.City,
		ShipState:         attempt.ShippingAddress.State,
		ShipPostalCode:    attempt.ShippingAddress.PostalCode,
		ShipCountry:       attempt.ShippingAddress.Country,
	}
	if paymentIntentID != "" {
		order.StripePaymentIntentID = &paymentIntentID
	}

	for _, item := range attempt.CartItems {
		productID := item.ProductID
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   &productID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	if quote.Shipping.IsPositive() {
		order.Items = append(order.Items, models.OrderItem{
			ProductName: ShippingLineName,
			Quantity:    1,
			UnitPrice:   quote.Shipping,
		})
	}
	return order
}

// BuildFromAttempt exposes order assembly to the subscription materializer,
// which persists the first order of a new subscription inside its own
// transaction.
func BuildFromAttempt(attempt *attempts.CheckoutAttempt, quote pricing.Quote, paymentIntentID string, subscriptionID *uuid.UUID) *models.Order {
	return buildOrder(attempt, quote, paymentIntentID, subscriptionID)
}
