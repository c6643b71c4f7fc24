package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	"github.com/scoopsociety/creamery-backend/internal/orders"
	"github.com/scoopsociety/creamery-backend/internal/pricing"
	"github.com/scoopsociety/creamery-backend/pkg/db"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MaterializerParams groups dependencies for the subscription materializer.
type MaterializerParams struct {
	AttemptStore      attempts.Store
	SubscriptionsRepo Repository
	OrdersRepo        orders.Repository
	Stripe            StripeSubscriptionClient
	Pricing           *pricing.Calculator
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Materializer activates a subscription once the shopper's payment method is
// confirmed: it creates the processor subscription charging that method and
// persists the local subscription plus its first order in one transaction.
type Materializer struct {
	attemptStore attempts.Store
	subsRepo     Repository
	ordersRepo   orders.Repository
	stripe       StripeSubscriptionClient
	pricing      *pricing.Calculator
	txRunner     txRunner
	logg         *logger.Logger
}

// NewMaterializer builds the subscription materializer.
func NewMaterializer(params MaterializerParams) (*Materializer, error) {
	if params.AttemptStore == nil {
		return nil, fmt.Errorf("attempt store required")
	}
	if params.SubscriptionsRepo == nil {
		return nil, fmt.Errorf("subscriptions repo required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repo required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
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
		subsRepo:     params.SubscriptionsRepo,
		ordersRepo:   params.OrdersRepo,
		stripe:       params.Stripe,
		pricing:      params.Pricing,
		txRunner:     params.TransactionRunner,
		logg:         params.Logger,
	}, nil
}

// HandleSetupIntentSucceeded materializes the subscription correlated with
// the setup intent. Redeliveries are absorbed through the attempt id and the
// processor subscription id; a failed local persist cancels the processor
// subscription before propagating, so a retry starts clean.
func (m *Materializer) HandleSetupIntentSucceeded(ctx context.Context, intent *stripe.SetupIntent) error {
	if intent == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "setup intent required")
	}

	attemptID := intent.Metadata[attempts.MetadataKey]
	if attemptID == "" {
		m.logg.Info(ctx, "setup intent without attempt metadata, ignoring")
		return nil
	}
	ctx = m.logg.WithAttemptID(ctx, attemptID)

	attempt, err := m.attemptStore.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, attempts.ErrNotFound) {
			m.logg.Error(ctx, "checkout attempt missing, subscription cannot be materialized", err)
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout attempt")
	}

	subItems := attempt.SubscriptionItems()
	if len(subItems) == 0 {
		m.logg.Warn(ctx, "setup intent attempt has no subscription items")
		return nil
	}

	existing, err := m.subsRepo.FindByCheckoutAttemptID(ctx, attemptID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing subscription")
	}
	if existing != nil {
		m.logg.Info(ctx, "subscription already materialized for attempt")
		m.deleteAttempt(ctx, attemptID)
		return nil
	}

	paymentMethodID := paymentMethodFromIntent(intent)
	if paymentMethodID == "" {
		// Without a confirmed payment method the subscription can never be
		// charged; retrying the delivery will not grow one.
		m.logg.Warn(ctx, "setup intent succeeded without a payment method, skipping")
		return nil
	}

	quote, err := m.pricing.Quote(ctx, attempt.CartItems)
	if err != nil {
		return err
	}

	stripeSub, err := m.createProcessorSubscription(ctx, attempt, subItems, paymentMethodID)
	if err != nil {
		return err
	}
	ctx = m.logg.WithSubscriptionID(ctx, stripeSub.ID)

	err = m.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		subsRepo := m.subsRepo.WithTx(tx)

		// Re-check inside the transaction; a concurrent redelivery may have
		// won the race after the pre-check above.
		if stored, err := subsRepo.FindByStripeID(ctx, stripeSub.ID); err != nil {
			return err
		} else if stored != nil {
			return nil
		}

		local, err := BuildFromStripe(stripeSub, attempt.UserID, attemptID)
		if err != nil {
			return err
		}
		if err := subsRepo.Create(ctx, local); err != nil {
			return err
		}

		firstOrder := orders.BuildFromAttempt(attempt, quote, "", &local.ID)
		return m.ordersRepo.WithTx(tx).Create(ctx, firstOrder)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// A concurrent delivery won the attempt. The in-transaction
			// re-check already ruled out this stripe id, so the subscription
			// created here is untracked and must not keep billing.
			m.logg.Info(ctx, "subscription already materialized for attempt")
			if _, cancelErr := m.stripe.CancelSubscription(ctx, stripeSub.ID, &stripe.SubscriptionCancelParams{}); cancelErr != nil {
				m.logg.Error(ctx, "failed to cancel duplicate processor subscription", cancelErr)
			}
			m.deleteAttempt(ctx, attemptID)
			return nil
		}
		// Roll back the processor side so a redelivery does not find a
		// dangling subscription it knows nothing about.
		if _, cancelErr := m.stripe.CancelSubscription(ctx, stripeSub.ID, &stripe.SubscriptionCancelParams{}); cancelErr != nil {
			m.logg.Error(ctx, "failed to cancel processor subscription after persist failure", cancelErr)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
	}

	m.logg.Info(ctx, "subscription materialized")
	m.deleteAttempt(ctx, attemptID)
	return nil
}

func (m *Materializer) createProcessorSubscription(ctx context.Context, attempt *attempts.CheckoutAttempt, subItems []attempts.CartItem, paymentMethodID string) (*stripe.Subscription, error) {
	customerParams := &stripe.CustomerCreateParams{
		Email:         stripe.String(attempt.Contact.Email),
		Name:          stripe.String(attempt.ShippingAddress.FullName),
		PaymentMethod: stripe.String(paymentMethodID),
		InvoiceSettings: &stripe.CustomerCreateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	cust, err := m.stripe.CreateCustomer(ctx, customerParams)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}

	subParams := &stripe.SubscriptionCreateParams{
		Customer:             stripe.String(cust.ID),
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	for _, item := range subItems {
		subParams.Items = append(subParams.Items, &stripe.SubscriptionCreateItemParams{
			Price:    stripe.String(item.StripePriceID),
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	subParams.AddMetadata(attempts.MetadataKey, attempt.AttemptID)

	stripeSub, err := m.stripe.CreateSubscription(ctx, subParams)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe subscription")
	}
	return stripeSub, nil
}

func (m *Materializer) deleteAttempt(ctx context.Context, attemptID string) {
	if err := m.attemptStore.Delete(ctx, attemptID); err != nil {
		m.logg.Warn(ctx, "failed to delete checkout attempt after materialization")
	}
}

func paymentMethodFromIntent(intent *stripe.SetupIntent) string {
	if intent.PaymentMethod == nil {
		return ""
	}
	return intent.PaymentMethod.ID
}
