package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	pkgstripe "github.com/scoopsociety/creamery-backend/pkg/stripe"
)

// StripeSubscriptionClient exposes the subset of Stripe operations required
// by the subscription materializer and lifecycle sync.
type StripeSubscriptionClient interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionCreateParams) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionRetrieveParams) (*stripe.Subscription, error)
}

// stripeClientWrapper routes every call through the constructed API client;
// nothing here depends on package-level processor state.
type stripeClientWrapper struct {
	api *stripe.Client
}

// NewStripeClient wraps the initialized Stripe client so the subscription
// services can be tested against a stub.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil || api.API() == nil {
		return nil
	}
	return &stripeClientWrapper{api: api.API()}
}

func (w *stripeClientWrapper) CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	return w.api.V1Customers.Create(ctx, params)
}

func (w *stripeClientWrapper) CreateSubscription(ctx context.Context, params *stripe.SubscriptionCreateParams) (*stripe.Subscription, error) {
	return w.api.V1Subscriptions.Create(ctx, params)
}

func (w *stripeClientWrapper) CancelSubscription(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return w.api.V1Subscriptions.Cancel(ctx, id, params)
}

func (w *stripeClientWrapper) GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionRetrieveParams) (*stripe.Subscription, error) {
	return w.api.V1Subscriptions.Retrieve(ctx, id, params)
}
