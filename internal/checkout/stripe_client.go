package checkout

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	pkgstripe "github.com/scoopsociety/creamery-backend/pkg/stripe"
)

// SessionClient exposes the subset of processor operations used by the
// checkout flow.
type SessionClient interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
}

// sessionClientWrapper routes every call through the constructed API client;
// nothing here depends on package-level processor state.
type sessionClientWrapper struct {
	api *stripe.Client
}

// NewSessionClient wraps the initialized Stripe client so checkout services
// can be tested against a stub.
func NewSessionClient(api *pkgstripe.Client) SessionClient {
	if api == nil || api.API() == nil {
		return nil
	}
	return &sessionClientWrapper{api: api.API()}
}

func (w *sessionClientWrapper) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return w.api.V1PaymentIntents.Create(ctx, params)
}

func (w *sessionClientWrapper) CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error) {
	return w.api.V1SetupIntents.Create(ctx, params)
}

func (w *sessionClientWrapper) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return w.api.V1PaymentIntents.Retrieve(ctx, id, nil)
}

func (w *sessionClientWrapper) GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	return w.api.V1SetupIntents.Retrieve(ctx, id, nil)
}

func (w *sessionClientWrapper) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	return w.api.V1Prices.Retrieve(ctx, id, nil)
}
