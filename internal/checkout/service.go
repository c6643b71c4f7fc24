package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	"github.com/scoopsociety/creamery-backend/internal/pricing"
	"github.com/scoopsociety/creamery-backend/internal/products"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
	"github.com/scoopsociety/creamery-backend/pkg/types"
)

// Session modes returned to the client.
const (
	ModePayment = "payment"
	ModeSetup   = "setup"
)

// ItemInput is one requested cart line. Only the product reference and the
// quantity are accepted from the client; prices come from the catalog.
type ItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// StartSessionInput is a validated checkout request.
type StartSessionInput struct {
	UserID          *uuid.UUID            `json:"-"`
	Items           []ItemInput           `json:"items" validate:"required,min=1,dive"`
	Contact         types.ContactInfo     `json:"contact" validate:"required"`
	ShippingAddress types.ShippingAddress `json:"shipping_address" validate:"required"`
	PaymentMethodID string                `json:"payment_method_id,omitempty"`
}

// SessionResult carries what the client needs to confirm the payment.
type SessionResult struct {
	AttemptID    string
	IntentID     string
	ClientSecret string
	Mode         string
	Total        decimal.Decimal
}

// Service starts processor payment sessions.
type Service interface {
	StartSession(ctx context.Context, input StartSessionInput) (*SessionResult, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	AttemptStore attempts.Store
	ProductsRepo products.Repository
	Stripe       SessionClient
	Pricing      *pricing.Calculator
	Logger       *logger.Logger
}

type service struct {
	attemptStore attempts.Store
	productsRepo products.Repository
	stripe       SessionClient
	pricing      *pricing.Calculator
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the checkout service with its required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.AttemptStore == nil {
		return nil, fmt.Errorf("attempt store required")
	}
	if params.ProductsRepo == nil {
		return nil, fmt.Errorf("products repo required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		attemptStore: params.AttemptStore,
		productsRepo: params.ProductsRepo,
		stripe:       params.Stripe,
		pricing:      params.Pricing,
		logg:         params.Logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// StartSession validates the request, persists the attempt context and opens
// a processor session tagged with the attempt id. Carts containing any
// recurring product take the setup-intent path; everything else is charged
// through a payment intent for the full total.
func (s *service) StartSession(ctx context.Context, input StartSessionInput) (*SessionResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	cartItems, err := s.resolveCart(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	quote, err := s.pricing.Quote(ctx, cartItems)
	if err != nil {
		return nil, err
	}

	attempt := &attempts.CheckoutAttempt{
		AttemptID:       attempts.NewAttemptID(),
		UserID:          input.UserID,
		CartItems:       cartItems,
		Contact:         input.Contact,
		ShippingAddress: input.ShippingAddress,
		CreatedAt:       s.now(),
	}
	if err := s.attemptStore.Put(ctx, attempt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist checkout attempt")
	}

	ctx = s.logg.WithAttemptID(ctx, attempt.AttemptID)

	if attempt.HasSubscriptionItem() {
		return s.startSetupSession(ctx, attempt, quote, input.PaymentMethodID)
	}
	return s.startPaymentSession(ctx, attempt, quote, input.PaymentMethodID)
}

func (s *service) startPaymentSession(ctx context.Context, attempt *attempts.CheckoutAttempt, quote pricing.Quote, paymentMethodID string) (*SessionResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(pricing.Cents(quote.Total)),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		ReceiptEmail: stripe.String(attempt.Contact.Email),
	}
	params.AddMetadata(attempts.MetadataKey, attempt.AttemptID)
	if pm := strings.TrimSpace(paymentMethodID); pm != "" {
		params.PaymentMethod = stripe.String(pm)
	}

	intent, err := s.stripe.CreatePaymentIntent(ctx, params)
	if err != nil {
		s.discardAttempt(ctx, attempt.AttemptID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	s.logg.Info(ctx, "payment session created")
	return &SessionResult{
		AttemptID:    attempt.AttemptID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Mode:         ModePayment,
		Total:        quote.Total,
	}, nil
}

func (s *service) startSetupSession(ctx context.Context, attempt *attempts.CheckoutAttempt, quote pricing.Quote, paymentMethodID string) (*SessionResult, error) {
	params := &stripe.SetupIntentCreateParams{
		Usage: stripe.String("off_session"),
	}
	params.AddMetadata(attempts.MetadataKey, attempt.AttemptID)
	if pm := strings.TrimSpace(paymentMethodID); pm != "" {
		params.PaymentMethod = stripe.String(pm)
	}

	intent, err := s.stripe.CreateSetupIntent(ctx, params)
	if err != nil {
		s.discardAttempt(ctx, attempt.AttemptID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create setup intent")
	}

	s.logg.Info(ctx, "setup session created")
	return &SessionResult{
		AttemptID:    attempt.AttemptID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Mode:         ModeSetup,
		Total:        quote.Total,
	}, nil
}

// discardAttempt removes the attempt after a failed session creation so no
// orphaned record lingers.
func (s *service) discardAttempt(ctx context.Context, attemptID string) {
	if err := s.attemptStore.Delete(ctx, attemptID); err != nil {
		s.logg.Warn(s.logg.WithAttemptID(ctx, attemptID), "failed to discard checkout attempt")
	}
}

func (s *service) validate(input StartSessionInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: product id is required", i))
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i))
		}
	}
	if strings.TrimSpace(input.Contact.Email) == "" || !strings.Contains(input.Contact.Email, "@") {
		return pkgerrors.New(pkgerrors.CodeValidation, "valid email is required")
	}
	if missing := input.ShippingAddress.Validate(); missing != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping address field %s is required", missing))
	}
	return nil
}

func (s *service) resolveCart(ctx context.Context, items []ItemInput) ([]attempts.CartItem, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	catalog, err := s.productsRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]int, len(catalog))
	for i := range catalog {
		byID[catalog[i].ID] = i
	}

	cartItems := make([]attempts.CartItem, 0, len(items))
	for _, item := range items {
		idx, ok := byID[item.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s not found", item.ProductID))
		}
		product := catalog[idx]
		if !product.Available {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is unavailable", product.Name))
		}
		if product.IsSubscription && (product.StripePriceID == nil || strings.TrimSpace(*product.StripePriceID) == "") {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s has no recurring price configured", product.Name))
		}

		cartItem := attempts.CartItem{
			ProductID:         product.ID,
			ProductName:       product.Name,
			Quantity:          item.Quantity,
			UnitPrice:         product.UnitPrice,
			IsSubscription:    product.IsSubscription,
			RecurringInterval: product.RecurringInterval,
		}
		if product.StripePriceID != nil {
			cartItem.StripePriceID = strings.TrimSpace(*product.StripePriceID)
		}
		cartItems = append(cartItems, cartItem)
	}
	return cartItems, nil
}
