package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
	"github.com/scoopsociety/creamery-backend/pkg/metrics"
)

type orderHandler interface {
	HandlePaymentIntentSucceeded(ctx context.Context, intent *stripeapi.PaymentIntent) error
	HandlePaymentIntentFailed(ctx context.Context, intent *stripeapi.PaymentIntent) error
}

type subscriptionHandler interface {
	HandleSetupIntentSucceeded(ctx context.Context, intent *stripeapi.SetupIntent) error
}

type lifecycleHandler interface {
	HandleSubscriptionUpdated(ctx context.Context, sub *stripeapi.Subscription) error
	HandleSubscriptionDeleted(ctx context.Context, sub *stripeapi.Subscription) error
	HandleInvoicePaid(ctx context.Context, invoice *stripeapi.Invoice, subscriptionID string) error
	HandleInvoicePaymentFailed(ctx context.Context, subscriptionID string) error
}

// ServiceParams groups dependencies for the event router.
type ServiceParams struct {
	Orders        orderHandler
	Subscriptions subscriptionHandler
	Lifecycle     lifecycleHandler
	Guard         *IdempotencyGuard
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
}

// Service routes verified processor events to the matching handler. Every
// delivery is deduplicated by event id before dispatch; a handler failure
// releases the claim so the processor's redelivery is processed again.
type Service struct {
	orders        orderHandler
	subscriptions subscriptionHandler
	lifecycle     lifecycleHandler
	guard         *IdempotencyGuard
	metrics       *metrics.WebhookMetrics
	logg          *logger.Logger
}

// NewService builds the event router.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order handler required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription handler required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle handler required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		orders:        params.Orders,
		subscriptions: params.Subscriptions,
		lifecycle:     params.Lifecycle,
		guard:         params.Guard,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

// HandleEvent dispatches one verified event. A nil return acknowledges the
// delivery; an error tells the caller to answer non-2xx so the processor
// redelivers.
func (s *Service) HandleEvent(ctx context.Context, event stripeapi.Event) error {
	eventType := string(event.Type)
	ctx = s.logg.WithField(ctx, "event_id", event.ID)
	ctx = s.logg.WithField(ctx, "event_type", eventType)

	fresh, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event")
	}
	if !fresh {
		s.logg.Info(ctx, "duplicate webhook delivery skipped")
		s.metrics.IncSkipped(eventType)
		return nil
	}

	started := time.Now()
	err = s.dispatch(ctx, event)
	s.metrics.ObserveDuration(eventType, time.Since(started))

	if err != nil {
		// Release the claim so the redelivery is not mistaken for a
		// duplicate of this failed run.
		if releaseErr := s.guard.Release(ctx, event.ID); releaseErr != nil {
			s.logg.Error(ctx, "failed to release webhook event claim", releaseErr)
		}
		s.metrics.IncFailed(eventType)
		return err
	}

	s.metrics.IncProcessed(eventType)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event stripeapi.Event) error {
	switch event.Type {
	// A payload that fails to decode will fail identically on every
	// redelivery, so decode errors are logged and acknowledged instead of
	// bounced back to the processor.
	case stripeapi.EventTypePaymentIntentSucceeded:
		intent, err := unmarshalPaymentIntent(event)
		if err != nil {
			s.logg.Error(ctx, "acknowledged undecodable payment intent payload", err)
			return nil
		}
		return s.orders.HandlePaymentIntentSucceeded(ctx, intent)

	case stripeapi.EventTypePaymentIntentPaymentFailed:
		intent, err := unmarshalPaymentIntent(event)
		if err != nil {
			s.logg.Error(ctx, "acknowledged undecodable payment intent payload", err)
			return nil
		}
		return s.orders.HandlePaymentIntentFailed(ctx, intent)

	case stripeapi.EventTypeSetupIntentSucceeded:
		var intent stripeapi.SetupIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			s.logg.Error(ctx, "acknowledged undecodable setup intent payload", err)
			return nil
		}
		return s.subscriptions.HandleSetupIntentSucceeded(ctx, &intent)

	case stripeapi.EventTypeCustomerSubscriptionCreated, stripeapi.EventTypeCustomerSubscriptionUpdated:
		sub, err := unmarshalSubscription(event)
		if err != nil {
			s.logg.Error(ctx, "acknowledged undecodable subscription payload", err)
			return nil
		}
		return s.lifecycle.HandleSubscriptionUpdated(ctx, sub)

	case stripeapi.EventTypeCustomerSubscriptionDeleted:
		sub, err := unmarshalSubscription(event)
		if err != nil {
			s.logg.Error(ctx, "acknowledged undecodable subscription payload", err)
			return nil
		}
		return s.lifecycle.HandleSubscriptionDeleted(ctx, sub)

	case stripeapi.EventTypeInvoicePaid:
		var invoice stripeapi.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			s.logg.Error(ctx, "acknowledged undecodable invoice payload", err)
			return nil
		}
		return s.lifecycle.HandleInvoicePaid(ctx, &invoice, invoiceSubscriptionID(event))

	case stripeapi.EventTypeInvoicePaymentFailed:
		return s.lifecycle.HandleInvoicePaymentFailed(ctx, invoiceSubscriptionID(event))

	default:
		s.logg.Info(ctx, "unhandled webhook event type acknowledged")
		return nil
	}
}

func unmarshalPaymentIntent(event stripeapi.Event) (*stripeapi.PaymentIntent, error) {
	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent payload")
	}
	return &intent, nil
}

func unmarshalSubscription(event stripeapi.Event) (*stripeapi.Subscription, error) {
	var sub stripeapi.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription payload")
	}
	return &sub, nil
}

// invoiceSubscriptionID pulls the subscription reference off an invoice
// event. Newer API versions nest it under the invoice parent, older ones
// expose it top level; both shapes are checked.
func invoiceSubscriptionID(event stripeapi.Event) string {
	if id := event.GetObjectValue("subscription"); id != "" {
		return id
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}
