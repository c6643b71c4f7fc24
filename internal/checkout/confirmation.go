package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

// Public confirmation states presented to the poller. Raw processor statuses
// and internal identifiers never leak past this mapping.
const (
	StatusSucceeded  = "succeeded"
	StatusProcessing = "processing"
	StatusPending    = "pending"
	StatusCanceled   = "canceled"
)

// OrderReader resolves an order from its originating attempt.
type OrderReader interface {
	FindByCheckoutAttemptID(ctx context.Context, attemptID string) (*models.Order, error)
}

// OrderSummaryItem is one line of the confirmation view.
type OrderSummaryItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderSummary is the materialized order as shown to the shopper.
type OrderSummary struct {
	OrderID uuid.UUID          `json:"order_id"`
	Total   decimal.Decimal    `json:"total"`
	Items   []OrderSummaryItem `json:"items"`
}

// ConfirmationStatus is the read contract consumed by the client poller.
type ConfirmationStatus struct {
	Status string        `json:"status"`
	Order  *OrderSummary `json:"order,omitempty"`
}

// StatusService answers confirmation polls. It is read-only: it never mutates
// attempts, orders or processor state.
type StatusService struct {
	stripe SessionClient
	orders OrderReader
	logg   *logger.Logger
}

// NewStatusService builds the confirmation status reader.
func NewStatusService(client SessionClient, orders OrderReader, logg *logger.Logger) (*StatusService, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &StatusService{stripe: client, orders: orders, logg: logg}, nil
}

// GetStatus reports the processor status for a payment or setup intent plus
// the materialized order summary once one exists.
func (s *StatusService) GetStatus(ctx context.Context, intentID string) (*ConfirmationStatus, error) {
	intentID = strings.TrimSpace(intentID)

	var (
		status    string
		attemptID string
	)
	switch {
	case strings.HasPrefix(intentID, "pi_"):
		intent, err := s.stripe.GetPaymentIntent(ctx, intentID)
		if err != nil {
			return nil, mapIntentLookupError(err)
		}
		status = publicPaymentStatus(intent.Status)
		attemptID = intent.Metadata[attempts.MetadataKey]
	case strings.HasPrefix(intentID, "seti_"):
		intent, err := s.stripe.GetSetupIntent(ctx, intentID)
		if err != nil {
			return nil, mapIntentLookupError(err)
		}
		status = publicSetupStatus(intent.Status)
		attemptID = intent.Metadata[attempts.MetadataKey]
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unrecognized intent id")
	}

	result := &ConfirmationStatus{Status: status}
	if attemptID == "" {
		return result, nil
	}

	order, err := s.orders.FindByCheckoutAttemptID(ctx, attemptID)
	if err != nil {
		// The processor status is still useful; the summary shows up on the
		// next poll.
		s.logg.Warn(s.logg.WithAttemptID(ctx, attemptID), "order lookup failed during confirmation poll")
		return result, nil
	}
	if order != nil {
		result.Order = summarize(order)
	}
	return result, nil
}

func summarize(order *models.Order) *OrderSummary {
	summary := &OrderSummary{
		OrderID: order.ID,
		Total:   order.TotalAmount,
		Items:   make([]OrderSummaryItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		summary.Items = append(summary.Items, OrderSummaryItem{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return summary
}

func publicPaymentStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}

func publicSetupStatus(status stripe.SetupIntentStatus) string {
	switch status {
	case stripe.SetupIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.SetupIntentStatusProcessing:
		return StatusProcessing
	case stripe.SetupIntentStatusCanceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}

func mapIntentLookupError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment session")
}
