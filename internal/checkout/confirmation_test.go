package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
)

type stubOrderReader struct {
	order *models.Order
	err   error
}

func (s *stubOrderReader) FindByCheckoutAttemptID(_ context.Context, _ string) (*models.Order, error) {
	return s.order, s.err
}

func newStatusService(t *testing.T, client SessionClient, orders OrderReader) *StatusService {
	t.Helper()
	svc, err := NewStatusService(client, orders, testLogger())
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}
	return svc
}

func TestGetStatusSucceededWithOrder(t *testing.T) {
	attemptID := attempts.NewAttemptID()
	orderID := uuid.New()
	client := &stubSessionClient{
		paymentIntent: &stripe.PaymentIntent{
			ID:       "pi_123",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Metadata: map[string]string{attempts.MetadataKey: attemptID},
		},
	}
	orders := &stubOrderReader{order: &models.Order{
		ID:          orderID,
		TotalAmount: decimal.RequireFromString("35.00"),
		Items: []models.OrderItem{
			{ProductName: "Vanilla Pint", Quantity: 3, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductName: "Shipping", Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
		},
	}}

	status, err := newStatusService(t, client, orders).GetStatus(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", status.Status)
	}
	if status.Order == nil || status.Order.OrderID != orderID {
		t.Fatalf("expected order summary, got %+v", status.Order)
	}
	if len(status.Order.Items) != 2 {
		t.Fatalf("expected 2 summary items, got %d", len(status.Order.Items))
	}
}

func TestGetStatusPendingWithoutOrder(t *testing.T) {
	client := &stubSessionClient{
		paymentIntent: &stripe.PaymentIntent{
			ID:     "pi_456",
			Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
		},
	}
	status, err := newStatusService(t, client, &stubOrderReader{}).GetStatus(context.Background(), "pi_456")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != StatusPending {
		t.Fatalf("expected pending, got %s", status.Status)
	}
	if status.Order != nil {
		t.Fatal("no order summary expected")
	}
}

func TestGetStatusSetupIntent(t *testing.T) {
	client := &stubSessionClient{
		setupIntent: &stripe.SetupIntent{
			ID:     "seti_123",
			Status: stripe.SetupIntentStatusSucceeded,
		},
	}
	status, err := newStatusService(t, client, &stubOrderReader{}).GetStatus(context.Background(), "seti_123")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", status.Status)
	}
}

func TestGetStatusRejectsUnknownID(t *testing.T) {
	client := &stubSessionClient{}
	_, err := newStatusService(t, client, &stubOrderReader{}).GetStatus(context.Background(), "sub_123")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetStatusToleratesOrderLookupFailure(t *testing.T) {
	attemptID := attempts.NewAttemptID()
	client := &stubSessionClient{
		paymentIntent: &stripe.PaymentIntent{
			ID:       "pi_789",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Metadata: map[string]string{attempts.MetadataKey: attemptID},
		},
	}
	orders := &stubOrderReader{err: errors.New("db down")}

	status, err := newStatusService(t, client, orders).GetStatus(context.Background(), "pi_789")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", status.Status)
	}
	if status.Order != nil {
		t.Fatal("order summary should be omitted when lookup fails")
	}
}
