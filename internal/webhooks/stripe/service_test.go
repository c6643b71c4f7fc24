package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

type memoryIdempotencyStore struct {
	mu     sync.Mutex
	keys   map[string]string
	setErr error
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{keys: make(map[string]string)}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *memoryIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = value.(string)
	return true, nil
}

func (s *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (s *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func (s *memoryIdempotencyStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

type recordingHandlers struct {
	succeededIntents []string
	failedIntents    []string
	setupIntents     []string
	updatedSubs      []string
	deletedSubs      []string
	paidInvoiceSubs  []string
	failedInvSubs    []string

	err error
}

func (h *recordingHandlers) HandlePaymentIntentSucceeded(_ context.Context, intent *stripeapi.PaymentIntent) error {
	h.succeededIntents = append(h.succeededIntents, intent.ID)
	return h.err
}

func (h *recordingHandlers) HandlePaymentIntentFailed(_ context.Context, intent *stripeapi.PaymentIntent) error {
	h.failedIntents = append(h.failedIntents, intent.ID)
	return h.err
}

func (h *recordingHandlers) HandleSetupIntentSucceeded(_ context.Context, intent *stripeapi.SetupIntent) error {
	h.setupIntents = append(h.setupIntents, intent.ID)
	return h.err
}

func (h *recordingHandlers) HandleSubscriptionUpdated(_ context.Context, sub *stripeapi.Subscription) error {
	h.updatedSubs = append(h.updatedSubs, sub.ID)
	return h.err
}

func (h *recordingHandlers) HandleSubscriptionDeleted(_ context.Context, sub *stripeapi.Subscription) error {
	h.deletedSubs = append(h.deletedSubs, sub.ID)
	return h.err
}

func (h *recordingHandlers) HandleInvoicePaid(_ context.Context, _ *stripeapi.Invoice, subscriptionID string) error {
	h.paidInvoiceSubs = append(h.paidInvoiceSubs, subscriptionID)
	return h.err
}

func (h *recordingHandlers) HandleInvoicePaymentFailed(_ context.Context, subscriptionID string) error {
	h.failedInvSubs = append(h.failedInvSubs, subscriptionID)
	return h.err
}

func newTestService(t *testing.T, handlers *recordingHandlers, store *memoryIdempotencyStore) *Service {
	t.Helper()
	guard, err := NewIdempotencyGuard(store, time.Hour)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Orders:        handlers,
		Subscriptions: handlers,
		Lifecycle:     handlers,
		Guard:         guard,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func testEvent(t *testing.T, id string, eventType stripeapi.EventType, payload any) stripeapi.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var object map[string]any
	require.NoError(t, json.Unmarshal(raw, &object))
	return stripeapi.Event{
		ID:   id,
		Type: eventType,
		Data: &stripeapi.EventData{Raw: raw, Object: object},
	}
}

func TestRouterDispatchTable(t *testing.T) {
	cases := []struct {
		name      string
		eventType stripeapi.EventType
		payload   any
		recorded  func(h *recordingHandlers) []string
		want      string
	}{
		{
			name:      "payment intent succeeded",
			eventType: stripeapi.EventTypePaymentIntentSucceeded,
			payload:   map[string]any{"id": "pi_1"},
			recorded:  func(h *recordingHandlers) []string { return h.succeededIntents },
			want:      "pi_1",
		},
		{
			name:      "payment intent failed",
			eventType: stripeapi.EventTypePaymentIntentPaymentFailed,
			payload:   map[string]any{"id": "pi_2"},
			recorded:  func(h *recordingHandlers) []string { return h.failedIntents },
			want:      "pi_2",
		},
		{
			name:      "setup intent succeeded",
			eventType: stripeapi.EventTypeSetupIntentSucceeded,
			payload:   map[string]any{"id": "seti_1"},
			recorded:  func(h *recordingHandlers) []string { return h.setupIntents },
			want:      "seti_1",
		},
		{
			name:      "subscription created",
			eventType: stripeapi.EventTypeCustomerSubscriptionCreated,
			payload:   map[string]any{"id": "sub_1"},
			recorded:  func(h *recordingHandlers) []string { return h.updatedSubs },
			want:      "sub_1",
		},
		{
			name:      "subscription updated",
			eventType: stripeapi.EventTypeCustomerSubscriptionUpdated,
			payload:   map[string]any{"id": "sub_2"},
			recorded:  func(h *recordingHandlers) []string { return h.updatedSubs },
			want:      "sub_2",
		},
		{
			name:      "subscription deleted",
			eventType: stripeapi.EventTypeCustomerSubscriptionDeleted,
			payload:   map[string]any{"id": "sub_3"},
			recorded:  func(h *recordingHandlers) []string { return h.deletedSubs },
			want:      "sub_3",
		},
		{
			name:      "invoice paid",
			eventType: stripeapi.EventTypeInvoicePaid,
			payload:   map[string]any{"id": "in_1", "subscription": "sub_4"},
			recorded:  func(h *recordingHandlers) []string { return h.paidInvoiceSubs },
			want:      "sub_4",
		},
		{
			name:      "invoice payment failed",
			eventType: stripeapi.EventTypeInvoicePaymentFailed,
			payload:   map[string]any{"id": "in_2", "subscription": "sub_5"},
			recorded:  func(h *recordingHandlers) []string { return h.failedInvSubs },
			want:      "sub_5",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := &recordingHandlers{}
			svc := newTestService(t, handlers, newMemoryIdempotencyStore())

			event := testEvent(t, "evt_"+tc.want, tc.eventType, tc.payload)
			require.NoError(t, svc.HandleEvent(context.Background(), event))
			assert.Equal(t, []string{tc.want}, tc.recorded(handlers))
		})
	}
}

func TestRouterInvoiceSubscriptionNestedFallback(t *testing.T) {
	handlers := &recordingHandlers{}
	svc := newTestService(t, handlers, newMemoryIdempotencyStore())

	payload := map[string]any{
		"id": "in_nested",
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": "sub_nested"},
		},
	}
	event := testEvent(t, "evt_nested", stripeapi.EventTypeInvoicePaid, payload)
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	assert.Equal(t, []string{"sub_nested"}, handlers.paidInvoiceSubs)
}

func TestRouterDuplicateDeliverySkipped(t *testing.T) {
	handlers := &recordingHandlers{}
	svc := newTestService(t, handlers, newMemoryIdempotencyStore())

	event := testEvent(t, "evt_dup", stripeapi.EventTypePaymentIntentSucceeded, map[string]any{"id": "pi_1"})
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	assert.Len(t, handlers.succeededIntents, 1, "the second delivery must not reach the handler")
}

func TestRouterHandlerFailureReleasesClaim(t *testing.T) {
	handlers := &recordingHandlers{err: errors.New("downstream unavailable")}
	store := newMemoryIdempotencyStore()
	svc := newTestService(t, handlers, store)

	event := testEvent(t, "evt_retry", stripeapi.EventTypePaymentIntentSucceeded, map[string]any{"id": "pi_1"})
	require.Error(t, svc.HandleEvent(context.Background(), event))
	assert.Equal(t, 0, store.len(), "a failed run must not block the redelivery")

	handlers.err = nil
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	assert.Len(t, handlers.succeededIntents, 2)
}

func TestRouterUnknownEventAcked(t *testing.T) {
	handlers := &recordingHandlers{}
	svc := newTestService(t, handlers, newMemoryIdempotencyStore())

	event := testEvent(t, "evt_unknown", stripeapi.EventType("charge.refunded"), map[string]any{"id": "ch_1"})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	assert.Empty(t, handlers.succeededIntents)
	assert.Empty(t, handlers.updatedSubs)
}

func TestRouterUndecodablePayloadAcked(t *testing.T) {
	for _, eventType := range []stripeapi.EventType{
		stripeapi.EventTypePaymentIntentSucceeded,
		stripeapi.EventTypeSetupIntentSucceeded,
		stripeapi.EventTypeCustomerSubscriptionUpdated,
		stripeapi.EventTypeInvoicePaid,
	} {
		t.Run(string(eventType), func(t *testing.T) {
			handlers := &recordingHandlers{}
			store := newMemoryIdempotencyStore()
			svc := newTestService(t, handlers, store)

			event := stripeapi.Event{
				ID:   "evt_garbled",
				Type: eventType,
				Data: &stripeapi.EventData{Raw: json.RawMessage(`{"id":`)},
			}
			require.NoError(t, svc.HandleEvent(context.Background(), event),
				"a payload that can never decode must be acknowledged, not redelivered")

			assert.Empty(t, handlers.succeededIntents)
			assert.Empty(t, handlers.setupIntents)
			assert.Empty(t, handlers.updatedSubs)
			assert.Empty(t, handlers.paidInvoiceSubs)
			assert.Equal(t, 1, store.len(), "the delivery stays claimed")
		})
	}
}

func TestRouterGuardFailurePropagates(t *testing.T) {
	handlers := &recordingHandlers{}
	store := newMemoryIdempotencyStore()
	store.setErr = errors.New("redis down")
	svc := newTestService(t, handlers, store)

	event := testEvent(t, "evt_guard", stripeapi.EventTypePaymentIntentSucceeded, map[string]any{"id": "pi_1"})
	require.Error(t, svc.HandleEvent(context.Background(), event))
	assert.Empty(t, handlers.succeededIntents)
}
