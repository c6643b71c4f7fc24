package attempts

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/scoopsociety/creamery-backend/pkg/types"
)

func sampleAttempt(id string) *CheckoutAttempt {
	return &CheckoutAttempt{
		AttemptID: id,
		CartItems: []CartItem{
			{ProductName: "Pistachio Pint", Quantity: 2, UnitPrice: decimal.RequireFromString("7.50")},
		},
		Contact: types.ContactInfo{Email: "shopper@example.com"},
		ShippingAddress: types.ShippingAddress{
			FullName:   "Sam Shopper",
			Address1:   "1 Cone St",
			City:       "Portland",
			State:      "OR",
			PostalCode: "97201",
			Country:    "US",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	attempt := sampleAttempt("attempt-1")
	if err := store.Put(ctx, attempt); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Contact.Email != attempt.Contact.Email {
		t.Fatalf("expected contact email %q, got %q", attempt.Contact.Email, got.Contact.Email)
	}
	if len(got.CartItems) != 1 || !got.CartItems[0].UnitPrice.Equal(decimal.RequireFromString("7.50")) {
		t.Fatalf("cart items not preserved: %+v", got.CartItems)
	}

	if err := store.Delete(ctx, "attempt-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "attempt-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "never-stored"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), &CheckoutAttempt{}); err == nil {
		t.Fatal("expected error for empty attempt id")
	}
}

type fakeKV struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	default:
		return errors.New("unexpected value type")
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	value, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeKV) AttemptKey(attemptID string) string {
	return "creamery:attempt:" + attemptID
}

func TestRedisStoreRoundTrip(t *testing.T) {
	kv := newFakeKV()
	store, err := NewRedisStore(kv, 24*time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	attempt := sampleAttempt("attempt-redis")
	if err := store.Put(ctx, attempt); err != nil {
		t.Fatalf("put: %v", err)
	}
	if kv.ttls["creamery:attempt:attempt-redis"] != 24*time.Hour {
		t.Fatalf("expected safety-net ttl to be applied, got %v", kv.ttls["creamery:attempt:attempt-redis"])
	}

	got, err := store.Get(ctx, "attempt-redis")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AttemptID != "attempt-redis" {
		t.Fatalf("unexpected attempt id %q", got.AttemptID)
	}
	if got.ShippingAddress.City != "Portland" {
		t.Fatalf("shipping address not preserved: %+v", got.ShippingAddress)
	}

	if err := store.Delete(ctx, "attempt-redis"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "attempt-redis"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStoreMapsMissingKey(t *testing.T) {
	store, err := NewRedisStore(newFakeKV(), 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStorePropagatesBackendError(t *testing.T) {
	kv := newFakeKV()
	kv.getErr = errors.New("connection refused")
	store, err := NewRedisStore(kv, 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.Get(context.Background(), "attempt-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestHasSubscriptionItem(t *testing.T) {
	attempt := sampleAttempt("attempt-sub")
	if attempt.HasSubscriptionItem() {
		t.Fatal("one-off cart should not report a subscription item")
	}
	attempt.CartItems = append(attempt.CartItems, CartItem{
		ProductName:    "Monthly Scoop Club",
		Quantity:       1,
		UnitPrice:      decimal.RequireFromString("19.00"),
		IsSubscription: true,
	})
	if !attempt.HasSubscriptionItem() {
		t.Fatal("expected subscription item to be detected")
	}
	if len(attempt.SubscriptionItems()) != 1 {
		t.Fatalf("expected one subscription item, got %d", len(attempt.SubscriptionItems()))
	}
}
