package subscriptions

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	"github.com/scoopsociety/creamery-backend/internal/orders"
	"github.com/scoopsociety/creamery-backend/internal/pricing"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	"github.com/scoopsociety/creamery-backend/pkg/enums"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
	"github.com/scoopsociety/creamery-backend/pkg/types"
)

func setupSubsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  stripe_subscription_id TEXT NOT NULL UNIQUE,
  checkout_attempt_id TEXT UNIQUE,
  user_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  price_id TEXT,
  current_period_start DATETIME,
  current_period_end DATETIME NOT NULL,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  collection_paused INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	ordersTable := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  checkout_attempt_id TEXT UNIQUE,
  user_id TEXT,
  subscription_id TEXT,
  stripe_payment_intent_id TEXT,
  stripe_invoice_id TEXT UNIQUE,
  total_amount NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'paid',
  contact_email TEXT NOT NULL,
  contact_phone TEXT,
  ship_full_name TEXT,
  ship_address1 TEXT,
  ship_address2 TEXT,
  ship_city TEXT,
  ship_state TEXT,
  ship_postal_code TEXT,
  ship_country TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderItems := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT,
  product_name TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(subscriptions).Error)
	require.NoError(t, db.Exec(ordersTable).Error)
	require.NoError(t, db.Exec(orderItems).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubStripeClient struct {
	customer  *stripe.Customer
	created   *stripe.Subscription
	fetched   *stripe.Subscription
	createErr error
	getErrs   int

	createdParams *stripe.SubscriptionCreateParams
	canceledIDs   []string
	getCalls      int
}

func (s *stubStripeClient) CreateCustomer(_ context.Context, _ *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	if s.customer == nil {
		return &stripe.Customer{ID: "cus_test"}, nil
	}
	return s.customer, nil
}

func (s *stubStripeClient) CreateSubscription(_ context.Context, params *stripe.SubscriptionCreateParams) (*stripe.Subscription, error) {
	s.createdParams = params
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.created, nil
}

func (s *stubStripeClient) CancelSubscription(_ context.Context, id string, _ *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	s.canceledIDs = append(s.canceledIDs, id)
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

func (s *stubStripeClient) GetSubscription(_ context.Context, id string, _ *stripe.SubscriptionRetrieveParams) (*stripe.Subscription, error) {
	s.getCalls++
	if s.getCalls <= s.getErrs {
		return nil, errors.New("stripe unavailable")
	}
	if s.fetched != nil {
		return s.fetched, nil
	}
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusActive}, nil
}

type stubPriceGetter struct {
	price *stripe.Price
}

func (s *stubPriceGetter) GetPrice(_ context.Context, _ string) (*stripe.Price, error) {
	return s.price, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func stripeSubscription(id string, status stripe.SubscriptionStatus, periodEnd int64, priceID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     id,
		Status: status,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			CurrentPeriodStart: periodEnd - 30*24*3600,
			CurrentPeriodEnd:   periodEnd,
			Price:              &stripe.Price{ID: priceID},
		}}},
	}
}

func subscriptionAttempt(t *testing.T, store attempts.Store) *attempts.CheckoutAttempt {
	t.Helper()
	userID := uuid.New()
	attempt := &attempts.CheckoutAttempt{
		AttemptID: attempts.NewAttemptID(),
		UserID:    &userID,
		CartItems: []attempts.CartItem{
			{ProductID: uuid.New(), ProductName: "Monthly Scoop Club", Quantity: 1, UnitPrice: decimal.RequireFromString("19.00"), IsSubscription: true, StripePriceID: "price_club"},
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
	}
	require.NoError(t, store.Put(context.Background(), attempt))
	return attempt
}

func newTestMaterializer(t *testing.T, db *gorm.DB, store attempts.Store, client StripeSubscriptionClient, ordersRepo orders.Repository) *Materializer {
	t.Helper()
	calc, err := pricing.NewCalculator(&stubPriceGetter{price: &stripe.Price{UnitAmount: 500}}, "price_ship", testLogger())
	require.NoError(t, err)
	m, err := NewMaterializer(MaterializerParams{
		AttemptStore:      store,
		SubscriptionsRepo: NewRepository(db),
		OrdersRepo:        ordersRepo,
		Stripe:            client,
		Pricing:           calc,
		TransactionRunner: &testTxRunner{db: db},
		Logger:            testLogger(),
	})
	require.NoError(t, err)
	return m
}

func succeededSetupIntent(attemptID, paymentMethodID string) *stripe.SetupIntent {
	intent := &stripe.SetupIntent{ID: "seti_test", Status: stripe.SetupIntentStatusSucceeded}
	if attemptID != "" {
		intent.Metadata = map[string]string{attempts.MetadataKey: attemptID}
	}
	if paymentMethodID != "" {
		intent.PaymentMethod = &stripe.PaymentMethod{ID: paymentMethodID}
	}
	return intent
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

func TestMaterializeSubscriptionEndToEnd(t *testing.T) {
	db := setupSubsTestDB(t)
	store := attempts.NewMemoryStore()
	client := &stubStripeClient{created: stripeSubscription("sub_123", stripe.SubscriptionStatusActive, 1900000000, "price_club")}
	m := newTestMaterializer(t, db, store, client, orders.NewRepository(db))

	attempt := subscriptionAttempt(t, store)
	require.NoError(t, m.HandleSetupIntentSucceeded(context.Background(), succeededSetupIntent(attempt.AttemptID, "pm_card")))

	local, err := NewRepository(db).FindByStripeID(context.Background(), "sub_123")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, enums.SubscriptionStatusActive, local.Status)
	require.NotNil(t, local.CheckoutAttemptID)
	assert.Equal(t, attempt.AttemptID, *local.CheckoutAttemptID)
	assert.Equal(t, attempt.UserID, local.UserID)
	require.NotNil(t, local.PriceID)
	assert.Equal(t, "price_club", *local.PriceID)
	assert.False(t, local.CurrentPeriodEnd.IsZero())

	order, err := orders.NewRepository(db).FindByCheckoutAttemptID(context.Background(), attempt.AttemptID)
	require.NoError(t, err)
	require.NotNil(t, order)
	require.NotNil(t, order.SubscriptionID)
	assert.Equal(t, local.ID, *order.SubscriptionID)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("24.00")), "19.00 plus 5.00 shipping, got %s", order.TotalAmount)

	require.NotNil(t, client.createdParams)
	require.Len(t, client.createdParams.Items, 1)
	assert.Equal(t, "price_club", *client.createdParams.Items[0].Price)
	assert.Equal(t, attempt.AttemptID, client.createdParams.Metadata[attempts.MetadataKey])

	_, err = store.Get(context.Background(), attempt.AttemptID)
	assert.ErrorIs(t, err, attempts.ErrNotFound)
}

func TestMaterializeSubscriptionIdempotentOnReplay(t *testing.T) {
	db := setupSubsTestDB(t)
	store := attempts.NewMemoryStore()
	client := &stubStripeClient{created: stripeSubscription("sub_123", stripe.SubscriptionStatusActive, 1900000000, "price_club")}
	m := newTestMaterializer(t, db, store, client, orders.NewRepository(db))

	attempt := subscriptionAttempt(t, store)
	intent := succeededSetupIntent(attempt.AttemptID, "pm_card")

	require.NoError(t, m.HandleSetupIntentSucceeded(context.Background(), intent))
	require.NoError(t, store.Put(context.Background(), attempt))
	require.NoError(t, m.HandleSetupIntentSucceeded(context.Background(), intent))

	assert.Equal(t, int64(1), countRows(t, db, &models.Subscription{}))
	assert.Equal(t, int64(1), countRows(t, db, &models.Order{}))
}

func TestMaterializeSubscriptionCorrelationLossNoOp(t *testing.T) {
	db := setupSubsTestDB(t)
	store := attempts.NewMemoryStore()
	client := &stubStripeClient{}
	m := newTestMaterializer(t, db, store, client, orders.NewRepository(db))

	require.NoError(t, m.HandleSetupIntentSucceeded(context.Background(), succeededSetupIntent("never-stored", "pm_card")))
	assert.Equal(t, int64(0), countRows(t, db, &models.Subscription{}))
}

func TestMaterializeSubscriptionMissingPaymentMethodSkips(t *testing.T) {
	db := setupSubsTestDB(t)
	store := attempts.NewMemoryStore()
	client := &stubStripeClient{}
	m := newTestMaterializer(t, db, store, client, orders.NewRepository(db))

	attempt := subscriptionAttempt(t, store)
	require.NoError(t, m.HandleSetupIntentSucceeded(context.Background(), succeededSetupIntent(attempt.AttemptID, "")))

	assert.Equal(t, int64(0), countRows(t, db, &models.Subscription{}))
	assert.Nil(t, client.createdParams)
}

type failingOrdersRepo struct {
	orders.Repository
}

func (f *failingOrdersRepo) Create(_ context.Context, _ *models.Order) error {
	return errors.New("order insert failed")
}

func (f *failingOrdersRepo) WithTx(tx *gorm.DB) orders.Repository {
	return &failingOrdersRepo{Repository: f.Repository.WithTx(tx)}
}

func TestMaterializeSubscriptionPersistFailureCancelsProcessorSide(t *testing.T) {
	db := setupSubsTestDB(t)
	store := attempts.NewMemoryStore()
	client := &stubStripeClient{created: stripeSubscription("sub_123", stripe.SubscriptionStatusActive, 1900000000, "price_club")}
	m := newTestMaterializer(t, db, store, client, &failingOrdersRepo{Repository: orders.NewRepository(db)})

	attempt := subscriptionAttempt(t, store)
	err := m.HandleSetupIntentSucceeded(context.Background(), succeededSetupIntent(attempt.AttemptID, "pm_card"))
	require.Error(t, err, "persist failure must propagate for redelivery")

	assert.Equal(t, int64(0), countRows(t, db, &models.Subscription{}), "subscription insert must roll back with the order")
	assert.Equal(t, []string{"sub_123"}, client.canceledIDs)
	_, getErr := store.Get(context.Background(), attempt.AttemptID)
	assert.NoError(t, getErr, "attempt must remain for the retry")
}

// racingSubsRepo simulates losing the checkout_attempt_id uniqueness race: a
// concurrent delivery lands its row between the pre-checks and this Create.
type racingSubsRepo struct {
	Repository
}

func (r *racingSubsRepo) Create(_ context.Context, _ *models.Subscription) error {
	return errors.New("UNIQUE constraint failed: subscriptions.checkout_attempt_id")
}

func (r *racingSubsRepo) WithTx(tx *gorm.DB) Repository {
	return &racingSubsRepo{Repository: r.Repository.WithTx(tx)}
}

func TestMaterializeSubscriptionLostRaceCancelsDuplicate(t *testing.T) {
	db := setupSubsTestDB(t)
	store := attempts.NewMemoryStore()
	client := &stubStripeClient{created: stripeSubscription("sub_123", stripe.SubscriptionStatusActive, 1900000000, "price_club")}

	calc, err := pricing.NewCalculator(&stubPriceGetter{price: &stripe.Price{UnitAmount: 500}}, "price_ship", testLogger())
	require.NoError(t, err)
	m, err := NewMaterializer(MaterializerParams{
		AttemptStore:      store,
		SubscriptionsRepo: &racingSubsRepo{Repository: NewRepository(db)},
		OrdersRepo:        orders.NewRepository(db),
		Stripe:            client,
		Pricing:           calc,
		TransactionRunner: &testTxRunner{db: db},
		Logger:            testLogger(),
	})
	require.NoError(t, err)

	attempt := subscriptionAttempt(t, store)
	require.NoError(t, m.HandleSetupIntentSucceeded(context.Background(), succeededSetupIntent(attempt.AttemptID, "pm_card")),
		"losing the race is the idempotent-skip case, not a failure")

	assert.Equal(t, []string{"sub_123"}, client.canceledIDs, "the untracked duplicate must not keep billing")
	assert.Equal(t, int64(0), countRows(t, db, &models.Order{}))
	_, getErr := store.Get(context.Background(), attempt.AttemptID)
	assert.ErrorIs(t, getErr, attempts.ErrNotFound, "attempt is spent once the winner's row exists")
}
