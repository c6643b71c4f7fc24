package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/scoopsociety/creamery-backend/internal/attempts"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

// PriceGetter fetches a catalog price from the payment processor.
type PriceGetter interface {
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
}

// Quote is the authoritative pricing of a cart. The same computation runs at
// session initiation and again at materialization time so the persisted total
// never depends on client input.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Calculator computes cart totals from resolved unit prices plus the
// configured shipping price.
type Calculator struct {
	prices          PriceGetter
	shippingPriceID string
	logg            *logger.Logger
}

// NewCalculator builds a pricing calculator. An empty shipping price id means
// shipping is never charged.
func NewCalculator(prices PriceGetter, shippingPriceID string, logg *logger.Logger) (*Calculator, error) {
	if prices == nil {
		return nil, fmt.Errorf("price getter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Calculator{
		prices:          prices,
		shippingPriceID: strings.TrimSpace(shippingPriceID),
		logg:            logg,
	}, nil
}

// Subtotal sums unit price times quantity over every cart line.
func (c *Calculator) Subtotal(items []attempts.CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
	}
	return subtotal
}

// ShippingCost resolves the configured shipping price from the processor
// catalog. A zero subtotal or an unconfigured price id yields zero shipping
// with a warning; a failed catalog lookup propagates so callers can retry.
func (c *Calculator) ShippingCost(ctx context.Context, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if c.shippingPriceID == "" {
		c.logg.Warn(ctx, "no shipping price configured, charging zero shipping")
		return decimal.Zero, nil
	}
	if subtotal.IsZero() {
		c.logg.Warn(ctx, "zero subtotal, omitting shipping")
		return decimal.Zero, nil
	}

	price, err := c.prices.GetPrice(ctx, c.shippingPriceID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch shipping price")
	}
	if price == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, "shipping price not found")
	}
	return FromCents(price.UnitAmount), nil
}

// Quote computes the full cart quote: subtotal, shipping and total.
func (c *Calculator) Quote(ctx context.Context, items []attempts.CartItem) (Quote, error) {
	subtotal := c.Subtotal(items)
	shipping, err := c.ShippingCost(ctx, subtotal)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal.Add(shipping),
	}, nil
}

// Cents converts a decimal dollar amount to integer cents for the processor.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromCents converts integer processor cents back to a decimal dollar amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
