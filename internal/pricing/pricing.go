// Package pricing computes order totals from line items, a coupon and a
// shipping method. All amounts are minor currency units.
package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
)

var (
	ErrUnknownCoupon         = apperr.New(apperr.KindValidation, "invalid_coupon", "unknown coupon")
	ErrCouponExpired         = apperr.New(apperr.KindValidation, "coupon_expired", "coupon expired")
	ErrCouponMinimum         = apperr.New(apperr.KindValidation, "coupon_minimum_not_met", "subtotal below coupon minimum")
	ErrUnknownShippingMethod = apperr.New(apperr.KindValidation, "invalid_shipping_method", "unknown shipping method")
)

var hundred = decimal.NewFromInt(100)

type Line struct {
	UnitPrice int64
	Quantity  int
}

type Totals struct {
	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	Shipping   int64  `json:"shipping"`
	Tax        int64  `json:"tax"`
	Grand      int64  `json:"grand"`
	Currency   string `json:"currency"`
	CouponCode string `json:"couponCode,omitempty"`
}

type Engine struct {
	cfg      Config
	coupons  map[string]Coupon
	shipping map[string]ShippingMethod
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		coupons:  make(map[string]Coupon, len(cfg.Coupons)),
		shipping: make(map[string]ShippingMethod, len(cfg.ShippingMethods)),
	}
	for _, c := range cfg.Coupons {
		e.coupons[c.Code] = c
	}
	for _, m := range cfg.ShippingMethods {
		e.shipping[m.Code] = m
	}
	return e, nil
}

func (e *Engine) Currency() string { return e.cfg.Currency }

func (e *Engine) DefaultShipping() string { return e.cfg.DefaultShipping }

func (e *Engine) ShippingMethods() []ShippingMethod {
	return append([]ShippingMethod(nil), e.cfg.ShippingMethods...)
}

func (e *Engine) ShippingMethod(code string) (ShippingMethod, error) {
	m, ok := e.shipping[code]
	if !ok {
		return ShippingMethod{}, ErrUnknownShippingMethod.With("unknown shipping method %q", code)
	}
	return m, nil
}

// CheckCoupon validates that code can be applied to subtotal at now.
func (e *Engine) CheckCoupon(code string, subtotal int64, now time.Time) (Coupon, error) {
	c, ok := e.coupons[NormalizeCoupon(code)]
	if !ok {
		return Coupon{}, ErrUnknownCoupon.With("coupon %q is not valid", code)
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return Coupon{}, ErrCouponExpired.With("coupon %s expired", c.Code)
	}
	if subtotal < c.MinSubtotal {
		return Coupon{}, ErrCouponMinimum.With("coupon %s requires a subtotal of at least %d", c.Code, c.MinSubtotal)
	}
	return c, nil
}

// Quote prices lines. Nothing is charged for an empty line set. A coupon that no longer applies (expired, unknown or
// under its minimum) contributes no discount; CouponCode is then empty.
func (e *Engine) Quote(lines []Line, couponCode, shippingMethod string, now time.Time) (Totals, error) {
	t := Totals{Currency: e.cfg.Currency}
	for _, l := range lines {
		t.Subtotal += l.UnitPrice * int64(l.Quantity)
	}
	if len(lines) == 0 {
		return t, nil
	}

	if couponCode != "" {
		if c, err := e.CheckCoupon(couponCode, t.Subtotal, now); err == nil {
			t.Discount = discount(c, t.Subtotal)
			t.CouponCode = c.Code
		}
	}

	if shippingMethod == "" {
		shippingMethod = e.cfg.DefaultShipping
	}
	m, err := e.ShippingMethod(shippingMethod)
	if err != nil {
		return Totals{}, err
	}
	net := t.Subtotal - t.Discount
	t.Shipping = m.Fee
	if m.FreeOver > 0 && net >= m.FreeOver {
		t.Shipping = 0
	}

	t.Tax = roundCents(decimal.NewFromInt(net).Mul(e.cfg.taxRate))
	t.Grand = net + t.Shipping + t.Tax
	return t, nil
}

func discount(c Coupon, subtotal int64) int64 {
	var d int64
	switch c.Kind {
	case CouponPercent:
		d = roundCents(decimal.NewFromInt(subtotal).Mul(c.value).Div(hundred))
	case CouponFixed:
		d = c.value.IntPart()
	}
	return min(d, subtotal)
}

// roundCents rounds half away from zero to whole minor units.
func roundCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func NormalizeCoupon(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
