package pricing

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

type CouponKind string

const (
	CouponPercent CouponKind = "percent"
	CouponFixed   CouponKind = "fixed"
)

type Coupon struct {
	Code string     `yaml:"code"`
	Kind CouponKind `yaml:"kind"`
	// Value is a percentage for percent coupons and minor units for fixed ones.
	Value       string    `yaml:"value"`
	MinSubtotal int64     `yaml:"minSubtotal"`
	ExpiresAt   time.Time `yaml:"expiresAt"`

	value decimal.Decimal
}

type ShippingMethod struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	Fee  int64  `yaml:"fee"`
	// FreeOver waives the fee when the discounted subtotal reaches it; 0 disables.
	FreeOver int64 `yaml:"freeOver"`
}

type Config struct {
	Currency        string           `yaml:"currency"`
	TaxRate         string           `yaml:"taxRate"`
	DefaultShipping string           `yaml:"defaultShipping"`
	Coupons         []Coupon         `yaml:"coupons"`
	ShippingMethods []ShippingMethod `yaml:"shippingMethods"`

	taxRate decimal.Decimal
}

// DefaultConfig is used when no PRICING_CONFIG file is given.
func DefaultConfig() Config {
	return Config{
		Currency:        "USD",
		TaxRate:         "0",
		DefaultShipping: "standard",
		Coupons: []Coupon{
			{Code: "WELCOME10", Kind: CouponPercent, Value: "10"},
		},
		ShippingMethods: []ShippingMethod{
			{Code: "standard", Name: "Standard", Fee: 500},
			{Code: "express", Name: "Express", Fee: 1500},
			{Code: "pickup", Name: "Store pickup", Fee: 0},
		},
	}
}

// LoadConfig reads a YAML pricing file. An empty path yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("pricing: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("pricing: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(c.Currency)))
	if err != nil {
		return fmt.Errorf("pricing: currency %q: %w", c.Currency, err)
	}
	c.Currency = unit.String()

	if c.TaxRate == "" {
		c.TaxRate = "0"
	}
	if c.taxRate, err = decimal.NewFromString(c.TaxRate); err != nil || c.taxRate.IsNegative() {
		return fmt.Errorf("pricing: invalid tax rate %q", c.TaxRate)
	}

	seen := make(map[string]bool, len(c.Coupons))
	for i := range c.Coupons {
		cp := &c.Coupons[i]
		cp.Code = strings.ToUpper(strings.TrimSpace(cp.Code))
		if cp.Code == "" || seen[cp.Code] {
			return fmt.Errorf("pricing: empty or duplicate coupon code %q", cp.Code)
		}
		seen[cp.Code] = true
		v, err := decimal.NewFromString(cp.Value)
		if err != nil || !v.IsPositive() {
			return fmt.Errorf("pricing: coupon %s: invalid value %q", cp.Code, cp.Value)
		}
		switch cp.Kind {
		case CouponPercent:
			if v.GreaterThan(decimal.NewFromInt(100)) {
				return fmt.Errorf("pricing: coupon %s: percent above 100", cp.Code)
			}
		case CouponFixed:
		default:
			return fmt.Errorf("pricing: coupon %s: unknown kind %q", cp.Code, cp.Kind)
		}
		cp.value = v
	}

	if len(c.ShippingMethods) == 0 {
		return fmt.Errorf("pricing: at least one shipping method is required")
	}
	for _, m := range c.ShippingMethods {
		if m.Code == "" || m.Fee < 0 {
			return fmt.Errorf("pricing: invalid shipping method %+v", m)
		}
	}
	if c.DefaultShipping == "" {
		c.DefaultShipping = c.ShippingMethods[0].Code
	}
	return nil
}
