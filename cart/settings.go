package cart

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Setting keys as published by the store settings API.
const (
	SettingFreeDeliveryThreshold = "free_delivery_threshold"
	SettingDeliveryCost          = "delivery_cost"
)

var (
	defaultFreeDeliveryThreshold = decimal.NewFromInt(1500)
	defaultDeliveryCost          = decimal.NewFromInt(70)
)

// Settings holds the store configuration the cart prices delivery with.
type Settings struct {
	// FreeDeliveryThreshold is the discounted subtotal at or above which
	// delivery is free.
	FreeDeliveryThreshold decimal.Decimal
	// DeliveryCost is the flat fee charged below the threshold.
	DeliveryCost decimal.Decimal
}

func DefaultSettings() Settings {
	return Settings{
		FreeDeliveryThreshold: defaultFreeDeliveryThreshold,
		DeliveryCost:          defaultDeliveryCost,
	}
}

// ParseSettings reads the string-encoded settings blob. Missing, malformed
// or negative values fall back to the defaults.
func ParseSettings(raw map[string]string) Settings {
	return Settings{
		FreeDeliveryThreshold: parseAmount(raw[SettingFreeDeliveryThreshold], defaultFreeDeliveryThreshold),
		DeliveryCost:          parseAmount(raw[SettingDeliveryCost], defaultDeliveryCost),
	}
}

func parseAmount(s string, fallback decimal.Decimal) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return fallback
	}
	return d
}
