// Package billing computes household energy bills from a set of rates and a
// surcharge flag. Everything here is pure: no storage, no logging.
package billing

import "github.com/shopspring/decimal"

// RateType discriminates how a rate contributes to a bill.
type RateType string

const (
	// RateFixed is a flat charge added once per bill.
	RateFixed RateType = "FIXED"
	// RateConsumption is a unit price multiplied by the kWh consumed.
	RateConsumption RateType = "CONSUMPTION"
	// RateTaxation is a percentage applied over the consumption total.
	RateTaxation RateType = "TAXATION"
)

// Valid reports whether t is one of the recognized rate types.
func (t RateType) Valid() bool {
	switch t {
	case RateFixed, RateConsumption, RateTaxation:
		return true
	}
	return false
}

// Rate is a billing rule. Value is a currency amount for FIXED and
// CONSUMPTION rates and percentage points for TAXATION rates.
type Rate struct {
	ID    string
	Name  string
	Type  RateType
	Value decimal.Decimal
}

// Flag is a seasonal surcharge regime: consumption above
// ConsumptionReference is billed with AdditionalValue added to the unit price.
type Flag struct {
	ID                   string
	Name                 string
	ConsumptionReference decimal.Decimal
	AdditionalValue      decimal.Decimal
}

// SurchargeResult is the portion of consumption that exceeds a flag's
// reference and the extra unit price to charge on it.
type SurchargeResult struct {
	ExcessConsumption decimal.Decimal
	ExtraUnitPrice    decimal.Decimal
}

// Applies reports whether any consumption is above the flag reference.
func (s SurchargeResult) Applies() bool {
	return s.ExcessConsumption.IsPositive()
}

// LineItem is one monetary contribution of a rate to a bill, not yet
// attached to a stored calculation.
type LineItem struct {
	RateID      string
	RateType    RateType
	Value       decimal.Decimal
	Description string
}

// Composition is the outcome of composing a bill.
//
// TaxationTotal is reported for display but is not part of Total.
type Composition struct {
	Surcharge        SurchargeResult
	FixedTotal       decimal.Decimal
	ConsumptionTotal decimal.Decimal
	TaxationTotal    decimal.Decimal
	Total            decimal.Decimal
	LineItems        []LineItem
	Skipped          []Rate
}
