package billing

import "github.com/shopspring/decimal"

// ResolveSurcharge returns the consumption above the flag reference and the
// extra unit price for it. At or below the reference nothing applies.
func ResolveSurcharge(flag Flag, consumption decimal.Decimal) SurchargeResult {
	excess := consumption.Sub(flag.ConsumptionReference)
	if !excess.IsPositive() {
		return SurchargeResult{ExcessConsumption: decimal.Zero, ExtraUnitPrice: decimal.Zero}
	}
	return SurchargeResult{
		ExcessConsumption: excess,
		ExtraUnitPrice:    flag.AdditionalValue,
	}
}
