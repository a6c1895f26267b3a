package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DescriptionBaseConsumption annotates the part of a split consumption
// charge billed at the plain unit price.
const DescriptionBaseConsumption = "base-tariff consumption"

var hundred = decimal.NewFromInt(100)

// SurchargeDescription annotates the part of a split consumption charge
// billed with the flag's extra unit price.
func SurchargeDescription(extra decimal.Decimal) string {
	return fmt.Sprintf("consumption with additional tariff of %s per kWh", extra.String())
}

// Compose applies rates to consumption under flag.
//
// Rates are handled by type, never by list position: fixed charges first,
// then consumption charges (split into base and surcharged portions when the
// flag applies), then taxation over the final consumption total. Taxation
// line items are produced but Total is FixedTotal + ConsumptionTotal only.
// Rates of any other type are returned in Skipped.
func Compose(rates []Rate, flag Flag, consumption decimal.Decimal) Composition {
	var fixed, perUnit, taxes []Rate
	c := Composition{
		Surcharge:        ResolveSurcharge(flag, consumption),
		FixedTotal:       decimal.Zero,
		ConsumptionTotal: decimal.Zero,
		TaxationTotal:    decimal.Zero,
	}

	for _, r := range rates {
		switch r.Type {
		case RateFixed:
			fixed = append(fixed, r)
		case RateConsumption:
			perUnit = append(perUnit, r)
		case RateTaxation:
			taxes = append(taxes, r)
		default:
			c.Skipped = append(c.Skipped, r)
		}
	}

	c.composeFixed(fixed)
	c.composeConsumption(perUnit, consumption)
	c.composeTaxation(taxes)

	c.Total = c.FixedTotal.Add(c.ConsumptionTotal)
	return c
}

func (c *Composition) composeFixed(rates []Rate) {
	for _, r := range rates {
		c.add(r, r.Value, "")
		c.FixedTotal = c.FixedTotal.Add(r.Value)
	}
}

func (c *Composition) composeConsumption(rates []Rate, consumption decimal.Decimal) {
	s := c.Surcharge
	for _, r := range rates {
		if !s.Applies() {
			v := r.Value.Mul(consumption)
			c.add(r, v, "")
			c.ConsumptionTotal = c.ConsumptionTotal.Add(v)
			continue
		}

		base := r.Value.Mul(consumption.Sub(s.ExcessConsumption))
		c.add(r, base, DescriptionBaseConsumption)

		extra := r.Value.Add(s.ExtraUnitPrice).Mul(s.ExcessConsumption)
		c.add(r, extra, SurchargeDescription(s.ExtraUnitPrice))

		c.ConsumptionTotal = c.ConsumptionTotal.Add(base).Add(extra)
	}
}

func (c *Composition) composeTaxation(rates []Rate) {
	for _, r := range rates {
		v := c.ConsumptionTotal.Mul(r.Value).Div(hundred)
		c.add(r, v, "")
		c.TaxationTotal = c.TaxationTotal.Add(v)
	}
}

func (c *Composition) add(r Rate, v decimal.Decimal, description string) {
	c.LineItems = append(c.LineItems, LineItem{
		RateID:      r.ID,
		RateType:    r.Type,
		Value:       v,
		Description: description,
	})
}
