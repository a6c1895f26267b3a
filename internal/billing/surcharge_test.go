package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func TestResolveSurcharge(t *testing.T) {
	flag := Flag{ID: "red", ConsumptionReference: dec("200"), AdditionalValue: dec("0.20")}

	tests := []struct {
		name        string
		consumption string
		wantExcess  string
		wantExtra   string
	}{
		{name: "below reference", consumption: "150", wantExcess: "0", wantExtra: "0"},
		{name: "at reference", consumption: "200", wantExcess: "0", wantExtra: "0"},
		{name: "zero consumption", consumption: "0", wantExcess: "0", wantExtra: "0"},
		{name: "above reference", consumption: "250", wantExcess: "50", wantExtra: "0.20"},
		{name: "fractional excess", consumption: "200.5", wantExcess: "0.5", wantExtra: "0.20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSurcharge(flag, dec(tt.consumption))
			assertDecimal(t, tt.wantExcess, got.ExcessConsumption)
			assertDecimal(t, tt.wantExtra, got.ExtraUnitPrice)
		})
	}
}

func TestSurchargeResult_Applies(t *testing.T) {
	assert.False(t, SurchargeResult{}.Applies())
	assert.False(t, SurchargeResult{ExcessConsumption: dec("0"), ExtraUnitPrice: dec("1")}.Applies())
	assert.True(t, SurchargeResult{ExcessConsumption: dec("0.01")}.Applies())
}
