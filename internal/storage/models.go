package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// House is the consumer unit a calculation is billed to.
type House struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Name      string    `json:"name" gorm:"column:name"`
	Address   string    `json:"address,omitempty" gorm:"column:address"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at"`
}

func (House) TableName() string { return "houses" }

// Rate is a stored billing rule. Type holds one of the billing.RateType values.
type Rate struct {
	ID        string          `json:"id" gorm:"primaryKey;column:id"`
	Name      string          `json:"name" gorm:"column:name"`
	Type      string          `json:"type" gorm:"column:type;index"`
	Value     decimal.Decimal `json:"value" gorm:"column:value;type:numeric"`
	Active    bool            `json:"active" gorm:"column:active"`
	DeletedAt *time.Time      `json:"deletedAt,omitempty" gorm:"column:deleted_at"`
	CreatedAt time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

func (Rate) TableName() string { return "rates" }

// Usable reports whether the rate participates in new calculations.
func (r Rate) Usable() bool { return r.Active && r.DeletedAt == nil }

// Flag is a stored surcharge regime.
type Flag struct {
	ID                   string          `json:"id" gorm:"primaryKey;column:id"`
	Name                 string          `json:"name" gorm:"column:name"`
	ConsumptionReference decimal.Decimal `json:"consumptionReference" gorm:"column:consumption_reference;type:numeric"`
	AdditionalValue      decimal.Decimal `json:"additionalValue" gorm:"column:additional_value;type:numeric"`
	Active               bool            `json:"active" gorm:"column:active"`
	DeletedAt            *time.Time      `json:"deletedAt,omitempty" gorm:"column:deleted_at"`
	CreatedAt            time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt            time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

func (Flag) TableName() string { return "flags" }

// Usable reports whether the flag may be selected for a new calculation.
func (f Flag) Usable() bool { return f.Active && f.DeletedAt == nil }

// Calculation is a bill for one house and period. Value stays null while the
// calculation is pending.
type Calculation struct {
	ID          string              `json:"id" gorm:"primaryKey;column:id"`
	HouseID     string              `json:"houseId" gorm:"column:house_id;index"`
	FlagID      string              `json:"flagId" gorm:"column:flag_id"`
	Date        time.Time           `json:"date" gorm:"column:date"`
	Consumption decimal.Decimal     `json:"consumption" gorm:"column:consumption;type:numeric"`
	Value       decimal.NullDecimal `json:"value" gorm:"column:value;type:numeric"`
	CreatedAt   time.Time           `json:"createdAt" gorm:"column:created_at;index"`
	UpdatedAt   time.Time           `json:"updatedAt" gorm:"column:updated_at"`
}

func (Calculation) TableName() string { return "energy_calculations" }

// Pending reports whether no total has been recorded yet.
func (c Calculation) Pending() bool { return !c.Value.Valid }

// LineItem is one rate contribution recorded against a calculation.
// Position preserves the order items were produced in.
type LineItem struct {
	ID            string          `json:"id" gorm:"primaryKey;column:id"`
	CalculationID string          `json:"calculationId" gorm:"column:calculation_id;index"`
	RateID        string          `json:"rateId" gorm:"column:rate_id"`
	Position      int             `json:"position" gorm:"column:position"`
	Value         decimal.Decimal `json:"value" gorm:"column:value;type:numeric"`
	Description   string          `json:"description,omitempty" gorm:"column:description"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"column:created_at"`
}

func (LineItem) TableName() string { return "energy_calculation_rates" }
