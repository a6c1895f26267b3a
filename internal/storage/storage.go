package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDuplicateID is returned when an insert collides with an existing record.
var ErrDuplicateID = errors.New("storage: duplicate id")

// Storage abstracts persistence for the rate catalog and calculation records.
//
// Lookups of a missing record return (nil, nil).
type Storage interface {
	// Catalog
	ListActiveRates(ctx context.Context) ([]Rate, error)
	GetRate(ctx context.Context, id string) (*Rate, error)
	UpsertRate(ctx context.Context, r Rate) error
	GetActiveFlag(ctx context.Context, id string) (*Flag, error)
	GetFlag(ctx context.Context, id string) (*Flag, error)
	UpsertFlag(ctx context.Context, f Flag) error
	GetHouse(ctx context.Context, id string) (*House, error)
	UpsertHouse(ctx context.Context, h House) error

	// Calculations
	CreatePendingCalculation(ctx context.Context, c Calculation) (*Calculation, error)
	UpdateCalculationValue(ctx context.Context, id string, value decimal.Decimal) (*Calculation, error)
	GetCalculation(ctx context.Context, id string) (*Calculation, error)
	// ListStalePending returns calculations still pending that were created before the given time.
	ListStalePending(ctx context.Context, before time.Time) ([]Calculation, error)

	// Line items
	InsertLineItem(ctx context.Context, item LineItem) (*LineItem, error)
	ListLineItems(ctx context.Context, calculationID string) ([]LineItem, error)

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}

// Locker is implemented by backends that can serialise scheduled jobs across
// replicas.
type Locker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
}
