// Package calculation runs a bill calculation end to end: it reads the
// catalog, composes the bill and records the calculation with its line items.
package calculation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/billing"
	"github.com/bher20/energybill/internal/metrics"
	"github.com/bher20/energybill/internal/storage"
)

// Request is the input of a calculation.
type Request struct {
	HouseID     string          `json:"houseId"`
	FlagID      string          `json:"flagId"`
	Date        time.Time       `json:"date"`
	Consumption decimal.Decimal `json:"consumption"`
}

// Detail is a stored calculation with its associations resolved.
type Detail struct {
	storage.Calculation
	House     *storage.House   `json:"house"`
	Flag      *storage.Flag    `json:"flag"`
	LineItems []LineItemDetail `json:"lineItems"`
}

// LineItemDetail is a stored line item with the rate it was derived from.
// Rate is nil if the rate no longer exists.
type LineItemDetail struct {
	storage.LineItem
	Rate *storage.Rate `json:"rate"`
}

type Service struct {
	store storage.Storage
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewService(st storage.Storage, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: st,
		log:   log.Named("calculation"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

func (r Request) validate() error {
	const op = "validate"
	if strings.TrimSpace(r.HouseID) == "" {
		return invalid(op, "houseId is required")
	}
	if strings.TrimSpace(r.FlagID) == "" {
		return invalid(op, "flagId is required")
	}
	if r.Consumption.IsNegative() {
		return invalid(op, "consumption must not be negative, got %s", r.Consumption)
	}
	return nil
}

// Create computes and records a calculation.
//
// The flag is checked before anything is written. Writes are sequential and
// not transactional: if one fails the calculation stays pending with the
// line items written so far, and the error is KindUnexpected.
func (s *Service) Create(ctx context.Context, req Request) (*Detail, error) {
	d, err := s.create(ctx, req)
	switch {
	case err == nil:
		metrics.ObserveCalculation("created")
	case KindOf(err) == KindInvalid:
		metrics.ObserveCalculation("invalid")
	case KindOf(err) == KindNotFound:
		metrics.ObserveCalculation("not_found")
	default:
		metrics.ObserveCalculation("failed")
		s.log.Error("calculation failed", zap.String("house_id", req.HouseID), zap.String("flag_id", req.FlagID), zap.Error(err))
	}
	return d, err
}

func (s *Service) create(ctx context.Context, req Request) (*Detail, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		req.Date = s.now()
	}

	rates, err := s.store.ListActiveRates(ctx)
	if err != nil {
		return nil, unexpected("list rates", err)
	}
	flag, err := s.store.GetActiveFlag(ctx, req.FlagID)
	if err != nil {
		return nil, unexpected("get flag", err)
	}
	if flag == nil {
		return nil, notFound("get flag", ErrFlagNotFound, req.FlagID)
	}
	house, err := s.store.GetHouse(ctx, req.HouseID)
	if err != nil {
		return nil, unexpected("get house", err)
	}

	calc, err := s.store.CreatePendingCalculation(ctx, storage.Calculation{
		ID:          s.newID(),
		HouseID:     req.HouseID,
		FlagID:      flag.ID,
		Date:        req.Date,
		Consumption: req.Consumption,
	})
	if err != nil {
		return nil, unexpected("create calculation", err)
	}
	log := s.log.With(zap.String("calculation_id", calc.ID))

	comp := billing.Compose(toBillingRates(rates), toBillingFlag(*flag), req.Consumption)
	for _, r := range comp.Skipped {
		metrics.SkippedRatesTotal.Inc()
		log.Warn("skipping rate with unrecognized type", zap.String("rate_id", r.ID), zap.String("type", string(r.Type)))
	}

	byID := make(map[string]storage.Rate, len(rates))
	for _, r := range rates {
		byID[r.ID] = r
	}

	items := make([]LineItemDetail, 0, len(comp.LineItems))
	for i, li := range comp.LineItems {
		stored, err := s.store.InsertLineItem(ctx, storage.LineItem{
			ID:            s.newID(),
			CalculationID: calc.ID,
			RateID:        li.RateID,
			Position:      i,
			Value:         li.Value,
			Description:   li.Description,
		})
		if err != nil {
			log.Warn("calculation left pending", zap.Int("line_items_written", i))
			return nil, unexpected("insert line item", err)
		}
		metrics.CalculationLineItemsTotal.WithLabelValues(string(li.RateType)).Inc()
		items = append(items, LineItemDetail{LineItem: *stored, Rate: ratePtr(byID, li.RateID)})
	}

	updated, err := s.store.UpdateCalculationValue(ctx, calc.ID, comp.Total)
	if err != nil {
		log.Warn("calculation left pending", zap.Int("line_items_written", len(items)))
		return nil, unexpected("update calculation value", err)
	}
	if updated == nil {
		return nil, unexpected("update calculation value", fmt.Errorf("calculation %s disappeared", calc.ID))
	}

	total, _ := comp.Total.Float64()
	metrics.CalculationValue.Observe(total)
	log.Info("calculation created",
		zap.String("house_id", req.HouseID),
		zap.String("flag_id", flag.ID),
		zap.String("consumption", req.Consumption.String()),
		zap.String("total", comp.Total.String()),
		zap.String("taxation_total", comp.TaxationTotal.String()),
		zap.Int("line_items", len(items)))

	return &Detail{Calculation: *updated, House: house, Flag: flag, LineItems: items}, nil
}

// Get returns a stored calculation, pending or not, with its associations.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	const op = "get calculation"
	calc, err := s.store.GetCalculation(ctx, id)
	if err != nil {
		return nil, unexpected(op, err)
	}
	if calc == nil {
		return nil, notFound(op, ErrCalculationNotFound, id)
	}

	house, err := s.store.GetHouse(ctx, calc.HouseID)
	if err != nil {
		return nil, unexpected(op, err)
	}
	flag, err := s.store.GetFlag(ctx, calc.FlagID)
	if err != nil {
		return nil, unexpected(op, err)
	}
	stored, err := s.store.ListLineItems(ctx, calc.ID)
	if err != nil {
		return nil, unexpected(op, err)
	}

	// nil entries remember rates that no longer exist
	rates := make(map[string]*storage.Rate)
	items := make([]LineItemDetail, 0, len(stored))
	for _, li := range stored {
		r, seen := rates[li.RateID]
		if !seen {
			r, err = s.store.GetRate(ctx, li.RateID)
			if err != nil {
				return nil, unexpected(op, err)
			}
			rates[li.RateID] = r
		}
		items = append(items, LineItemDetail{LineItem: li, Rate: r})
	}

	return &Detail{Calculation: *calc, House: house, Flag: flag, LineItems: items}, nil
}

func ratePtr(m map[string]storage.Rate, id string) *storage.Rate {
	r, ok := m[id]
	if !ok {
		return nil
	}
	return &r
}

func toBillingRates(in []storage.Rate) []billing.Rate {
	out := make([]billing.Rate, 0, len(in))
	for _, r := range in {
		out = append(out, billing.Rate{ID: r.ID, Name: r.Name, Type: billing.RateType(r.Type), Value: r.Value})
	}
	return out
}

func toBillingFlag(f storage.Flag) billing.Flag {
	return billing.Flag{
		ID:                   f.ID,
		Name:                 f.Name,
		ConsumptionReference: f.ConsumptionReference,
		AdditionalValue:      f.AdditionalValue,
	}
}
