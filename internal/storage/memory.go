package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu           sync.RWMutex
	houses       map[string]House
	rates        map[string]Rate
	flags        map[string]Flag
	calculations map[string]Calculation
	lineItems    map[string][]LineItem // keyed by calculation id
	now          func() time.Time
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		houses:       make(map[string]House),
		rates:        make(map[string]Rate),
		flags:        make(map[string]Flag),
		calculations: make(map[string]Calculation),
		lineItems:    make(map[string][]LineItem),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

// AcquireAdvisoryLock always succeeds: a memory store is single-process.
func (m *MemoryStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

func (m *MemoryStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

// Catalog

func (m *MemoryStorage) ListActiveRates(ctx context.Context) ([]Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rate, 0, len(m.rates))
	for _, r := range m.rates {
		if r.Usable() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) GetRate(ctx context.Context, id string) (*Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rates[id]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *MemoryStorage) UpsertRate(ctx context.Context, r Rate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if prev, ok := m.rates[r.ID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.rates[r.ID] = r
	return nil
}

func (m *MemoryStorage) GetActiveFlag(ctx context.Context, id string) (*Flag, error) {
	f, err := m.GetFlag(ctx, id)
	if err != nil || f == nil || !f.Usable() {
		return nil, err
	}
	return f, nil
}

func (m *MemoryStorage) GetFlag(ctx context.Context, id string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[id]
	if !ok {
		return nil, nil
	}
	cp := f
	return &cp, nil
}

func (m *MemoryStorage) UpsertFlag(ctx context.Context, f Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if prev, ok := m.flags[f.ID]; ok {
		f.CreatedAt = prev.CreatedAt
	} else if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	m.flags[f.ID] = f
	return nil
}

func (m *MemoryStorage) GetHouse(ctx context.Context, id string) (*House, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.houses[id]
	if !ok {
		return nil, nil
	}
	cp := h
	return &cp, nil
}

func (m *MemoryStorage) UpsertHouse(ctx context.Context, h House) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.houses[h.ID]; ok {
		h.CreatedAt = prev.CreatedAt
	} else if h.CreatedAt.IsZero() {
		h.CreatedAt = m.now()
	}
	m.houses[h.ID] = h
	return nil
}

// Calculations

func (m *MemoryStorage) CreatePendingCalculation(ctx context.Context, c Calculation) (*Calculation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.calculations[c.ID]; exists {
		return nil, ErrDuplicateID
	}
	now := m.now()
	c.Value = decimal.NullDecimal{}
	c.CreatedAt = now
	c.UpdatedAt = now
	m.calculations[c.ID] = c
	cp := c
	return &cp, nil
}

func (m *MemoryStorage) UpdateCalculationValue(ctx context.Context, id string, value decimal.Decimal) (*Calculation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calculations[id]
	if !ok {
		return nil, nil
	}
	c.Value = decimal.NewNullDecimal(value)
	c.UpdatedAt = m.now()
	m.calculations[id] = c
	cp := c
	return &cp, nil
}

func (m *MemoryStorage) GetCalculation(ctx context.Context, id string) (*Calculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calculations[id]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (m *MemoryStorage) ListStalePending(ctx context.Context, before time.Time) ([]Calculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Calculation
	for _, c := range m.calculations {
		if c.Pending() && c.CreatedAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Line items

func (m *MemoryStorage) InsertLineItem(ctx context.Context, item LineItem) (*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.lineItems[item.CalculationID] {
		if existing.ID == item.ID {
			return nil, ErrDuplicateID
		}
	}
	item.CreatedAt = m.now()
	m.lineItems[item.CalculationID] = append(m.lineItems[item.CalculationID], item)
	cp := item
	return &cp, nil
}

func (m *MemoryStorage) ListLineItems(ctx context.Context, calculationID string) ([]LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.lineItems[calculationID]
	out := make([]LineItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}
