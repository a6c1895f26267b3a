// Package catalog loads houses, flags and rates from a YAML seed document.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bher20/energybill/internal/billing"
	"github.com/bher20/energybill/internal/storage"
)

// Document is the seed file layout. Decimal fields are read from their
// literal text so 0.80 stays exact.
type Document struct {
	Houses []House `yaml:"houses"`
	Flags  []Flag  `yaml:"flags"`
	Rates  []Rate  `yaml:"rates"`
}

type House struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

type Flag struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	ConsumptionReference string `yaml:"consumption_reference"`
	AdditionalValue      string `yaml:"additional_value"`
	Active               *bool  `yaml:"active"`
}

type Rate struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Value  string `yaml:"value"`
	Active *bool  `yaml:"active"`
}

// Result counts what was written.
type Result struct {
	Houses int
	Flags  int
	Rates  int
}

// Parse decodes and validates a seed document.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFile parses the seed document at path.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func (d *Document) validate() error {
	for i, f := range d.Flags {
		if _, err := parseDecimal(f.ConsumptionReference); err != nil {
			return fmt.Errorf("catalog: flags[%d] consumption_reference: %w", i, err)
		}
		if _, err := parseDecimal(f.AdditionalValue); err != nil {
			return fmt.Errorf("catalog: flags[%d] additional_value: %w", i, err)
		}
	}
	for i, r := range d.Rates {
		if !billing.RateType(strings.ToUpper(r.Type)).Valid() {
			return fmt.Errorf("catalog: rates[%d] has unknown type %q", i, r.Type)
		}
		if _, err := parseDecimal(r.Value); err != nil {
			return fmt.Errorf("catalog: rates[%d] value: %w", i, err)
		}
	}
	return nil
}

// Apply validates the document and upserts every entity in it. Nothing is
// written if validation fails. Entities without an id get a fresh one, so
// re-applying such a document creates duplicates.
func Apply(ctx context.Context, st storage.Storage, doc *Document) (Result, error) {
	var res Result
	if err := doc.validate(); err != nil {
		return res, err
	}
	for _, h := range doc.Houses {
		if err := st.UpsertHouse(ctx, storage.House{
			ID:      idOrNew(h.ID),
			Name:    h.Name,
			Address: h.Address,
		}); err != nil {
			return res, fmt.Errorf("catalog: house %s: %w", h.ID, err)
		}
		res.Houses++
	}
	for _, f := range doc.Flags {
		ref, _ := parseDecimal(f.ConsumptionReference)
		extra, _ := parseDecimal(f.AdditionalValue)
		if err := st.UpsertFlag(ctx, storage.Flag{
			ID:                   idOrNew(f.ID),
			Name:                 f.Name,
			ConsumptionReference: ref,
			AdditionalValue:      extra,
			Active:               activeOrDefault(f.Active),
		}); err != nil {
			return res, fmt.Errorf("catalog: flag %s: %w", f.ID, err)
		}
		res.Flags++
	}
	for _, r := range doc.Rates {
		v, _ := parseDecimal(r.Value)
		if err := st.UpsertRate(ctx, storage.Rate{
			ID:     idOrNew(r.ID),
			Name:   r.Name,
			Type:   strings.ToUpper(r.Type),
			Value:  v,
			Active: activeOrDefault(r.Active),
		}); err != nil {
			return res, fmt.Errorf("catalog: rate %s: %w", r.ID, err)
		}
		res.Rates++
	}
	return res, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, errors.New("missing value")
	}
	return decimal.NewFromString(s)
}

func idOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func activeOrDefault(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}
