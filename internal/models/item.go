package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// LineItem is one row of a quote or invoice. When SubItems is non-empty the
// parent behaves as an aggregate: its displayed total is the sum of its
// sub-item totals and its own Quantity/UnitPrice are not used. Sub-items do
// not nest further.
type LineItem struct {
	Description string     `json:"description"`
	Quantity    float64    `json:"quantity"`
	UnitPrice   float64    `json:"unitPrice"`
	Total       float64    `json:"total"`
	SubItems    []LineItem `json:"subItems,omitempty"`
}

// IsAggregate reports whether the item carries sub-items.
func (it LineItem) IsAggregate() bool { return len(it.SubItems) > 0 }

// LineItems is stored as a JSON column; the nested sub-item shape does not
// map onto flat relational rows.
type LineItems []LineItem

func (items LineItems) Value() (driver.Value, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (items *LineItems) Scan(src any) error {
	if src == nil {
		*items = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("line items: unsupported column type")
	}
	if len(b) == 0 {
		*items = nil
		return nil
	}
	return json.Unmarshal(b, items)
}

// Normalize recomputes every Total and enforces the single nesting level.
// For a plain item total = quantity * unitPrice; for an aggregate the parent
// total is the sum of sub-item totals, whatever its own fields say.
func (items LineItems) Normalize() {
	for i := range items {
		it := &items[i]
		if len(it.SubItems) == 0 {
			it.Total = lineTotal(it.Quantity, it.UnitPrice)
			continue
		}
		sum := decimal.Zero
		for j := range it.SubItems {
			sub := &it.SubItems[j]
			sub.SubItems = nil
			sub.Total = lineTotal(sub.Quantity, sub.UnitPrice)
			sum = sum.Add(decimal.NewFromFloat(sub.Total))
		}
		it.Total = sum.Round(2).InexactFloat64()
	}
}

// TotalHT sums item totals, rounded to the cent.
func (items LineItems) TotalHT() float64 {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(decimal.NewFromFloat(it.Total))
	}
	return sum.Round(2).InexactFloat64()
}

func lineTotal(qty, price float64) float64 {
	return decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).Round(2).InexactFloat64()
}
