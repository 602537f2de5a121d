package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PartID accepts both numeric and string ids on the wire.
type PartID string

func (p *PartID) UnmarshalJSON(b []byte) error {
	id, err := partIDFromJSON(b)
	if err != nil {
		return err
	}
	*p = PartID(id)
	return nil
}

// Part is a component as returned by the OutSystems component API.
type Part struct {
	ID         PartID          `json:"Id"`
	Name       string          `json:"Name"`
	Price      decimal.Decimal `json:"Price"`
	Stock      int             `json:"Stock"`
	ImageURL   string          `json:"ImageUrl,omitempty"`
	CreatedAt  string          `json:"CreatedAt,omitempty"`
	CategoryID json.RawMessage `json:"CategoryId,omitempty"`
}

func (p Part) InStock() bool {
	return p.Stock > 0
}

// TotalPrice sums part prices.
func TotalPrice(parts []Part) decimal.Decimal {
	total := decimal.Zero
	for _, p := range parts {
		total = total.Add(p.Price)
	}
	return total
}

// ToCents converts an amount in major units to the smallest currency unit,
// rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

var ErrNotArray = errors.New("parts_list must be an array")

// PartIDs extracts the part ids from a parts list. Items may be bare ids
// or objects carrying "Id", "id" or "part_id". A JSON null is not a list.
func PartIDs(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, ErrNotArray
	}

	ids := make([]string, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(item, &obj); err != nil {
				return nil, fmt.Errorf("parts_list[%d]: %w", i, err)
			}
			found := false
			for _, key := range []string{"Id", "id", "part_id"} {
				if v, ok := obj[key]; ok {
					id, err := partIDFromJSON(v)
					if err != nil {
						return nil, fmt.Errorf("parts_list[%d].%s: %w", i, key, err)
					}
					ids = append(ids, id)
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("parts_list[%d] has no part id", i)
			}
			continue
		}

		id, err := partIDFromJSON(item)
		if err != nil {
			return nil, fmt.Errorf("parts_list[%d]: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CartPartIDs validates the cart's parts_list shape: an object whose
// values each carry an "Id".
func CartPartIDs(raw json.RawMessage) ([]string, error) {
	invalid := errors.New("parts_list must be an object where each value contains an 'Id' attribute")

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, invalid
	}

	// 保持原始顺序
	var ids []string
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, invalid
		}
		var part map[string]json.RawMessage
		if err := dec.Decode(&part); err != nil || part == nil {
			return nil, invalid
		}
		v, ok := part["Id"]
		if !ok {
			return nil, invalid
		}
		id, err := partIDFromJSON(v)
		if err != nil {
			return nil, invalid
		}
		ids = append(ids, id)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func partIDFromJSON(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", errors.New("empty part id")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", errors.New("empty part id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("part id must be a string or number")
	}
	return n.String(), nil
}
