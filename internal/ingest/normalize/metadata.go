// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package normalize

import (
	"encoding/json"
	"strings"

	"jobfeed/internal/ingest/source"
)

// CurrencyAmount preserves the {unit, amount} shape some upstream metadata
// fields use for currency-typed values.
type CurrencyAmount struct {
	Unit   string `json:"unit"`
	Amount string `json:"amount"`
}

// Metadata is the normalized upstream metadata[{name,value,value_type}]:
// an ordered list (for display) plus a name->value map (for lookup). On
// duplicate names, the first occurrence wins.
type Metadata struct {
	Ordered []source.MetadataEntry
	ByName  map[string]any
}

// NormalizeMetadata trims strings, preserves currency {unit,amount} shape,
// drops empty entries, and de-duplicates by name (first wins).
func NormalizeMetadata(entries []source.MetadataEntry) Metadata {
	out := Metadata{ByName: map[string]any{}}

	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		if _, exists := out.ByName[name]; exists {
			continue
		}

		value := normalizeValue(e.Value)
		if isEmptyValue(value) {
			continue
		}

		out.Ordered = append(out.Ordered, source.MetadataEntry{Name: name, Value: value, ValueType: e.ValueType})
		out.ByName[name] = value
	}

	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if unit, amount, ok := asCurrency(t); ok {
			return CurrencyAmount{Unit: unit, Amount: amount}
		}
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	default:
		return v
	}
}

func asCurrency(m map[string]any) (unit, amount string, ok bool) {
	u, hasUnit := m["unit"]
	a, hasAmount := m["amount"]
	if !hasUnit || !hasAmount {
		return "", "", false
	}
	us, uOK := u.(string)
	if !uOK {
		return "", "", false
	}
	switch av := a.(type) {
	case string:
		return us, av, true
	case json.Number:
		return us, av.String(), true
	default:
		return "", "", false
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case nil:
		return true
	default:
		return false
	}
}

// ToRawMessage serializes the metadata entries as a JSON object of name to
// value ("{}" when there are none) for persistence, matching the store's
// metadata_kv column.
func ToRawMessage(m Metadata) (json.RawMessage, error) {
	if len(m.Ordered) == 0 {
		return json.RawMessage("{}"), nil
	}
	obj := make(map[string]any, len(m.Ordered))
	for _, e := range m.Ordered {
		obj[e.Name] = e.Value
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return b, nil
}
