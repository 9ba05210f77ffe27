package ensemble

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// UnmarshalJSON decodes the untagged Profile enum from original_source
// (vector/completions/request/profile.rs): either a bare array of
// decimals ([0.5, 0.5]) or an array of {weight, invert} objects.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("profile: %w", err)
	}

	entries := make([]ProfileEntry, 0, len(raw))
	for i, item := range raw {
		var asDecimal decimal.Decimal
		if err := json.Unmarshal(item, &asDecimal); err == nil {
			entries = append(entries, ProfileEntry{Weight: asDecimal})
			continue
		}

		var asEntry struct {
			Weight decimal.Decimal `json:"weight"`
			Invert bool            `json:"invert"`
		}
		if err := json.Unmarshal(item, &asEntry); err != nil {
			return fmt.Errorf("profile[%d]: neither a decimal weight nor a {weight,invert} object: %w", i, err)
		}
		entries = append(entries, ProfileEntry{Weight: asEntry.Weight, Invert: asEntry.Invert})
	}

	p.Entries = entries
	return nil
}

// MarshalJSON always emits the {weight,invert} entry form, which is
// lossless for both input shapes.
func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Entries)
}

// ToWeightsAndInvert splits a Profile into a parallel weight slice and
// invert-bit slice, matching original_source's to_weights_and_invert.
func (p Profile) ToWeightsAndInvert() ([]decimal.Decimal, []bool) {
	weights := make([]decimal.Decimal, len(p.Entries))
	inverts := make([]bool, len(p.Entries))
	for i, e := range p.Entries {
		weights[i] = e.Weight
		inverts[i] = e.Invert
	}
	return weights, inverts
}
