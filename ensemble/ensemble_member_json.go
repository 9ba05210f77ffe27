package ensemble

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes the untagged id-or-inline member form, mirroring
// the Ensemble-by-id-or-inline pattern from original_source's
// vector/completions/request/ensemble.rs.
func (m *EnsembleMember) UnmarshalJSON(data []byte) error {
	var asID string
	if err := json.Unmarshal(data, &asID); err == nil {
		m.ID = asID
		m.Inline = nil
		return nil
	}

	var asInline EnsembleLLM
	if err := json.Unmarshal(data, &asInline); err != nil {
		return fmt.Errorf("ensemble member: neither a string id nor an inline ensemble-llm: %w", err)
	}
	m.ID = ""
	m.Inline = &asInline
	return nil
}

// MarshalJSON emits a bare string for an id reference, or the inline
// object otherwise.
func (m EnsembleMember) MarshalJSON() ([]byte, error) {
	if m.Inline == nil {
		return json.Marshal(m.ID)
	}
	return json.Marshal(m.Inline)
}
