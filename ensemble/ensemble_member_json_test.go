package ensemble

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsembleMemberUnmarshalBareStringIsID(t *testing.T) {
	var m EnsembleMember
	require.NoError(t, json.Unmarshal([]byte(`"llm-123"`), &m))
	assert.Equal(t, "llm-123", m.ID)
	assert.Nil(t, m.Inline)
}

func TestEnsembleMemberUnmarshalObjectIsInline(t *testing.T) {
	var m EnsembleMember
	require.NoError(t, json.Unmarshal([]byte(`{"model":"openai/gpt-4o-mini"}`), &m))
	assert.Empty(t, m.ID)
	require.NotNil(t, m.Inline)
	assert.Equal(t, "openai/gpt-4o-mini", m.Inline.Model)
}

func TestEnsembleMemberUnmarshalRejectsInvalidShape(t *testing.T) {
	var m EnsembleMember
	err := json.Unmarshal([]byte(`42`), &m)
	assert.Error(t, err)
}

func TestEnsembleMemberMarshalRoundTrip(t *testing.T) {
	idMember := EnsembleMember{ID: "llm-123"}
	raw, err := json.Marshal(idMember)
	require.NoError(t, err)
	assert.Equal(t, `"llm-123"`, string(raw))

	inlineMember := EnsembleMember{Inline: &EnsembleLLM{Model: "openai/gpt-4o-mini"}}
	raw, err = json.Marshal(inlineMember)
	require.NoError(t, err)

	var decoded EnsembleMember
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Inline)
	assert.Equal(t, "openai/gpt-4o-mini", decoded.Inline.Model)
}
