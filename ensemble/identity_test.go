package ensemble

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrepareEnsembleLLMIdempotent covers spec invariant 1:
// id(prepare(prepare(x))) = id(prepare(x)).
func TestPrepareEnsembleLLMIdempotent(t *testing.T) {
	temp := decimal.NewFromFloat(0.7)
	def := EnsembleLLM{
		Model:       "openai/gpt-4o-mini",
		Temperature: &temp,
		Verbosity:   VerbosityMedium,
		Count:       1,
		Stop:        []string{"b", "a", "a"},
	}

	once, err := PrepareEnsembleLLM(def)
	require.NoError(t, err)

	twice, err := PrepareEnsembleLLM(once)
	require.NoError(t, err)

	assert.True(t, reflect.DeepEqual(once, twice), "prepare must be idempotent")

	idOnce, err := IdentityEnsembleLLM(once)
	require.NoError(t, err)
	idTwice, err := IdentityEnsembleLLM(twice)
	require.NoError(t, err)
	assert.Equal(t, idOnce, idTwice)
}

// TestPrepareEnsembleLLMElidesDefaults covers spec invariant 2
// (id(x) = id(y) iff prepare(x) = prepare(y)) via the documented-default
// elision rule: a definition with an explicit default-valued field must
// normalize identically to one that omits it.
func TestPrepareEnsembleLLMElidesDefaults(t *testing.T) {
	explicitTemp := decimal.NewFromInt(1)
	withDefault := EnsembleLLM{Model: "openai/gpt-4o-mini", Temperature: &explicitTemp, Verbosity: VerbosityMedium, Count: 1}
	withoutDefault := EnsembleLLM{Model: "openai/gpt-4o-mini"}

	p1, err := PrepareEnsembleLLM(withDefault)
	require.NoError(t, err)
	p2, err := PrepareEnsembleLLM(withoutDefault)
	require.NoError(t, err)
	assert.True(t, reflect.DeepEqual(p1, p2))

	id1, err := IdentityEnsembleLLM(p1)
	require.NoError(t, err)
	id2, err := IdentityEnsembleLLM(p2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestPrepareEnsembleLLMRejectsInvalid(t *testing.T) {
	_, err := PrepareEnsembleLLM(EnsembleLLM{})
	assert.Error(t, err)

	badTemp := decimal.NewFromInt(5)
	_, err = PrepareEnsembleLLM(EnsembleLLM{Model: "m", Temperature: &badTemp})
	assert.Error(t, err)
}

func TestPrepareEnsembleSortsMembers(t *testing.T) {
	def := Ensemble{Members: []EnsembleMember{
		{Inline: &EnsembleLLM{Model: "z-model"}},
		{Inline: &EnsembleLLM{Model: "a-model"}},
		{ID: "some-id"},
	}}
	prepared, err := PrepareEnsemble(def)
	require.NoError(t, err)
	require.Len(t, prepared.Members, 3)
	assert.Equal(t, "a-model", prepared.Members[0].Inline.Model)
	assert.Equal(t, "some-id", prepared.Members[1].ID)
	assert.Equal(t, "z-model", prepared.Members[2].Inline.Model)
}

// TestFlattenResolvedPreservesOrder covers spec invariant 5: flat-ensemble
// expansion preserves member order, indices 0..count0-1 refer to member 0.
func TestFlattenResolvedPreservesOrder(t *testing.T) {
	resolved := []EnsembleLLM{
		{Model: "m0", Count: 2},
		{Model: "m1", Count: 1},
		{Model: "m2", Count: 3},
	}
	flat := FlattenResolved(resolved)
	require.Len(t, flat, 6)
	expect := []string{"m0", "m0", "m1", "m2", "m2", "m2"}
	for i, want := range expect {
		assert.Equal(t, want, flat[i].Model, "index %d", i)
	}
}
