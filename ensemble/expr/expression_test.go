package expr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpressionUnmarshalJMESPath(t *testing.T) {
	var e Expression
	require.NoError(t, json.Unmarshal([]byte(`{"$jmespath":"input.foo"}`), &e))
	lang, src, ok := e.Source()
	require.True(t, ok)
	assert.Equal(t, "jmespath", lang)
	assert.Equal(t, "input.foo", src)
}

func TestExpressionUnmarshalStarlark(t *testing.T) {
	var e Expression
	require.NoError(t, json.Unmarshal([]byte(`{"$starlark":"input['foo']"}`), &e))
	lang, _, ok := e.Source()
	require.True(t, ok)
	assert.Equal(t, "starlark", lang)
}

func TestExpressionUnmarshalRejectsNeither(t *testing.T) {
	var e Expression
	err := json.Unmarshal([]byte(`{}`), &e)
	assert.Error(t, err)
}

func TestExpressionUnmarshalRejectsBoth(t *testing.T) {
	var e Expression
	err := json.Unmarshal([]byte(`{"$jmespath":"a","$starlark":"b"}`), &e)
	assert.Error(t, err)
}

func TestWithExpressionLiteral(t *testing.T) {
	var w WithExpression[string]
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &w))
	assert.False(t, w.IsExpression())
	require.NotNil(t, w.Literal)
	assert.Equal(t, "hello", *w.Literal)
}

func TestWithExpressionExpression(t *testing.T) {
	var w WithExpression[string]
	require.NoError(t, json.Unmarshal([]byte(`{"$jmespath":"input.name"}`), &w))
	assert.True(t, w.IsExpression())
}

func TestEvaluateWithLiteralPassesThrough(t *testing.T) {
	sb := NewSandbox(1000)
	w := WithExpression[int]{Literal: intPtr(42)}
	v, err := EvaluateWith(sb, w, Params{})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEvaluateWithJMESPath(t *testing.T) {
	sb := NewSandbox(1000)
	var w WithExpression[string]
	require.NoError(t, json.Unmarshal([]byte(`{"$jmespath":"input.name"}`), &w))
	v, err := EvaluateWith(sb, w, Params{Input: map[string]interface{}{"name": "alice"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", v)
}

func TestEvaluateWithStarlark(t *testing.T) {
	sb := NewSandbox(1000)
	var w WithExpression[float64]
	require.NoError(t, json.Unmarshal([]byte(`{"$starlark":"1 + 2"}`), &w))
	v, err := EvaluateWith(sb, w, Params{})
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)
}

func TestEvaluateStarlarkReadsTasksAndMap(t *testing.T) {
	sb := NewSandbox(1000)
	e := Expression{Starlark: strPtr("tasks[0]['score'] + map")}
	params := Params{
		Tasks: []interface{}{map[string]interface{}{"score": float64(10)}},
	}.WithMap(float64(5))
	v, err := sb.Evaluate(e, params)
	require.NoError(t, err)
	assert.Equal(t, float64(15), v)
}

func TestEvaluateStarlarkStepBudgetExceeded(t *testing.T) {
	sb := NewSandbox(50)
	e := Expression{Starlark: strPtr("len([x for x in range(1000000)])")}
	_, err := sb.Evaluate(e, Params{})
	require.Error(t, err)
	var exprErr *Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, KindBudget, exprErr.Kind)
}

func TestJMESPathDependenciesLiteralIndices(t *testing.T) {
	e := Expression{JMESPath: strPtr("tasks[0].output && tasks[2].output")}
	idx, unknown := e.Dependencies()
	require.False(t, unknown)
	assert.ElementsMatch(t, []int{0, 2}, idx)
}

func TestJMESPathDependenciesNoTasksReference(t *testing.T) {
	e := Expression{JMESPath: strPtr("input.name")}
	idx, unknown := e.Dependencies()
	assert.False(t, unknown)
	assert.Empty(t, idx)
}

func TestJMESPathDependenciesUnpinnedIsUnknown(t *testing.T) {
	e := Expression{JMESPath: strPtr("tasks[*].output")}
	_, unknown := e.Dependencies()
	assert.True(t, unknown)
}

func TestStarlarkDependenciesLiteralIndices(t *testing.T) {
	e := Expression{Starlark: strPtr("tasks[0]['score'] + tasks[1]['score']")}
	idx, unknown := e.Dependencies()
	require.False(t, unknown)
	assert.ElementsMatch(t, []int{0, 1}, idx)
}

func TestStarlarkDependenciesNoTasksReference(t *testing.T) {
	e := Expression{Starlark: strPtr("input['name']")}
	idx, unknown := e.Dependencies()
	assert.False(t, unknown)
	assert.Empty(t, idx)
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
