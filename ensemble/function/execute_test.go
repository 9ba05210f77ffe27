package function

import (
	"context"
	"testing"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble/expr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedAnswerProvider always votes for a configured response key.
type fixedAnswerProvider struct {
	answer string
}

func (p *fixedAnswerProvider) Name() string { return "mock" }

func (p *fixedAnswerProvider) Stream(ctx context.Context, model string, req ensemble.UpstreamRequest) (<-chan ensemble.Chunk, <-chan error, error) {
	chunks := make(chan ensemble.Chunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		chunks <- ensemble.Chunk{
			Model:        model,
			Delta:        ensemble.ChoiceDelta{Role: "assistant", Content: `{"answer":"` + p.answer + `"}`},
			FinishReason: "stop",
			Usage:        &ensemble.Usage{PromptTokens: 1, CompletionTokens: 1},
		}
	}()
	return chunks, errs, nil
}

func newTestEngine(t *testing.T, answer string) *Engine {
	t.Helper()
	cfg := ensemble.DefaultConfig()
	router := ensemble.NewPrefixRouter(map[string]ensemble.Provider{
		"mock": &fixedAnswerProvider{answer: answer},
	})
	logger := ensemble.NoopLogger{}
	store := ensemble.NewMemoryDefinitionStore()
	cache := ensemble.NewDefinitionCache(store, logger)
	dispatcher := ensemble.NewDispatcher(cfg, logger, router)
	voteCache := ensemble.NewMemoryVoteCache()
	vectorEngine := ensemble.NewVectorEngine(cache, dispatcher, voteCache, logger, cfg)
	fnCache := NewCache(NewMemoryStore())
	return NewEngine(expr.NewSandbox(cfg.ExpressionStepBudget), fnCache, vectorEngine, dispatcher, logger, cfg)
}

func oneLeafFunction() *Function {
	opts := []ensemble.ResponseOption{{Text: "yes"}, {Text: "no"}}
	return &Function{
		Kind:         KindVector,
		VectorLength: 2,
		Tasks: []Task{
			{
				Kind: TaskVectorCompletion,
				VectorCompletion: &VectorCompletionSpec{
					Ensemble: ensemble.EnsembleMember{Inline: &ensemble.EnsembleLLM{
						Model:      "mock/demo",
						OutputMode: ensemble.OutputModeJSONSchema,
					}},
					Messages: expr.WithExpression[[]ensemble.ChatMessage]{
						Literal: &[]ensemble.ChatMessage{{Role: "user", Content: "vote"}},
					},
					Responses: expr.WithExpression[[]ensemble.ResponseOption]{Literal: &opts},
				},
			},
		},
		Output: expr.Expression{JMESPath: strPtr("tasks[0]")},
	}
}

func oneLeafProfile() *Profile {
	return &Profile{
		Entries: []ProfileEntry{
			{VectorCompletion: &ensemble.Profile{Entries: []ensemble.ProfileEntry{{Weight: decimal.NewFromInt(1)}}}},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestRunSingleLeafFunction(t *testing.T) {
	eng := newTestEngine(t, "A")
	fn := oneLeafFunction()
	profile := oneLeafProfile()

	result, err := eng.Run(context.Background(), fn, profile, map[string]interface{}{}, Options{}, nil)
	require.NoError(t, err)

	outputs, ok := result.Output.([]interface{})
	require.True(t, ok)
	require.Len(t, outputs, 2)
	assert.InDelta(t, 1.0, outputs[0], 1e-9)
	assert.InDelta(t, 0.0, outputs[1], 1e-9)
	assert.NotEmpty(t, result.RetryToken)
	require.Len(t, result.Votes, 1)
}

func TestRunSwissDegenerateRoundsZero(t *testing.T) {
	eng := newTestEngine(t, "A")
	fn := oneLeafFunction()
	profile := oneLeafProfile()

	opts := Options{
		Swiss: &SwissOptions{
			Pool:   2,
			Rounds: 0,
		},
	}
	result, err := eng.Run(context.Background(), fn, profile, map[string]interface{}{}, opts, nil)
	require.NoError(t, err)

	pool, ok := result.Output.([]interface{})
	require.True(t, ok)
	assert.Len(t, pool, 2)
}

func TestRunSwissOneRoundPicksWinner(t *testing.T) {
	eng := newTestEngine(t, "A")
	fn := oneLeafFunction()
	profile := oneLeafProfile()

	var chunks []Chunk
	opts := Options{
		Swiss: &SwissOptions{
			Pool:   2,
			Rounds: 1,
			Judge: ensemble.EnsembleMember{Inline: &ensemble.EnsembleLLM{
				Model:      "mock/demo",
				OutputMode: ensemble.OutputModeJSONSchema,
			}},
			RenderPlayerOutput: func(output interface{}) ensemble.ResponseOption {
				return ensemble.ResponseOption{Text: "player"}
			},
		},
	}
	result, err := eng.Run(context.Background(), fn, profile, map[string]interface{}{}, opts, func(c Chunk) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	require.NotNil(t, result.Output)

	sawPool := false
	sawRound := false
	for _, c := range chunks {
		if c.SwissRound != nil && *c.SwissRound == 0 {
			sawPool = true
		}
		if c.SwissRound != nil && *c.SwissRound == 1 {
			sawRound = true
		}
	}
	assert.True(t, sawPool)
	assert.True(t, sawRound)
}

// perModelAnswerProvider answers each model with a configured fixed
// answer, letting a test give two vector-completion tasks distinguishable
// results.
type perModelAnswerProvider struct {
	answers map[string]string
}

func (p *perModelAnswerProvider) Name() string { return "mock" }

func (p *perModelAnswerProvider) Stream(ctx context.Context, model string, req ensemble.UpstreamRequest) (<-chan ensemble.Chunk, <-chan error, error) {
	chunks := make(chan ensemble.Chunk, 1)
	errs := make(chan error, 1)
	answer := p.answers[model]
	go func() {
		defer close(chunks)
		defer close(errs)
		chunks <- ensemble.Chunk{
			Model:        model,
			Delta:        ensemble.ChoiceDelta{Role: "assistant", Content: `{"answer":"` + answer + `"}`},
			FinishReason: "stop",
			Usage:        &ensemble.Usage{PromptTokens: 1, CompletionTokens: 1},
		}
	}()
	return chunks, errs, nil
}

func newMultiModelEngine(t *testing.T, answers map[string]string) *Engine {
	t.Helper()
	cfg := ensemble.DefaultConfig()
	router := ensemble.NewPrefixRouter(map[string]ensemble.Provider{
		"mock": &perModelAnswerProvider{answers: answers},
	})
	logger := ensemble.NoopLogger{}
	store := ensemble.NewMemoryDefinitionStore()
	cache := ensemble.NewDefinitionCache(store, logger)
	dispatcher := ensemble.NewDispatcher(cfg, logger, router)
	voteCache := ensemble.NewMemoryVoteCache()
	vectorEngine := ensemble.NewVectorEngine(cache, dispatcher, voteCache, logger, cfg)
	fnCache := NewCache(NewMemoryStore())
	return NewEngine(expr.NewSandbox(cfg.ExpressionStepBudget), fnCache, vectorEngine, dispatcher, logger, cfg)
}

func twoTaskFunction() *Function {
	opts := []ensemble.ResponseOption{{Text: "yes"}, {Text: "no"}}
	mkTask := func(model string) Task {
		return Task{
			Kind: TaskVectorCompletion,
			VectorCompletion: &VectorCompletionSpec{
				Ensemble: ensemble.EnsembleMember{Inline: &ensemble.EnsembleLLM{
					Model:      model,
					OutputMode: ensemble.OutputModeJSONSchema,
				}},
				Messages: expr.WithExpression[[]ensemble.ChatMessage]{
					Literal: &[]ensemble.ChatMessage{{Role: "user", Content: "vote"}},
				},
				Responses: expr.WithExpression[[]ensemble.ResponseOption]{Literal: &opts},
			},
		}
	}
	return &Function{
		Kind:  KindVector,
		Tasks: []Task{mkTask("mock/task0"), mkTask("mock/task1")},
		Output: expr.Expression{JMESPath: strPtr("[tasks[0], tasks[1]]")},
	}
}

func twoTaskProfile() *Profile {
	entry := func() ProfileEntry {
		return ProfileEntry{VectorCompletion: &ensemble.Profile{Entries: []ensemble.ProfileEntry{{Weight: decimal.NewFromInt(1)}}}}
	}
	return &Profile{Entries: []ProfileEntry{entry(), entry()}}
}

// Two sibling vector-completion tasks each produce one vote; replaying
// the retry token must give each task back its own vote, not the other
// task's, even though both tasks' local flatIndex starts at 0 (spec §8
// invariant 6).
func TestRunRetryTokenReplaysEachVectorCompletionTaskIndependently(t *testing.T) {
	engine := newMultiModelEngine(t, map[string]string{
		"mock/task0": "yes",
		"mock/task1": "no",
	})
	fn := twoTaskFunction()
	profile := twoTaskProfile()

	first, err := engine.Run(context.Background(), fn, profile, map[string]interface{}{}, Options{}, nil)
	require.NoError(t, err)
	require.Len(t, first.Votes, 2)
	assert.NotEmpty(t, first.RetryToken)

	token, err := DecodeRetryToken(first.RetryToken)
	require.NoError(t, err)
	require.Len(t, token.ByPath, 2)

	replay, err := engine.Run(context.Background(), fn, profile, map[string]interface{}{}, Options{RetryToken: &token}, nil)
	require.NoError(t, err)
	require.Len(t, replay.Votes, 2)

	for i, v := range replay.Votes {
		assert.True(t, v.Retry, "vote %d should have replayed from the retry token", i)
		assert.True(t, v.FromCache, "vote %d should be marked from_cache", i)
	}

	firstOutputs, ok := first.Output.([]interface{})
	require.True(t, ok)
	replayOutputs, ok := replay.Output.([]interface{})
	require.True(t, ok)
	assert.Equal(t, firstOutputs, replayOutputs, "replay must reproduce each task's scores byte-identically (invariant 6)")
}

func TestTaskDependenciesDiscoversJMESPathIndices(t *testing.T) {
	task := Task{
		InputMap: &expr.Expression{JMESPath: strPtr("tasks[0].items")},
	}
	idx, unknown := taskDependencies(task)
	require.False(t, unknown)
	assert.ElementsMatch(t, []int{0}, idx)
}
