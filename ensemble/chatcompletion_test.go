package ensemble

import "testing"

func TestAccumulatorPushAppendsContentInOrder(t *testing.T) {
	acc := NewAccumulator()
	acc.Push(Chunk{Delta: ChoiceDelta{Role: "assistant", Content: "Hel"}})
	acc.Push(Chunk{Delta: ChoiceDelta{Content: "lo"}})
	acc.Push(Chunk{FinishReason: "stop"})

	result := acc.Result()
	if len(result.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(result.Choices))
	}
	if result.Choices[0].Message.Content != "Hello" {
		t.Fatalf("expected %q, got %q", "Hello", result.Choices[0].Message.Content)
	}
	if result.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", result.Choices[0].FinishReason)
	}
}

func TestAccumulatorPushMergesToolCallDeltasByKey(t *testing.T) {
	acc := NewAccumulator()
	acc.Push(Chunk{Delta: ChoiceDelta{Role: "assistant"}})
	acc.Push(Chunk{Delta: ChoiceDelta{ToolCalls: []ToolCallDelta{
		{Index: 0, ID: "call_1", Type: "function", Name: "vote", ArgumentsDelta: `{"ans`},
	}}})
	acc.Push(Chunk{Delta: ChoiceDelta{ToolCalls: []ToolCallDelta{
		{Index: 0, ID: "call_1", Type: "function", ArgumentsDelta: `wer":"A"}`},
	}}})

	result := acc.Result()
	calls := result.Choices[0].Message.ToolCalls
	if len(calls) != 1 {
		t.Fatalf("expected 1 merged tool call, got %d", len(calls))
	}
	if calls[0].Arguments != `{"answer":"A"}` {
		t.Fatalf("expected merged arguments, got %q", calls[0].Arguments)
	}
	if calls[0].Name != "vote" {
		t.Fatalf("expected name carried from first delta, got %q", calls[0].Name)
	}
}

func TestAccumulatorPushHandlesMultipleChoiceIndices(t *testing.T) {
	acc := NewAccumulator()
	acc.Push(Chunk{ChoiceIndex: 1, Delta: ChoiceDelta{Role: "assistant", Content: "B"}})
	acc.Push(Chunk{ChoiceIndex: 0, Delta: ChoiceDelta{Role: "assistant", Content: "A"}})

	result := acc.Result()
	if len(result.Choices) != 2 {
		t.Fatalf("expected 2 choices, got %d", len(result.Choices))
	}
	byIndex := map[int]string{}
	for _, c := range result.Choices {
		byIndex[c.Index] = c.Message.Content
	}
	if byIndex[0] != "A" || byIndex[1] != "B" {
		t.Fatalf("unexpected choice contents: %+v", byIndex)
	}
}

// TestAccumulatorConcurrencyProperty covers the spec's concurrency
// property at the monoid level: pushing the same ordered sequence of
// deltas for a single leaf's stream always reduces to the same final
// ChatCompletion, independent of how many times Result is queried
// mid-stream or how the chunks were originally produced.
func TestAccumulatorConcurrencyProperty(t *testing.T) {
	chunks := []Chunk{
		{Delta: ChoiceDelta{Role: "assistant", Content: `{"ans`}},
		{Delta: ChoiceDelta{Content: `wer":`}},
		{Delta: ChoiceDelta{Content: `"A"}`}},
		{FinishReason: "stop", Usage: &Usage{PromptTokens: 3, CompletionTokens: 5}},
	}

	replay := func() ChatCompletion {
		acc := NewAccumulator()
		for _, c := range chunks {
			acc.Push(c)
		}
		return acc.Result()
	}

	first := replay()
	second := replay()

	if first.Choices[0].Message.Content != second.Choices[0].Message.Content {
		t.Fatalf("accumulation is not deterministic: %q vs %q",
			first.Choices[0].Message.Content, second.Choices[0].Message.Content)
	}
	if first.Usage.TotalTokens != second.Usage.TotalTokens ||
		first.Usage.PromptTokens != second.Usage.PromptTokens {
		t.Fatalf("usage diverged across replays")
	}
}

func TestMergeUsageSumsFields(t *testing.T) {
	a := &Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, Cost: 0.1}
	b := &Usage{PromptTokens: 4, CompletionTokens: 5, TotalTokens: 9, Cost: 0.2}
	merged := MergeUsage(a, b)
	if merged.PromptTokens != 5 || merged.CompletionTokens != 7 || merged.TotalTokens != 12 {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	if merged.Cost < 0.299 || merged.Cost > 0.301 {
		t.Fatalf("unexpected cost merge: %v", merged.Cost)
	}

	if MergeUsage(nil, b) != b {
		t.Fatalf("merging with nil lhs should return rhs unchanged")
	}
	if MergeUsage(a, nil) != a {
		t.Fatalf("merging with nil rhs should return lhs unchanged")
	}
}
