package main

import (
	"context"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
)

// mockProvider always votes for a fixed answer key, letting the demo run
// end to end without a real upstream credential.
type mockProvider struct {
	answer string
}

func newMockProvider(answer string) *mockProvider {
	return &mockProvider{answer: answer}
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Stream(ctx context.Context, model string, req ensemble.UpstreamRequest) (<-chan ensemble.Chunk, <-chan error, error) {
	chunks := make(chan ensemble.Chunk, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		chunks <- ensemble.Chunk{
			Model: model,
			Delta: ensemble.ChoiceDelta{
				Role:    "assistant",
				Content: `{"answer":"` + m.answer + `"}`,
			},
			FinishReason: "stop",
			Usage: &ensemble.Usage{
				PromptTokens:     10,
				CompletionTokens: 5,
			},
		}
	}()

	return chunks, errs, nil
}
