package ensemble

import (
	"context"

	"github.com/shopspring/decimal"
)

// VectorCompletionRequest is the fully-resolved request passed to a
// UsageHandler after a vector completion finishes (spec §6).
type VectorCompletionRequest struct {
	Ensemble Ensemble
	Profile  Profile
	Messages []ChatMessage
	Options  []ResponseOption
}

// VectorCompletionResponse is the aggregated response passed to a
// UsageHandler.
type VectorCompletionResponse struct {
	Scores     []decimal.Decimal
	Weights    []decimal.Decimal
	Votes      []Vote
	Usage      UsageAggregate
	RetryToken string
}

// UsageHandler is the exposed collaborator interface from spec §6:
// handle_usage(ctx, request, response). Neither VectorEngine nor the
// function engine calls it; the caller invokes it with each top-level
// request and response.
type UsageHandler interface {
	HandleUsage(ctx context.Context, req VectorCompletionRequest, resp VectorCompletionResponse)
}

// LogUsageHandler is the default UsageHandler: it logs the aggregate and
// otherwise does nothing, matching the teacher's NoopLogger-style
// "observability seam with a safe default" pattern.
type LogUsageHandler struct {
	Logger Logger
}

// NewLogUsageHandler returns a LogUsageHandler. Pass nil for logger to
// get NoopLogger.
func NewLogUsageHandler(logger Logger) *LogUsageHandler {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &LogUsageHandler{Logger: logger}
}

func (h *LogUsageHandler) HandleUsage(ctx context.Context, req VectorCompletionRequest, resp VectorCompletionResponse) {
	if !resp.Usage.AnyUsage() {
		return
	}
	h.Logger.Info(ctx, "usage",
		F("requests", resp.Usage.Requests),
		F("prompt_tokens", resp.Usage.PromptTokens),
		F("completion_tokens", resp.Usage.CompletionTokens),
		F("cached_tokens", resp.Usage.CachedTokens),
		F("reasoning_tokens", resp.Usage.ReasoningTokens),
		F("total_cost", resp.Usage.TotalCost),
	)
}
