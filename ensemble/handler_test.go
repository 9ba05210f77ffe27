package ensemble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	infoCalls int
}

func (r *recordingLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (r *recordingLogger) Info(ctx context.Context, msg string, fields ...Field)  { r.infoCalls++ }
func (r *recordingLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (r *recordingLogger) Error(ctx context.Context, msg string, fields ...Field) {}

func TestLogUsageHandlerSkipsZeroUsage(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewLogUsageHandler(logger)
	handler.HandleUsage(context.Background(), VectorCompletionRequest{}, VectorCompletionResponse{})
	assert.Equal(t, 0, logger.infoCalls)
}

func TestLogUsageHandlerLogsNonZeroUsage(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewLogUsageHandler(logger)
	handler.HandleUsage(context.Background(), VectorCompletionRequest{}, VectorCompletionResponse{
		Usage: UsageAggregate{Requests: 1, PromptTokens: 10},
	})
	assert.Equal(t, 1, logger.infoCalls)
}

func TestNewLogUsageHandlerDefaultsToNoopLogger(t *testing.T) {
	handler := NewLogUsageHandler(nil)
	assert.NotNil(t, handler.Logger)
	// Must not panic with no logger supplied.
	handler.HandleUsage(context.Background(), VectorCompletionRequest{}, VectorCompletionResponse{
		Usage: UsageAggregate{Requests: 1},
	})
}
