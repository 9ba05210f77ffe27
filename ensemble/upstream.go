package ensemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// ToolSpec is a tool definition offered to the upstream model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ResponseFormat constrains the shape of the assistant's reply.
type ResponseFormat struct {
	Kind       string // "json_schema"
	SchemaName string
	Schema     map[string]interface{}
}

// UpstreamRequest is the unified request component C translates into one
// provider-specific streaming call (spec §4.C).
type UpstreamRequest struct {
	Messages []ChatMessage

	Temperature      *decimal.Decimal
	TopP             *decimal.Decimal
	TopK             *int64
	MinP             *decimal.Decimal
	FrequencyPenalty *decimal.Decimal
	PresencePenalty  *decimal.Decimal
	MaxTokens        *int64
	Stop             []string
	Seed             *int64
	ReasoningEffort  ReasoningEffort
	Verbosity        Verbosity

	Tools      []ToolSpec
	ToolChoice string // "", "none", "required", or a forced tool name

	ResponseFormat *ResponseFormat

	Logprobs    bool
	TopLogprobs int

	// APIKey, when non-empty, is a BYOK key passed through unchanged
	// (spec §6).
	APIKey string
}

// Provider is the upstream provider interface consumed by the
// dispatcher (spec §6). Implementations translate one UpstreamRequest
// for one model into a stream of Chunks.
type Provider interface {
	Name() string
	Stream(ctx context.Context, model string, req UpstreamRequest) (<-chan Chunk, <-chan error, error)
}

// UpstreamError carries a provider status code so the dispatcher can
// classify retryability without string-matching.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable is true for network-level failures (StatusCode == 0) and
// provider 5xx responses, per spec §4.C retry triggers.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// ProviderRouter resolves a model id (e.g. "openai/gpt-4o-mini") to the
// Provider that serves it.
type ProviderRouter func(model string) (Provider, error)

// Dispatcher is component C.
type Dispatcher struct {
	cfg    *Config
	logger Logger
	router ProviderRouter
}

// NewDispatcher builds a Dispatcher. Pass nil for logger to get NoopLogger.
func NewDispatcher(cfg *Config, logger Logger, router ProviderRouter) *Dispatcher {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Dispatcher{cfg: cfg, logger: logger, router: router}
}

// Dispatch tries each model in fallback order, retrying each with
// exponential backoff up to backoff_max_elapsed_time before moving to
// the next model. It returns the first successful accumulated
// ChatCompletion, or a MultipleErrors aggregating every participant's
// failure if all fallbacks are exhausted (spec §4.C).
func (d *Dispatcher) Dispatch(ctx context.Context, models []string, req UpstreamRequest) (ChatCompletion, error) {
	var errs []*EngineError

	for _, model := range models {
		cc, err := d.dispatchModel(ctx, model, req)
		if err == nil {
			return cc, nil
		}
		errs = append(errs, WrapUpstream(fmt.Errorf("%s: %w", model, err)))
		d.logger.Warn(ctx, "upstream model failed, trying fallback", F("model", model), F("err", err))
	}

	return ChatCompletion{}, &MultipleErrors{Errors: errs}
}

func (d *Dispatcher) dispatchModel(ctx context.Context, model string, req UpstreamRequest) (ChatCompletion, error) {
	provider, err := d.router(model)
	if err != nil {
		return ChatCompletion{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BackoffInitialDelay
	bo.MaxInterval = d.cfg.BackoffMaxDelay
	bo.MaxElapsedTime = d.cfg.BackoffMaxElapsed

	var result ChatCompletion
	unqualified := UnqualifiedModel(model)
	operation := func() error {
		chunkCh, errCh, err := provider.Stream(ctx, unqualified, req)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		cc, err := readStream(ctx, chunkCh, errCh, d.cfg.FirstChunkTimeout, d.cfg.OtherChunkTimeout)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = cc
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return ChatCompletion{}, err
	}
	return result, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamEmptyStream) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	if ctxErr := context.Canceled; errors.Is(err, ctxErr) {
		return false
	}
	return true
}

// readStream pulls chunks off ch, enforcing first_chunk_timeout before
// the first chunk and other_chunk_timeout for every subsequent gap, and
// folds them into an Accumulator (spec §4.C, §5 timeouts).
func readStream(ctx context.Context, ch <-chan Chunk, errCh <-chan error, firstTimeout, otherTimeout time.Duration) (ChatCompletion, error) {
	acc := NewAccumulator()
	timeout := firstTimeout

	for {
		timer := time.NewTimer(timeout)
		select {
		case chunk, ok := <-ch:
			timer.Stop()
			if !ok {
				if acc.ChunkCount() == 0 {
					return ChatCompletion{}, ErrUpstreamEmptyStream
				}
				return acc.Result(), nil
			}
			acc.Push(chunk)
			timeout = otherTimeout

		case err, ok := <-errCh:
			timer.Stop()
			if ok && err != nil {
				return ChatCompletion{}, err
			}

		case <-timer.C:
			return ChatCompletion{}, ErrUpstreamTimeout

		case <-ctx.Done():
			timer.Stop()
			return ChatCompletion{}, ctx.Err()
		}
	}
}
