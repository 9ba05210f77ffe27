package ensemble

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// EnsembleResult is what a DefinitionCache.FetchEnsemble resolves to:
// either a definition with its creation time, or (Def == nil, err == nil)
// for "not found".
type EnsembleResult struct {
	Def     *Ensemble
	Created time.Time
}

// EnsembleLLMResult mirrors EnsembleResult for Ensemble-LLM lookups.
type EnsembleLLMResult struct {
	Def     *EnsembleLLM
	Created time.Time
}

// DefinitionCache is component B: a per-request, single-flight,
// deduplicating front for a DefinitionStore. One instance is scoped to
// exactly one inbound request and discarded once the request's handler
// returns (spec §3 Lifecycle) — it is not a process-wide cache.
//
// singleflight.Group is the grounding for the hard invariant in spec
// §4.B ("releasing the map lock before awaiting"): Group.DoChan takes
// its internal mutex only long enough to register or find the in-flight
// call, then releases it before the wrapped function runs, so colliding
// ids never deadlock against each other.
type DefinitionCache struct {
	store  DefinitionStore
	logger Logger

	ensembles singleflight.Group
	llms      singleflight.Group
}

// NewDefinitionCache wraps store with per-request single-flight
// deduplication. Pass nil for logger to get NoopLogger.
func NewDefinitionCache(store DefinitionStore, logger Logger) *DefinitionCache {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &DefinitionCache{store: store, logger: logger}
}

// FetchEnsemble resolves id, coalescing concurrent callers onto one
// underlying store call. The store call itself runs against a detached
// background context so that one caller cancelling its own ctx never
// aborts a fetch other callers are still waiting on (spec §4.B
// cancellation semantics).
func (c *DefinitionCache) FetchEnsemble(ctx context.Context, id string) (*EnsembleResult, error) {
	ch := c.ensembles.DoChan(id, func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = WrapPanic(r)
			}
		}()
		def, created, err := c.store.FetchEnsemble(context.Background(), id)
		if err != nil {
			return nil, err
		}
		return &EnsembleResult{Def: def, Created: created}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn(ctx, "ensemble fetch failed", F("id", id), F("err", res.Err))
			return nil, res.Err
		}
		return res.Val.(*EnsembleResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchEnsembleLLM mirrors FetchEnsemble for Ensemble-LLM definitions.
func (c *DefinitionCache) FetchEnsembleLLM(ctx context.Context, id string) (*EnsembleLLMResult, error) {
	ch := c.llms.DoChan(id, func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = WrapPanic(r)
			}
		}()
		def, created, err := c.store.FetchEnsembleLLM(context.Background(), id)
		if err != nil {
			return nil, err
		}
		return &EnsembleLLMResult{Def: def, Created: created}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn(ctx, "ensemble-llm fetch failed", F("id", id), F("err", res.Err))
			return nil, res.Err
		}
		return res.Val.(*EnsembleLLMResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SpawnManyEnsembleLLMs fire-and-forget warms the cache for a batch of
// ids, used by the vector-completion engine (component E) to start
// fetching every leaf's Ensemble-LLM before it begins iterating over
// them (spec §4.B spawn_many).
func (c *DefinitionCache) SpawnManyEnsembleLLMs(ids []string) {
	for _, id := range ids {
		id := id
		c.llms.DoChan(id, func() (result interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = WrapPanic(r)
					c.logger.Warn(context.Background(), "ensemble-llm warm fetch crashed", F("id", id), F("err", err))
				}
			}()
			def, created, err := c.store.FetchEnsembleLLM(context.Background(), id)
			if err != nil {
				return nil, err
			}
			return &EnsembleLLMResult{Def: def, Created: created}, nil
		})
	}
}

// SpawnManyEnsembles mirrors SpawnManyEnsembleLLMs for Ensemble ids.
func (c *DefinitionCache) SpawnManyEnsembles(ids []string) {
	for _, id := range ids {
		id := id
		c.ensembles.DoChan(id, func() (result interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = WrapPanic(r)
					c.logger.Warn(context.Background(), "ensemble warm fetch crashed", F("id", id), F("err", err))
				}
			}()
			def, created, err := c.store.FetchEnsemble(context.Background(), id)
			if err != nil {
				return nil, err
			}
			return &EnsembleResult{Def: def, Created: created}, nil
		})
	}
}
