package ensemble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionCacheFetchEnsembleLLM(t *testing.T) {
	store := NewMemoryDefinitionStore()
	store.PutEnsembleLLM("llm-1", EnsembleLLM{Model: "openai/gpt-4o-mini"}, time.Now())
	cache := NewDefinitionCache(store, NoopLogger{})

	res, err := cache.FetchEnsembleLLM(context.Background(), "llm-1")
	require.NoError(t, err)
	require.NotNil(t, res.Def)
	assert.Equal(t, "openai/gpt-4o-mini", res.Def.Model)
}

func TestDefinitionCacheFetchNotFound(t *testing.T) {
	store := NewMemoryDefinitionStore()
	cache := NewDefinitionCache(store, NoopLogger{})

	res, err := cache.FetchEnsembleLLM(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, res.Def)
}

// TestDefinitionCacheSingleFlightCoalescesConcurrentFetches grounds spec
// §4.B's single-flight requirement: N concurrent callers for the same id
// against a slow store must see exactly one underlying store call.
func TestDefinitionCacheSingleFlightCoalescesConcurrentFetches(t *testing.T) {
	store := NewMemoryDefinitionStore().WithFetchDelay(50 * time.Millisecond)
	store.PutEnsembleLLM("llm-1", EnsembleLLM{Model: "openai/gpt-4o-mini"}, time.Now())
	cache := NewDefinitionCache(store, NoopLogger{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*EnsembleLLMResult, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cache.FetchEnsembleLLM(context.Background(), "llm-1")
			require.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for i, r := range results {
		assert.Same(t, results[0], r, "caller %d should share the single-flighted result", i)
	}
}

// TestDefinitionCacheOneCallerCancellingDoesNotAbortOthers grounds the
// "release lock before await" cancellation semantics (spec §4.B): a
// caller whose own context is cancelled must not cancel the underlying
// store fetch for other waiters.
func TestDefinitionCacheOneCallerCancellingDoesNotAbortOthers(t *testing.T) {
	store := NewMemoryDefinitionStore().WithFetchDelay(80 * time.Millisecond)
	store.PutEnsembleLLM("llm-1", EnsembleLLM{Model: "openai/gpt-4o-mini"}, time.Now())
	cache := NewDefinitionCache(store, NoopLogger{})

	cancelledCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := cache.FetchEnsembleLLM(cancelledCtx, "llm-1")
		assert.Error(t, err)
	}()

	res, err := cache.FetchEnsembleLLM(context.Background(), "llm-1")
	require.NoError(t, err)
	require.NotNil(t, res.Def)
	wg.Wait()
}

func TestSpawnManyEnsembleLLMsWarmsCache(t *testing.T) {
	store := NewMemoryDefinitionStore()
	store.PutEnsembleLLM("a", EnsembleLLM{Model: "openai/a"}, time.Now())
	store.PutEnsembleLLM("b", EnsembleLLM{Model: "openai/b"}, time.Now())
	cache := NewDefinitionCache(store, NoopLogger{})

	cache.SpawnManyEnsembleLLMs([]string{"a", "b"})

	res, err := cache.FetchEnsembleLLM(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "openai/a", res.Def.Model)
}
