package function

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store resolves a Ref to a Function definition. nil/nil/nil means "not
// found", mirroring ensemble.DefinitionStore (spec §6).
type Store interface {
	FetchFunction(ctx context.Context, ref Ref) (*Function, time.Time, error)
}

// MemoryStore is an in-memory Store, for tests and the demo CLI.
type MemoryStore struct {
	mu    sync.RWMutex
	byRef map[Ref]storedFunction
}

type storedFunction struct {
	fn        *Function
	createdAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRef: make(map[Ref]storedFunction)}
}

func (s *MemoryStore) Put(ref Ref, fn *Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRef[ref] = storedFunction{fn: fn, createdAt: time.Now()}
}

func (s *MemoryStore) FetchFunction(ctx context.Context, ref Ref) (*Function, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byRef[ref]
	if !ok {
		return nil, time.Time{}, nil
	}
	return entry.fn, entry.createdAt, nil
}

// Cache is a per-request single-flight cache over Store, the Function
// analogue of ensemble.DefinitionCache: concurrent fetches of the same
// Ref share one in-flight call, and the map lock is never held across
// the await (spec §9).
type Cache struct {
	store Store
	group singleflight.Group
}

func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

func refKey(ref Ref) string {
	return fmt.Sprintf("%s|%s|%s|%s", ref.Remote, ref.Owner, ref.Repository, ref.Commit)
}

// Fetch resolves ref, deduplicating concurrent callers. The store call
// itself runs against a detached context so one caller's cancellation
// never aborts a fetch other callers are awaiting.
func (c *Cache) Fetch(ctx context.Context, ref Ref) (*Function, error) {
	ch := c.group.DoChan(refKey(ref), func() (interface{}, error) {
		fn, _, err := c.store.FetchFunction(context.Background(), ref)
		if err != nil {
			return nil, err
		}
		if fn == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, refKey(ref))
		}
		return fn, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Function), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
