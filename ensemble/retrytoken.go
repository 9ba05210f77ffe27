package ensemble

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RetryToken is a flat, left-to-right array of nullable cache keys, one
// per vector-completion leaf (spec §6 Retry-token format). A non-null
// slot replays the corresponding leaf's cached vote; a null slot
// re-dispatches.
type RetryToken struct {
	Entries []*string
}

// NewRetryToken builds a token from the per-leaf votes of one execution,
// minting a fresh cache key for every successful vote and leaving failed
// leaves null.
func NewRetryToken(votes []*Vote) RetryToken {
	entries := make([]*string, len(votes))
	for i, v := range votes {
		if v == nil || v.Error != nil {
			continue
		}
		key := uuid.NewString()
		entries[i] = &key
	}
	return RetryToken{Entries: entries}
}

// Encode renders the token as base64 of a JSON array of nullable strings.
func (t RetryToken) Encode() (string, error) {
	raw, err := json.Marshal(t.Entries)
	if err != nil {
		return "", fmt.Errorf("encode retry token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRetryToken parses a previously-encoded token.
func DecodeRetryToken(token string) (RetryToken, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return RetryToken{}, fmt.Errorf("decode retry token: base64: %w", err)
	}
	var entries []*string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return RetryToken{}, fmt.Errorf("decode retry token: json: %w", err)
	}
	return RetryToken{Entries: entries}, nil
}

// At returns the cache key for leaf i, or "" if that leaf must be
// re-dispatched (either the token has no entry for i, or the entry is null).
func (t RetryToken) At(i int) string {
	if i < 0 || i >= len(t.Entries) || t.Entries[i] == nil {
		return ""
	}
	return *t.Entries[i]
}

// VoteCache is the "global vote cache" consulted when a leaf's
// from_cache bit is set (spec §4.E Cache & retry), independent of the
// per-request DefinitionCache in cache.go. It is keyed both by the opaque
// cache keys minted in NewRetryToken and by the (model, prompt, tools,
// responses) keys that vector.go builds for from_cache lookups.
type VoteCache interface {
	Get(key string) (Vote, bool)
	Put(key string, vote Vote)
}

// MemoryVoteCache is an in-memory VoteCache, used by the cmd demo and
// in tests exercising retry-token replay (spec §8 S5).
type MemoryVoteCache struct {
	mu      sync.RWMutex
	entries map[string]Vote
}

// NewMemoryVoteCache returns an empty MemoryVoteCache.
func NewMemoryVoteCache() *MemoryVoteCache {
	return &MemoryVoteCache{entries: make(map[string]Vote)}
}

func (c *MemoryVoteCache) Get(key string) (Vote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *MemoryVoteCache) Put(key string, vote Vote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = vote
}
