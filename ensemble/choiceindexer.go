package ensemble

import (
	"sync"
	"sync/atomic"
)

// ChoiceIndexer assigns every distinct key the next monotonic index on
// its first arrival, and the same index on every subsequent arrival.
// This gives deterministic first-come-first-served ordering even when
// callers race to register keys concurrently (spec §5).
type ChoiceIndexer struct {
	next    int64
	mu      sync.Mutex
	indices map[string]int
}

// NewChoiceIndexer returns an empty indexer.
func NewChoiceIndexer() *ChoiceIndexer {
	return &ChoiceIndexer{indices: make(map[string]int)}
}

// IndexFor returns key's assigned index, allocating a fresh one on
// first arrival.
func (c *ChoiceIndexer) IndexFor(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indices[key]; ok {
		return idx
	}
	idx := int(atomic.AddInt64(&c.next, 1)) - 1
	c.indices[key] = idx
	return idx
}

// Len reports how many distinct keys have been assigned an index.
func (c *ChoiceIndexer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indices)
}

// base26Key renders n (0-based) in base-26 letters: A, B, ..., Z, AA,
// AB, ... matching spec §4.E's deterministic response-option prefix keys.
func base26Key(n int) string {
	if n < 0 {
		panic("base26Key: negative index")
	}
	var buf []byte
	for {
		buf = append([]byte{byte('A' + n%26)}, buf...)
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return string(buf)
}

// AssignResponseKeys assigns deterministic base-26 prefix keys to a list
// of response options, in source order (spec §4.E step 2).
func AssignResponseKeys(options []ResponseOption) []KeyedResponse {
	keyed := make([]KeyedResponse, len(options))
	for i, opt := range options {
		keyed[i] = KeyedResponse{Key: base26Key(i), Index: i, Response: opt}
	}
	return keyed
}
