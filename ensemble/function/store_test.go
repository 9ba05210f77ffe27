package function

import (
	"context"
	"testing"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFetchFromStore(t *testing.T) {
	store := NewMemoryStore()
	ref := Ref{Remote: RemoteGithub, Owner: "acme", Repository: "scoring", Commit: "deadbeef"}
	jmes := "`1`"
	fn := &Function{Kind: KindScalar, Output: expr.Expression{JMESPath: &jmes}}
	store.Put(ref, fn)

	cache := NewCache(store)
	got, err := cache.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Same(t, fn, got)
}

func TestCacheFetchNotFound(t *testing.T) {
	store := NewMemoryStore()
	cache := NewCache(store)
	_, err := cache.Fetch(context.Background(), Ref{Remote: RemoteGithub, Owner: "a", Repository: "b"})
	assert.Error(t, err)
}

func TestRefValidateRequiresCommitWhenStrict(t *testing.T) {
	ref := Ref{Remote: RemoteGithub, Owner: "acme", Repository: "scoring"}
	assert.Error(t, ref.Validate(true))
	assert.NoError(t, ref.Validate(false))
}
