package function

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
)

// RetryToken is a Function-level retry token: one ensemble.RetryToken per
// vector-completion task, keyed by that task's task_path. A single flat
// array covering every leaf in the whole Function tree would force each
// VectorEngine.Run call to re-index from 0, so the second vector-completion
// task in a tree would replay the first task's cache keys. Keeping one
// token per task, scoped to that task's own leaves, means a task's local
// flat index always lines up with its own slot (spec §8 invariant 6)
// regardless of how many leaves sibling or ancestor tasks contribute.
type RetryToken struct {
	ByPath map[string]string
}

func pathKey(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}

// ForPath returns the ensemble.RetryToken scoped to taskPath, or nil if
// the token carries no entry for it (e.g. the Function shape changed
// since the token was issued, or that task never produced a vote).
func (t RetryToken) ForPath(taskPath []int) (*ensemble.RetryToken, error) {
	if t.ByPath == nil {
		return nil, nil
	}
	encoded, ok := t.ByPath[pathKey(taskPath)]
	if !ok {
		return nil, nil
	}
	tok, err := ensemble.DecodeRetryToken(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode retry token for task %s: %w", pathKey(taskPath), err)
	}
	return &tok, nil
}

// Encode renders the token as base64 of a JSON object mapping task_path
// to an encoded ensemble.RetryToken.
func (t RetryToken) Encode() (string, error) {
	raw, err := json.Marshal(t.ByPath)
	if err != nil {
		return "", fmt.Errorf("encode retry token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRetryToken parses a token produced by RetryToken.Encode.
func DecodeRetryToken(token string) (RetryToken, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return RetryToken{}, fmt.Errorf("decode retry token: base64: %w", err)
	}
	var byPath map[string]string
	if err := json.Unmarshal(raw, &byPath); err != nil {
		return RetryToken{}, fmt.Errorf("decode retry token: json: %w", err)
	}
	return RetryToken{ByPath: byPath}, nil
}
