package ensemble

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractVote is component D: it turns one accumulated ChatCompletion
// into a length-len(keys) non-negative vector. Parsing failures degrade
// to the zero vector rather than an error (spec §4.D, §7 Schema kind).
func ExtractVote(cc ChatCompletion, keys []string, mode OutputMode) []decimal.Decimal {
	zero := zeroVector(len(keys))
	if len(cc.Choices) == 0 {
		return zero
	}
	choice := cc.Choices[0]

	switch mode {
	case OutputModeJSONSchema:
		return extractJSONSchemaVote(choice, keys)
	case OutputModeToolCall:
		return extractToolCallVote(choice, keys)
	default:
		return extractInstructionVote(choice, keys)
	}
}

func zeroVector(n int) []decimal.Decimal {
	v := make([]decimal.Decimal, n)
	for i := range v {
		v[i] = decimal.Zero
	}
	return v
}

func indexOfKey(keys []string, token string) int {
	for i, k := range keys {
		if k == token {
			return i
		}
	}
	return -1
}

// extractInstructionVote handles OutputModeInstruction per spec §4.D:
// match the final emitted token run against a key; if logprobs are
// available at that position, spread weight over every key with
// non-negligible probability instead of collapsing to one-hot.
//
// Whitespace is normalized before matching (spec §9 open question: the
// one-hot fallback is brittle against models that pad their answer with
// trailing whitespace).
func extractInstructionVote(choice Choice, keys []string) []decimal.Decimal {
	content := strings.TrimSpace(choice.Message.Content)
	keyIdx := indexOfKey(keys, content)
	if keyIdx < 0 {
		fields := strings.Fields(content)
		if len(fields) > 0 {
			keyIdx = indexOfKey(keys, fields[len(fields)-1])
		}
	}

	if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
		last := choice.LogProbs.Content[len(choice.LogProbs.Content)-1]
		if dist, ok := distributionFromLogProbs(last, keys); ok {
			return dist
		}
	}

	out := zeroVector(len(keys))
	if keyIdx >= 0 {
		out[keyIdx] = decimal.NewFromInt(1)
	}
	return out
}

// extractJSONSchemaVote handles OutputModeJSONSchema: the body must
// parse as a JSON object with exactly one property whose value is one
// of keys.
func extractJSONSchemaVote(choice Choice, keys []string) []decimal.Decimal {
	zero := zeroVector(len(keys))

	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(choice.Message.Content), &body); err != nil {
		return zero
	}
	if len(body) != 1 {
		return zero
	}

	var value string
	for _, raw := range body {
		if err := json.Unmarshal(raw, &value); err != nil {
			return zero
		}
	}

	keyIdx := indexOfKey(keys, strings.TrimSpace(value))
	if keyIdx < 0 {
		return zero
	}

	if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
		last := choice.LogProbs.Content[len(choice.LogProbs.Content)-1]
		if dist, ok := distributionFromLogProbs(last, keys); ok {
			return dist
		}
	}

	out := zeroVector(len(keys))
	out[keyIdx] = decimal.NewFromInt(1)
	return out
}

// extractToolCallVote handles OutputModeToolCall: the forced tool call's
// arguments must parse the same way extractJSONSchemaVote parses a body.
func extractToolCallVote(choice Choice, keys []string) []decimal.Decimal {
	zero := zeroVector(len(keys))
	if len(choice.Message.ToolCalls) == 0 {
		return zero
	}
	tc := choice.Message.ToolCalls[0]

	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return zero
	}
	if len(args) != 1 {
		return zero
	}

	var value string
	for _, raw := range args {
		if err := json.Unmarshal(raw, &value); err != nil {
			return zero
		}
	}

	keyIdx := indexOfKey(keys, strings.TrimSpace(value))
	if keyIdx < 0 {
		return zero
	}

	if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
		last := choice.LogProbs.Content[len(choice.LogProbs.Content)-1]
		if dist, ok := distributionFromLogProbs(last, keys); ok {
			return dist
		}
	}

	out := zeroVector(len(keys))
	out[keyIdx] = decimal.NewFromInt(1)
	return out
}

// negligibleLogProb bounds which top-logprob alternatives are worth
// including in a soft vote distribution.
const negligibleLogProb = -20.0

func distributionFromLogProbs(tok TokenLogProb, keys []string) ([]decimal.Decimal, bool) {
	mass := make(map[int]float64)

	consider := func(token string, logProb float64) {
		if logProb < negligibleLogProb {
			return
		}
		if idx := indexOfKey(keys, strings.TrimSpace(token)); idx >= 0 {
			mass[idx] += math.Exp(logProb)
		}
	}

	consider(tok.Token, tok.LogProb)
	for _, top := range tok.TopLogProbs {
		consider(top.Token, top.LogProb)
	}

	if len(mass) == 0 {
		return nil, false
	}

	sum := 0.0
	for _, v := range mass {
		sum += v
	}
	out := zeroVector(len(keys))
	for idx, v := range mass {
		out[idx] = decimal.NewFromFloat(v / sum)
	}
	return out, true
}
