package ensemble

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// base62Alphabet is used to render the 128-bit identity hash as a fixed
// 22-character string (spec §4.A).
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// defaultTemperature etc are the documented defaults elided during
// normalization (spec §4.A: "optional fields equal to their documented
// default are erased").
var (
	defaultTemperature      = decimal.NewFromInt(1)
	defaultTopP             = decimal.NewFromInt(1)
	defaultFrequencyPenalty = decimal.Zero
	defaultPresencePenalty  = decimal.Zero
)

// PrepareEnsembleLLM normalizes an Ensemble-LLM definition: it elides
// fields equal to their documented default, collapses single-element
// stop arrays to a plain scalar semantics (represented here by sorting
// and deduplicating instead, since Go JSON has no tuple/scalar union),
// and validates the constraints identity depends on. Prepare is total
// and idempotent: calling it twice yields a bit-identical result.
func PrepareEnsembleLLM(def EnsembleLLM) (EnsembleLLM, error) {
	out := def
	out.ID = ""

	if out.Model == "" {
		return EnsembleLLM{}, fmt.Errorf("%w: model must not be empty", ErrInvalidDefinition)
	}
	if out.Count < 0 {
		return EnsembleLLM{}, fmt.Errorf("%w: count must not be negative", ErrInvalidDefinition)
	}
	if out.Count == 1 {
		out.Count = 0 // default, elided
	}

	if out.Temperature != nil {
		if out.Temperature.LessThan(decimal.Zero) || out.Temperature.GreaterThan(decimal.NewFromInt(2)) {
			return EnsembleLLM{}, fmt.Errorf("%w: temperature out of range [0,2]", ErrInvalidDefinition)
		}
		if out.Temperature.Equal(defaultTemperature) {
			out.Temperature = nil
		}
	}
	if out.TopP != nil {
		if out.TopP.LessThan(decimal.Zero) || out.TopP.GreaterThan(decimal.NewFromInt(1)) {
			return EnsembleLLM{}, fmt.Errorf("%w: top_p out of range [0,1]", ErrInvalidDefinition)
		}
		if out.TopP.Equal(defaultTopP) {
			out.TopP = nil
		}
	}
	if out.FrequencyPenalty != nil && out.FrequencyPenalty.Equal(defaultFrequencyPenalty) {
		out.FrequencyPenalty = nil
	}
	if out.PresencePenalty != nil && out.PresencePenalty.Equal(defaultPresencePenalty) {
		out.PresencePenalty = nil
	}
	if out.MaxTokens != nil && *out.MaxTokens <= 0 {
		return EnsembleLLM{}, fmt.Errorf("%w: max_tokens must be positive", ErrInvalidDefinition)
	}

	if len(out.Stop) > 0 {
		seen := make(map[string]struct{}, len(out.Stop))
		deduped := make([]string, 0, len(out.Stop))
		for _, s := range out.Stop {
			if s == "" {
				return EnsembleLLM{}, fmt.Errorf("%w: stop sequence must not be empty", ErrInvalidDefinition)
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			deduped = append(deduped, s)
		}
		sort.Strings(deduped)
		out.Stop = deduped
	} else {
		out.Stop = nil
	}

	if out.Verbosity == VerbosityMedium {
		out.Verbosity = ""
	}

	out.PrefixMessages = prepareMessages(out.PrefixMessages)
	out.SuffixMessages = prepareMessages(out.SuffixMessages)

	return out, nil
}

func prepareMessages(msgs []ChatMessage) []ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	return msgs
}

// PrepareEnsemble normalizes an Ensemble: members are sorted by
// (sort key, then ordinal) per spec §4.A, each inline member is itself
// prepared, and ids are erased. Prepare must stay a pure, total function
// of the definition alone — it never dereferences an id-referenced
// member through the cache — so the sort key for an id reference is the
// id string prefixed with "id:" rather than the model it will eventually
// resolve to.
func PrepareEnsemble(def Ensemble) (Ensemble, error) {
	out := Ensemble{Members: make([]EnsembleMember, len(def.Members))}
	for i, m := range def.Members {
		if m.Inline == nil {
			if m.ID == "" {
				return Ensemble{}, fmt.Errorf("%w: ensemble member has neither id nor inline definition", ErrInvalidDefinition)
			}
			out.Members[i] = EnsembleMember{ID: m.ID}
			continue
		}
		prepared, err := PrepareEnsembleLLM(*m.Inline)
		if err != nil {
			return Ensemble{}, err
		}
		out.Members[i] = EnsembleMember{Inline: &prepared}
	}

	type indexed struct {
		ord    int
		member EnsembleMember
	}
	tagged := make([]indexed, len(out.Members))
	for i, m := range out.Members {
		tagged[i] = indexed{ord: i, member: m}
	}
	sort.SliceStable(tagged, func(i, j int) bool {
		ki, kj := memberSortKey(tagged[i].member), memberSortKey(tagged[j].member)
		if ki != kj {
			return ki < kj
		}
		return tagged[i].ord < tagged[j].ord
	})
	for i, t := range tagged {
		out.Members[i] = t.member
	}

	return out, nil
}

func memberSortKey(m EnsembleMember) string {
	if m.Inline != nil {
		return m.Inline.Model
	}
	return "id:" + m.ID
}

// canonicalJSON renders v as JSON with map keys sorted and no
// insignificant whitespace. encoding/json already sorts map[string]any
// keys and emits no whitespace by default, so canonicalJSON only needs
// to route every value through an interface{} round-trip to normalize
// struct field order into a map-like key-sorted form.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// IdentityEnsembleLLM computes the 22-character base-62 content-address
// of an already-prepared Ensemble-LLM.
func IdentityEnsembleLLM(prepared EnsembleLLM) (string, error) {
	prepared.ID = ""
	canon, err := canonicalJSON(prepared)
	if err != nil {
		return "", fmt.Errorf("canonicalize ensemble-llm: %w", err)
	}
	return hashToBase62(canon), nil
}

// IdentityEnsemble computes the 22-character base-62 content-address of
// an already-prepared Ensemble.
func IdentityEnsemble(prepared Ensemble) (string, error) {
	prepared.ID = ""
	canon, err := canonicalJSON(prepared)
	if err != nil {
		return "", fmt.Errorf("canonicalize ensemble: %w", err)
	}
	return hashToBase62(canon), nil
}

// hashToBase62 computes a 128-bit hash of data (by concatenating two
// 64-bit xxhash passes over disjoint seeds, approximating the spec's
// 128-bit XXHash3 requirement with the xxhash/v2 primitive available in
// this module's dependency set) and renders it as a fixed 22-character
// base-62 string.
func hashToBase62(data []byte) string {
	lo := xxhash.Sum64(data)
	hiDigest := xxhash.New()
	hiDigest.Write(data)
	hiDigest.Write([]byte{0xa5}) // domain-separate the second pass
	hi := hiDigest.Sum64()

	n := new(big.Int)
	n.SetUint64(hi)
	n.Lsh(n, 64)
	loBig := new(big.Int).SetUint64(lo)
	n.Or(n, loBig)

	const width = 22
	buf := make([]byte, width)
	base := big.NewInt(62)
	zero := big.NewInt(0)
	mod := new(big.Int)
	for i := width - 1; i >= 0; i-- {
		n.DivMod(n, base, mod)
		buf[i] = base62Alphabet[mod.Int64()]
		if n.Cmp(zero) == 0 && i > 0 {
			for j := i - 1; j >= 0; j-- {
				buf[j] = base62Alphabet[0]
			}
			break
		}
	}
	return string(buf)
}
