package ensemble

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// VectorRequest is the input to one vector-completion round (spec §4.E).
type VectorRequest struct {
	// Ensemble is either an inline single Ensemble-LLM, run as a
	// one-member ensemble, or the id of a stored Ensemble fetched through
	// the definition cache. A multi-member ensemble can only be given by
	// id; there is no inline multi-member form.
	Ensemble EnsembleMember

	Profile  Profile
	Messages []ChatMessage
	Options  []ResponseOption
	Tools    []ToolSpec

	// RetryToken replays cached votes for its non-null entries (spec §4.E
	// Cache & retry).
	RetryToken *RetryToken
	// FromCache additionally consults the global VoteCache before
	// dispatching any leaf that the retry token didn't already resolve.
	FromCache bool
	// FromRNG makes every leaf that would otherwise dispatch emit an
	// RNG-sampled vote instead (uniform-Dirichlet over R); dry-run only.
	FromRNG bool

	// APIKey is a BYOK key passed through to every leaf dispatch unchanged.
	APIKey string
}

// VectorResult is the output of one vector-completion round.
type VectorResult struct {
	Scores     []decimal.Decimal
	Weights    []decimal.Decimal
	Votes      []Vote
	Usage      UsageAggregate
	RetryToken string
}

// VectorEngine is component E.
type VectorEngine struct {
	cache      *DefinitionCache
	dispatcher *Dispatcher
	voteCache  VoteCache
	logger     Logger
	cfg        *Config
	rng        *rand.Rand
	rngMu      sync.Mutex
}

// NewVectorEngine builds a VectorEngine. voteCache may be nil, in which
// case FromCache is a no-op and retry-token entries are not replayed
// either: every leaf dispatches fresh.
func NewVectorEngine(cache *DefinitionCache, dispatcher *Dispatcher, voteCache VoteCache, logger Logger, cfg *Config) *VectorEngine {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &VectorEngine{
		cache:      cache,
		dispatcher: dispatcher,
		voteCache:  voteCache,
		logger:     logger,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// Run executes the state machine from spec §4.E:
// ResolveEnsemble → ExpandFlat → FanoutLeaves → Collect votes → Aggregate → Emit.
func (e *VectorEngine) Run(ctx context.Context, req VectorRequest) (*VectorResult, error) {
	ensembleDef, err := e.resolveEnsemble(ctx, req.Ensemble)
	if err != nil {
		return nil, WrapDefinition(err)
	}

	e.WarmEnsembleLLMIDs(ensembleDef.Members)

	resolvedMembers, err := e.resolveMembers(ctx, ensembleDef.Members)
	if err != nil {
		return nil, WrapDefinition(err)
	}
	flat := FlattenResolved(resolvedMembers)

	if req.Profile.Len() != len(flat) {
		return nil, WrapConfiguration(fmt.Sprintf(
			"%v: profile has %d entries, flat ensemble has %d members",
			ErrProfileLengthMismatch, req.Profile.Len(), len(flat)))
	}

	keyed := AssignResponseKeys(req.Options)
	keys := make([]string, len(keyed))
	responseHashes := make([]string, len(keyed))
	for i, kr := range keyed {
		keys[i] = kr.Key
		responseHashes[i] = hashResponseOption(kr.Response)
	}
	promptHash := hashPrompt(req.Messages)
	toolsHash := hashTools(req.Tools)

	weights, inverts := req.Profile.ToWeightsAndInvert()

	votes := make([]Vote, len(flat))
	usage := ZeroUsage()
	var usageMu sync.Mutex

	var wg sync.WaitGroup
	for i := range flat {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			vote, leafUsage := e.runLeaf(ctx, leafInput{
				flatIndex:      i,
				member:         flat[i],
				messages:       req.Messages,
				keyed:          keyed,
				keys:           keys,
				tools:          req.Tools,
				promptHash:     promptHash,
				toolsHash:      toolsHash,
				responseHashes: responseHashes,
				weight:         weights[i],
				invert:         inverts[i],
				retryToken:     req.RetryToken,
				fromCache:      req.FromCache,
				fromRNG:        req.FromRNG,
				apiKey:         req.APIKey,
			})
			votes[i] = vote
			usageMu.Lock()
			usage = usage.Push(leafUsage, e.cfg.CostMultiplier)
			usageMu.Unlock()
		}()
	}
	wg.Wait()

	allFailed := true
	for _, v := range votes {
		if v.Error == nil {
			allFailed = false
			break
		}
	}
	if allFailed && len(votes) > 0 {
		var errs []*EngineError
		for _, v := range votes {
			if v.Error != nil {
				errs = append(errs, v.Error)
			}
		}
		return nil, (&MultipleErrors{Errors: errs}).AsEngineError()
	}

	weightsOut, scoresOut := aggregate(votes, len(keys))

	tokenEntries := make([]*Vote, len(votes))
	for i := range votes {
		v := votes[i]
		tokenEntries[i] = &v
	}
	retryToken := NewRetryToken(tokenEntries)
	if e.voteCache != nil {
		for i, key := range retryToken.Entries {
			if key != nil {
				e.voteCache.Put(*key, votes[i])
			}
		}
	}
	token, err := retryToken.Encode()
	if err != nil {
		return nil, WrapConfiguration(err.Error())
	}

	return &VectorResult{
		Scores:     scoresOut,
		Weights:    weightsOut,
		Votes:      votes,
		Usage:      usage,
		RetryToken: token,
	}, nil
}

type leafInput struct {
	flatIndex      int
	member         EnsembleLLM
	messages       []ChatMessage
	keyed          []KeyedResponse
	keys           []string
	tools          []ToolSpec
	promptHash     string
	toolsHash      string
	responseHashes []string
	weight         decimal.Decimal
	invert         bool
	retryToken     *RetryToken
	fromCache      bool
	fromRNG        bool
	apiKey         string
}

func (e *VectorEngine) runLeaf(ctx context.Context, in leafInput) (Vote, *Usage) {
	base := Vote{
		ModelID:        in.member.Model,
		FlatIndex:      in.flatIndex,
		PromptHash:     in.promptHash,
		ToolsHash:      in.toolsHash,
		ResponseHashes: in.responseHashes,
		Weight:         in.weight,
	}

	// Retry-token replay reproduces a specific prior execution's final
	// vote verbatim (weight, inversion and all) — spec §8 invariant 6.
	if in.retryToken != nil {
		if cacheKey := in.retryToken.At(in.flatIndex); cacheKey != "" {
			if e.voteCache != nil {
				if cached, ok := e.voteCache.Get(cacheKey); ok {
					cached.Retry = true
					cached.FromCache = true
					return cached, nil
				}
			}
		}
	}

	// The global vote cache stores the pre-inversion vote keyed only by
	// (model, prompt, tools, responses), so two requests that differ
	// only in their profile's invert bit each get correctly inverted
	// results from the same cached dispatch.
	if in.fromCache && e.voteCache != nil {
		key := globalVoteCacheKey(in.member, in.promptHash, in.toolsHash, in.responseHashes)
		if cached, ok := e.voteCache.Get(key); ok {
			cached.FromCache = true
			cached.Weight = in.weight
			return applyInversion(cached, in.invert), nil
		}
	}

	if in.fromRNG {
		components := e.sampleDirichlet(len(in.keys))
		vote := base
		vote.Components = components
		vote.FromRNG = true
		return applyInversion(vote, in.invert), nil
	}

	req := buildUpstreamRequest(in.member, in.messages, in.keyed, in.tools, in.apiKey)
	cc, err := e.dispatcher.Dispatch(ctx, []string{in.member.Model}, req)
	if err != nil {
		vote := base
		vote.Components = zeroVector(len(in.keys))
		vote.Error = toEngineError(err)
		return vote, nil
	}

	vote := base
	vote.Components = ExtractVote(cc, in.keys, in.member.OutputMode)

	if e.voteCache != nil {
		key := globalVoteCacheKey(in.member, in.promptHash, in.toolsHash, in.responseHashes)
		e.voteCache.Put(key, vote)
	}

	return applyInversion(vote, in.invert), cc.Usage
}

func toEngineError(err error) *EngineError {
	var ee *EngineError
	if as, ok := err.(interface{ AsEngineError() *EngineError }); ok {
		ee = as.AsEngineError()
		return ee
	}
	return WrapUpstream(err)
}

// applyInversion implements spec §4.E step 4e: replace vote v with
// (1-v)/(R-1) component-wise when invert is set. This preserves Σ=1;
// applying it twice restores the original vote only when R = 2 (for
// R > 2 the double application gives (R-2+v)/(R-1)²).
func applyInversion(v Vote, invert bool) Vote {
	if !invert || len(v.Components) < 2 {
		return v
	}
	r := decimal.NewFromInt(int64(len(v.Components)))
	denom := r.Sub(decimal.NewFromInt(1))
	if denom.IsZero() {
		return v
	}
	inverted := make([]decimal.Decimal, len(v.Components))
	for i, c := range v.Components {
		inverted[i] = decimal.NewFromInt(1).Sub(c).Div(denom)
	}
	v.Components = inverted
	return v
}

// aggregate implements spec §4.E step 5: weights[i] = Σ leaf_weight ×
// vote_component_i, scores = weights / Σweights (or all-zero).
func aggregate(votes []Vote, numKeys int) (weights, scores []decimal.Decimal) {
	weights = zeroVector(numKeys)
	for _, v := range votes {
		if v.Error != nil || len(v.Components) != numKeys {
			continue
		}
		for i, c := range v.Components {
			weights[i] = weights[i].Add(v.Weight.Mul(c))
		}
	}

	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}

	scores = zeroVector(numKeys)
	if total.IsPositive() {
		for i, w := range weights {
			scores[i] = w.DivRound(total, 14)
		}
	}
	return weights, scores
}

func (e *VectorEngine) sampleDirichlet(r int) []decimal.Decimal {
	if r <= 0 {
		return nil
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	alpha := make([]float64, r)
	for i := range alpha {
		alpha[i] = 1.0
	}
	dir := distuv.Dirichlet{Alpha: alpha, Src: e.rng}
	sample := dir.Rand(nil)

	out := make([]decimal.Decimal, r)
	for i, v := range sample {
		out[i] = decimal.NewFromFloatWithExponent(v, -14)
	}
	return out
}

func (e *VectorEngine) resolveEnsemble(ctx context.Context, ref EnsembleMember) (Ensemble, error) {
	if ref.Inline != nil {
		return Ensemble{Members: []EnsembleMember{{Inline: ref.Inline}}}, nil
	}
	if ref.ID == "" {
		return Ensemble{}, fmt.Errorf("%w: ensemble reference has no id", ErrInvalidDefinition)
	}
	res, err := e.cache.FetchEnsemble(ctx, ref.ID)
	if err != nil {
		return Ensemble{}, err
	}
	if res.Def == nil {
		return Ensemble{}, fmt.Errorf("%w: ensemble %q", ErrDefinitionNotFound, ref.ID)
	}
	return *res.Def, nil
}

func (e *VectorEngine) resolveMembers(ctx context.Context, members []EnsembleMember) ([]EnsembleLLM, error) {
	out := make([]EnsembleLLM, len(members))
	for i, m := range members {
		if m.Inline != nil {
			out[i] = *m.Inline
			continue
		}
		res, err := e.cache.FetchEnsembleLLM(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if res.Def == nil {
			return nil, fmt.Errorf("%w: ensemble-llm %q", ErrDefinitionNotFound, m.ID)
		}
		out[i] = *res.Def
	}
	return out, nil
}

// WarmEnsembleLLMIDs spawns cache fetches for the unique id-referenced
// members of an (unresolved) Ensemble, letting component B start
// fetching while earlier members are still resolving.
func (e *VectorEngine) WarmEnsembleLLMIDs(members []EnsembleMember) {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range members {
		if m.Inline != nil || m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	e.cache.SpawnManyEnsembleLLMs(ids)
}

func globalVoteCacheKey(member EnsembleLLM, promptHash, toolsHash string, responseHashes []string) string {
	var b strings.Builder
	b.WriteString(member.Model)
	b.WriteByte('|')
	b.WriteString(promptHash)
	b.WriteByte('|')
	b.WriteString(toolsHash)
	for _, h := range responseHashes {
		b.WriteByte('|')
		b.WriteString(h)
	}
	return b.String()
}

func hashPrompt(messages []ChatMessage) string {
	canon, err := canonicalJSON(messages)
	if err != nil {
		return ""
	}
	return hashToBase62(canon)
}

func hashTools(tools []ToolSpec) string {
	if len(tools) == 0 {
		return ""
	}
	canon, err := canonicalJSON(tools)
	if err != nil {
		return ""
	}
	return hashToBase62(canon)
}

func hashResponseOption(opt ResponseOption) string {
	canon, err := canonicalJSON(opt)
	if err != nil {
		return ""
	}
	return hashToBase62(canon)
}

// buildUpstreamRequest constructs the dispatcher input for one leaf
// (spec §4.E step 4b/4c): the caller's messages with the vector
// responses rendered as a formatted block, the member's prefix/suffix
// messages, its decoding parameters, and an output-mode-appropriate
// response constraint.
func buildUpstreamRequest(member EnsembleLLM, messages []ChatMessage, keyed []KeyedResponse, callerTools []ToolSpec, apiKey string) UpstreamRequest {
	rendered := make([]ChatMessage, 0, len(messages)+len(member.PrefixMessages)+len(member.SuffixMessages)+1)
	rendered = append(rendered, member.PrefixMessages...)
	rendered = append(rendered, messages...)
	rendered = append(rendered, ChatMessage{Role: "user", Content: renderResponseBlock(keyed)})
	rendered = append(rendered, member.SuffixMessages...)

	req := UpstreamRequest{
		Messages:         rendered,
		Temperature:      member.Temperature,
		TopP:             member.TopP,
		TopK:             member.TopK,
		MinP:             member.MinP,
		FrequencyPenalty: member.FrequencyPenalty,
		PresencePenalty:  member.PresencePenalty,
		MaxTokens:        member.MaxTokens,
		Stop:             member.Stop,
		Seed:             member.Seed,
		ReasoningEffort:  member.ReasoningEffort,
		Verbosity:        member.Verbosity,
		APIKey:           apiKey,
		Logprobs:         true,
		TopLogprobs:      5,
	}

	keys := make([]string, len(keyed))
	for i, kr := range keyed {
		keys[i] = kr.Key
	}

	switch member.OutputMode {
	case OutputModeJSONSchema:
		req.ResponseFormat = &ResponseFormat{
			Kind:       "json_schema",
			SchemaName: "vote",
			Schema:     voteJSONSchema(keys),
		}
	case OutputModeToolCall:
		req.Tools = append(append([]ToolSpec{}, callerTools...), ToolSpec{
			Name:        "vote",
			Description: "Select the key of the best response.",
			Parameters:  voteJSONSchema(keys),
		})
		req.ToolChoice = "vote"
	default: // Instruction
		if len(callerTools) > 0 {
			req.Tools = callerTools
			req.ToolChoice = "none"
		}
	}

	return req
}

func voteJSONSchema(keys []string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"answer": map[string]interface{}{
				"type": "string",
				"enum": keys,
			},
		},
		"required":             []string{"answer"},
		"additionalProperties": false,
	}
}

func renderResponseBlock(keyed []KeyedResponse) string {
	var b strings.Builder
	sorted := make([]KeyedResponse, len(keyed))
	copy(sorted, keyed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for _, kr := range sorted {
		fmt.Fprintf(&b, "%q: %q\n", kr.Key, responseOptionText(kr.Response))
	}
	return b.String()
}

func responseOptionText(opt ResponseOption) string {
	if opt.Text != "" {
		return opt.Text
	}
	var b strings.Builder
	for _, p := range opt.Parts {
		if p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
