package ensemble

// UsageAggregate is the monoid from spec §4.H: identity ZeroUsage,
// associative Push. Costs are multiplied by the per-request
// cost_multiplier exactly once, at push time, before entering the
// aggregate — never again on subsequent merges.
type UsageAggregate struct {
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	ReasoningTokens  int64
	TotalCost        float64
}

// ZeroUsage is the identity element of the usage monoid.
func ZeroUsage() UsageAggregate { return UsageAggregate{} }

// Push folds one upstream Usage report into the aggregate, applying
// costMultiplier to its cost contribution.
func (u UsageAggregate) Push(usage *Usage, costMultiplier float64) UsageAggregate {
	if usage == nil {
		u.Requests++
		return u
	}
	u.Requests++
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
	u.CachedTokens += usage.CachedTokens
	u.ReasoningTokens += usage.ReasoningTokens
	u.TotalCost += usage.Cost * costMultiplier
	return u
}

// Merge combines two already-pushed aggregates associatively. Used when
// usage from independent branches (e.g. Swiss tournament players, or
// sibling Function tasks) is combined after the fact.
func (u UsageAggregate) Merge(other UsageAggregate) UsageAggregate {
	return UsageAggregate{
		Requests:         u.Requests + other.Requests,
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		CachedTokens:     u.CachedTokens + other.CachedTokens,
		ReasoningTokens:  u.ReasoningTokens + other.ReasoningTokens,
		TotalCost:        u.TotalCost + other.TotalCost,
	}
}

// AnyUsage reports whether the aggregate is non-zero.
func (u UsageAggregate) AnyUsage() bool {
	return u.Requests > 0 || u.PromptTokens > 0 || u.CompletionTokens > 0 ||
		u.CachedTokens > 0 || u.ReasoningTokens > 0 || u.TotalCost > 0
}
