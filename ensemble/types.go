package ensemble

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutputMode constrains how an Ensemble-LLM is asked to pick among
// response options during a vector completion. Ignored for ordinary
// chat completions. Grounded on original_source ensemble_llm/output_mode.rs.
type OutputMode string

const (
	OutputModeInstruction OutputMode = "instruction"
	OutputModeJSONSchema  OutputMode = "json_schema"
	OutputModeToolCall    OutputMode = "tool_call"
)

// Verbosity hints at response detail. Medium is the default and is
// elided during normalization (original_source ensemble_llm/verbosity.rs).
type Verbosity string

const (
	VerbosityLow    Verbosity = "low"
	VerbosityMedium Verbosity = "medium"
	VerbosityHigh   Verbosity = "high"
	VerbosityMax    Verbosity = "max"
)

// ReasoningEffort mirrors the provider-side reasoning-effort knob.
type ReasoningEffort string

const (
	ReasoningEffortNone   ReasoningEffort = ""
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// ChatMessage is a provider-agnostic chat message, used both for the
// caller-supplied conversation and for an Ensemble-LLM's prefix/suffix
// messages.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// EnsembleLLM is the fully-specified configuration of a single upstream
// model (spec §3). Decoding parameters are pointers so "not set" is
// distinguishable from "set to the zero value".
type EnsembleLLM struct {
	ID string `json:"id,omitempty"`

	Model string `json:"model"`

	PrefixMessages []ChatMessage `json:"prefix_messages,omitempty"`
	SuffixMessages []ChatMessage `json:"suffix_messages,omitempty"`

	Temperature      *decimal.Decimal `json:"temperature,omitempty"`
	TopP             *decimal.Decimal `json:"top_p,omitempty"`
	TopK             *int64           `json:"top_k,omitempty"`
	MinP             *decimal.Decimal `json:"min_p,omitempty"`
	FrequencyPenalty *decimal.Decimal `json:"frequency_penalty,omitempty"`
	PresencePenalty  *decimal.Decimal `json:"presence_penalty,omitempty"`
	MaxTokens        *int64           `json:"max_tokens,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	Seed             *int64           `json:"seed,omitempty"`
	ReasoningEffort  ReasoningEffort  `json:"reasoning_effort,omitempty"`
	Verbosity        Verbosity        `json:"verbosity,omitempty"`

	ProviderPreference string `json:"provider_preference,omitempty"`

	OutputMode OutputMode `json:"output_mode,omitempty"`

	// Count is how many identical leaves this member spawns when a flat
	// ensemble is computed. Default 1.
	Count int `json:"count,omitempty"`

	// SyntheticReasoning requests a synthesized reasoning trace when the
	// provider doesn't natively expose one.
	SyntheticReasoning bool `json:"synthetic_reasoning,omitempty"`
}

// EffectiveCount returns Count, defaulting to 1.
func (e *EnsembleLLM) EffectiveCount() int {
	if e.Count <= 0 {
		return 1
	}
	return e.Count
}

// EnsembleMember is one slot of an Ensemble: either an inline
// Ensemble-LLM definition or a content-addressed reference to one,
// resolved through the definition cache (component B) before the
// engine can flatten it. The untagged wire form mirrors the sibling
// Ensemble-by-id-or-inline pattern: a bare string is a reference, an
// object is an inline definition.
type EnsembleMember struct {
	ID     string
	Inline *EnsembleLLM
}

// FlattenResolved expands an already-resolved, in-order list of
// Ensemble-LLMs by each one's count, preserving member order. Flat
// indices are what votes reference (spec §3 Invariants). Resolution
// itself (inline vs cache lookup) is component E's job — see
// ensemble/vector.go resolveMembers.
func FlattenResolved(resolved []EnsembleLLM) []EnsembleLLM {
	flat := make([]EnsembleLLM, 0, len(resolved))
	for _, m := range resolved {
		for i := 0; i < m.EffectiveCount(); i++ {
			flat = append(flat, m)
		}
	}
	return flat
}

// Ensemble is an ordered list of Ensemble-LLM members (spec §3).
type Ensemble struct {
	ID      string           `json:"id,omitempty"`
	Members []EnsembleMember `json:"members"`
}

// ProfileEntry is one slot of a Profile: a non-negative weight plus an
// optional invert bit (spec §3).
type ProfileEntry struct {
	Weight decimal.Decimal `json:"weight"`
	Invert bool            `json:"invert,omitempty"`
}

// Profile is a weight vector parallel to a flat ensemble. The legacy
// wire form is a bare array of decimals (implicit invert=false); see
// Profile.UnmarshalJSON in profile_json.go for the untagged-enum decode.
type Profile struct {
	Entries []ProfileEntry
}

// Len returns the number of weighted slots.
func (p Profile) Len() int { return len(p.Entries) }

// ResponseOption is an opaque rich-content response option shown to the
// voting LLM (spec §3). Exactly one of the fields is populated.
type ResponseOption struct {
	Text  string          `json:"text,omitempty"`
	Parts []ResponsePart  `json:"parts,omitempty"`
	Image *ResponseMedia  `json:"image,omitempty"`
	Audio *ResponseMedia  `json:"audio,omitempty"`
	Video *ResponseMedia  `json:"video,omitempty"`
	File  *ResponseMedia  `json:"file,omitempty"`
}

// ResponsePart is one element of a multi-part rich response option.
type ResponsePart struct {
	Text  string         `json:"text,omitempty"`
	Image *ResponseMedia `json:"image,omitempty"`
	Audio *ResponseMedia `json:"audio,omitempty"`
	Video *ResponseMedia `json:"video,omitempty"`
	File  *ResponseMedia `json:"file,omitempty"`
}

// ResponseMedia is a reference to non-text content (URL or inline data).
type ResponseMedia struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// KeyedResponse pairs a response option with the prefix key
// (assigned by AssignResponseKeys, e.g. "A", "B", ...) shown to the LLM and its
// native index in the caller's response list.
type KeyedResponse struct {
	Key      string
	Index    int
	Response ResponseOption
}

// Vote is one leaf's probability vector over response options, plus the
// provenance spec §3 requires.
type Vote struct {
	Components []decimal.Decimal `json:"components"`

	ModelID          string          `json:"model_id"`
	FlatIndex        int             `json:"flat_index"`
	PromptHash       string          `json:"prompt_hash"`
	ToolsHash        string          `json:"tools_hash"`
	ResponseHashes   []string        `json:"response_hashes"`
	Weight           decimal.Decimal `json:"weight"`
	Retry            bool            `json:"retry,omitempty"`
	FromCache        bool            `json:"from_cache,omitempty"`
	FromRNG          bool            `json:"from_rng,omitempty"`
	Error            *EngineError    `json:"error,omitempty"`
}

// CreatedAt is attached to definitions fetched from the store (spec §4.B).
type CreatedAt = time.Time
