package ensemble

import "strings"

// Usage is the upstream token/cost report for one completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	ReasoningTokens  int64
	TotalTokens      int64
	Cost             float64
}

// TopLogProb is one alternative token considered at a position.
type TopLogProb struct {
	Token   string
	LogProb float64
}

// TokenLogProb is the logprob info for a single emitted token.
type TokenLogProb struct {
	Token       string
	LogProb     float64
	TopLogProbs []TopLogProb
}

// LogProbs unions across all deltas pushed into a choice.
type LogProbs struct {
	Content []TokenLogProb
}

// ToolCall is a complete, accumulated tool invocation.
// (declared in types.go — ToolCallDelta below is its streaming form)

// ToolCallDelta is one incremental slice of a tool call, keyed by
// (Index, Type, ID) per spec §4.C.
type ToolCallDelta struct {
	Index          int
	ID             string
	Type           string
	Name           string
	ArgumentsDelta string
}

// ChoiceDelta is the incremental content of one streamed chunk.
type ChoiceDelta struct {
	Role      string
	Content   string
	ToolCalls []ToolCallDelta
}

// Chunk is one event from an upstream streaming call.
type Chunk struct {
	ID           string
	Model        string
	ChoiceIndex  int
	Delta        ChoiceDelta
	FinishReason string
	LogProbs     *LogProbs
	Usage        *Usage
}

// Choice is one accumulated choice of a ChatCompletion.
type Choice struct {
	Index        int
	Message      ChatMessage
	FinishReason string
	LogProbs     *LogProbs
}

// ChatCompletion is the unary accumulation target of a streamed upstream
// call (spec §4.C / §9 "monoidal push").
type ChatCompletion struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   *Usage
	Error   *EngineError
}

// Accumulator reduces a sequence of Chunks monoidally into a
// ChatCompletion, grounded on the ChatCompletionAccumulator/AddChunk
// pattern: text is appended, log-probs are unioned, the first-seen
// finish_reason is carried over, and tool-call argument strings are
// concatenated within a matching (index, type, id). Choice slots and
// tool-call slots are both assigned by a ChoiceIndexer (spec §5): the
// first chunk to mention a given ChoiceIndex or tool-call key claims the
// next slot, every later chunk for that key reuses it.
type Accumulator struct {
	completion ChatCompletion
	choiceIdx  *ChoiceIndexer
	toolIdx    *ChoiceIndexer
	chunkCount int
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		choiceIdx: NewChoiceIndexer(),
		toolIdx:   NewChoiceIndexer(),
	}
}

// ChunkCount reports how many chunks have been pushed, used by the
// dispatcher to detect an empty stream (spec §4.C retry trigger).
func (a *Accumulator) ChunkCount() int { return a.chunkCount }

// Push folds one chunk into the accumulator. It never returns an error:
// a malformed chunk degrades gracefully, consistent with "Schema" errors
// never killing a completion (spec §7).
func (a *Accumulator) Push(c Chunk) {
	a.chunkCount++

	if a.completion.ID == "" {
		a.completion.ID = c.ID
	}
	if a.completion.Model == "" {
		a.completion.Model = c.Model
	}
	if c.Usage != nil {
		a.completion.Usage = c.Usage
	}

	slot := a.choiceIdx.IndexFor(itoa(c.ChoiceIndex))
	if slot == len(a.completion.Choices) {
		a.completion.Choices = append(a.completion.Choices, Choice{Index: c.ChoiceIndex})
	}
	choice := &a.completion.Choices[slot]

	if c.Delta.Role != "" && choice.Message.Role == "" {
		choice.Message.Role = c.Delta.Role
	}
	choice.Message.Content += c.Delta.Content

	for _, td := range c.Delta.ToolCalls {
		a.pushToolCallDelta(choice, td)
	}

	if c.FinishReason != "" && choice.FinishReason == "" {
		choice.FinishReason = c.FinishReason
	}

	if c.LogProbs != nil {
		if choice.LogProbs == nil {
			choice.LogProbs = &LogProbs{}
		}
		choice.LogProbs.Content = append(choice.LogProbs.Content, c.LogProbs.Content...)
	}
}

func (a *Accumulator) pushToolCallDelta(choice *Choice, td ToolCallDelta) {
	key := toolCallKey(td)
	slot := a.toolIdx.IndexFor(key)
	if slot == len(choice.Message.ToolCalls) {
		choice.Message.ToolCalls = append(choice.Message.ToolCalls, ToolCall{
			Index: td.Index,
			ID:    td.ID,
			Type:  td.Type,
			Name:  td.Name,
		})
	}
	choice.Message.ToolCalls[slot].Arguments += td.ArgumentsDelta
	if td.Name != "" && choice.Message.ToolCalls[slot].Name == "" {
		choice.Message.ToolCalls[slot].Name = td.Name
	}
}

func toolCallKey(td ToolCallDelta) string {
	var b strings.Builder
	b.WriteString(itoa(td.Index))
	b.WriteByte(':')
	b.WriteString(td.Type)
	b.WriteByte(':')
	b.WriteString(td.ID)
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Result returns the accumulated ChatCompletion.
func (a *Accumulator) Result() ChatCompletion {
	return a.completion
}

// MergeUsage folds two Usage monoid values, applying no multiplier
// (see usage.go for cost_multiplier application).
func MergeUsage(a, b *Usage) *Usage {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		CachedTokens:     a.CachedTokens + b.CachedTokens,
		ReasoningTokens:  a.ReasoningTokens + b.ReasoningTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
		Cost:             a.Cost + b.Cost,
	}
}
