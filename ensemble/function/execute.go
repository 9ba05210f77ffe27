package function

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble/expr"
	"golang.org/x/time/rate"
)

// Chunk is one streaming update from an in-progress execution, labeled
// with the task_path that produced it (spec §4.G). SwissPool and
// SwissRound are set only for chunks produced during a Swiss tournament.
type Chunk struct {
	TaskPath   []int
	Vote       *ensemble.Vote
	Output     interface{}
	SwissPool  *int
	SwissRound *int
}

// Result is the outcome of a top-level Function execution.
type Result struct {
	Output     interface{}
	Votes      []ensemble.Vote
	Usage      ensemble.UsageAggregate
	RetryToken string

	ReasoningSummary      string
	ReasoningSummaryError string
}

// Options configures one Run: an optional Swiss tournament strategy and
// an optional reasoning-summary pass (spec §4.G).
type Options struct {
	Swiss           *SwissOptions
	ReasoningModels []string
	RetryToken      *RetryToken
}

// Engine is component G: it drives the flattened task sequence,
// recursing into nested Functions and dispatching vector-completion
// leaves through ensemble.VectorEngine.
type Engine struct {
	Sandbox      *expr.Sandbox
	Functions    *Cache
	VectorEngine *ensemble.VectorEngine
	Dispatcher   *ensemble.Dispatcher
	Logger       ensemble.Logger
	Config       *ensemble.Config
	Limiter      *rate.Limiter
}

// NewEngine builds an Engine. Logger may be nil (NoopLogger is used).
func NewEngine(sandbox *expr.Sandbox, functions *Cache, vectorEngine *ensemble.VectorEngine, dispatcher *ensemble.Dispatcher, logger ensemble.Logger, cfg *ensemble.Config) *Engine {
	if logger == nil {
		logger = ensemble.NoopLogger{}
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.ExecutionQPS), int(cfg.ExecutionQPS)+1)
	return &Engine{
		Sandbox:      sandbox,
		Functions:    functions,
		VectorEngine: vectorEngine,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Config:       cfg,
		Limiter:      limiter,
	}
}

type leafRecord struct {
	path []int
	vote ensemble.Vote
}

type execCtx struct {
	mu     sync.Mutex
	leaves []leafRecord
	byTask map[string][]ensemble.Vote
	usage  ensemble.UsageAggregate
}

// addLeaf records one vector-completion leaf vote. taskPath is the
// owning vector-completion task's path (shared by every leaf of that
// task); idx is the leaf's position within that task's own flattened
// ensemble, the same index VectorEngine.Run assigns as its flatIndex.
func (c *execCtx) addLeaf(taskPath []int, idx int, v ensemble.Vote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullPath := append(append([]int(nil), taskPath...), idx)
	c.leaves = append(c.leaves, leafRecord{path: fullPath, vote: v})
	if c.byTask == nil {
		c.byTask = make(map[string][]ensemble.Vote)
	}
	key := pathKey(taskPath)
	c.byTask[key] = append(c.byTask[key], v)
}

func (c *execCtx) addUsage(u ensemble.UsageAggregate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = c.usage.Merge(u)
}

// Run executes fn at the root, returning its assembled output plus
// aggregated usage and a retry token that maps each vector-completion
// task's task_path to its own vector-completion retry token.
func (e *Engine) Run(ctx context.Context, fn *Function, profile *Profile, input interface{}, opts Options, emit func(Chunk)) (*Result, error) {
	if emit == nil {
		emit = func(Chunk) {}
	}
	if opts.Swiss != nil {
		return e.runSwiss(ctx, fn, profile, input, *opts.Swiss, opts, emit)
	}

	ec := &execCtx{}
	output, err := e.runNode(ctx, []int{}, fn, profile, input, ec, opts.RetryToken, emit, 0)
	if err != nil {
		return nil, err
	}
	if fn.Kind == KindVector && fn.VectorLength > 0 {
		if arr, ok := output.([]interface{}); ok && len(arr) != fn.VectorLength {
			return nil, fmt.Errorf("function: output length %d does not match vector_length %d", len(arr), fn.VectorLength)
		}
	}

	retryToken, err := e.buildRetryToken(ec)
	if err != nil {
		return nil, err
	}

	votes := sortedVotes(ec.leaves)

	result := &Result{
		Output:     output,
		Votes:      votes,
		Usage:      ec.usage,
		RetryToken: retryToken,
	}

	if len(opts.ReasoningModels) > 0 {
		summary, sErr := e.reasoningSummary(ctx, opts.ReasoningModels, output)
		if sErr != nil {
			result.ReasoningSummaryError = sErr.Error()
		} else {
			result.ReasoningSummary = summary
		}
	}

	return result, nil
}

// buildRetryToken mints one ensemble.RetryToken per vector-completion
// task, each scoped to that task's own leaves in flatIndex order, so
// replaying never re-indexes a leaf against the wrong task's cache keys.
func (e *Engine) buildRetryToken(ec *execCtx) (string, error) {
	byPath := make(map[string]string, len(ec.byTask))
	for key, votes := range ec.byTask {
		ptrs := make([]*ensemble.Vote, len(votes))
		for i := range votes {
			v := votes[i]
			ptrs[i] = &v
		}
		encoded, err := ensemble.NewRetryToken(ptrs).Encode()
		if err != nil {
			return "", err
		}
		byPath[key] = encoded
	}
	return RetryToken{ByPath: byPath}.Encode()
}

func lessPath(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// sortedVotes returns leaves' votes in deterministic left-to-right
// task_path order. Leaves are recorded by concurrently running task
// goroutines, so ec.leaves' append order is not itself deterministic.
func sortedVotes(leaves []leafRecord) []ensemble.Vote {
	sorted := append([]leafRecord(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool { return lessPath(sorted[i].path, sorted[j].path) })
	votes := make([]ensemble.Vote, len(sorted))
	for i, l := range sorted {
		votes[i] = l.vote
	}
	return votes
}

// runNode executes one Function node and returns its assembled output
// value. Sibling tasks are launched concurrently; a task only starts
// once every sibling task its expressions reference has completed
// (spec §4.F/§4.G).
func (e *Engine) runNode(ctx context.Context, path []int, fn *Function, profile *Profile, input interface{}, ec *execCtx, retryToken *RetryToken, emit func(Chunk), depth int) (interface{}, error) {
	if depth > e.Config.MaxFunctionDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrDepthExceeded, depth)
	}

	n := len(fn.Tasks)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}
	tasksOut := make([]interface{}, n)
	taskErr := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])

			deps, unknown := taskDependencies(fn.Tasks[i])
			if unknown {
				for d := 0; d < i; d++ {
					<-done[d]
				}
			} else {
				for _, d := range deps {
					if d >= 0 && d < i {
						<-done[d]
					}
				}
			}
			for _, d := range deps {
				if taskErr[d] != nil {
					taskErr[i] = fmt.Errorf("dependency task %d failed: %w", d, taskErr[d])
					return
				}
			}

			taskPath := append(append([]int(nil), path...), i)
			var entry *ProfileEntry
			if profile != nil && i < len(profile.Entries) {
				entry = &profile.Entries[i]
			}
			out, err := e.runTask(ctx, taskPath, fn.Tasks[i], entry, input, tasksOut, ec, retryToken, emit, depth)
			if err != nil {
				taskErr[i] = err
				return
			}
			tasksOut[i] = out
		}(i)
	}
	wg.Wait()

	outDeps, outUnknown := outputDependencies(fn)
	if outUnknown {
		outDeps = make([]int, n)
		for i := range outDeps {
			outDeps[i] = i
		}
	}
	for _, d := range outDeps {
		if d >= 0 && d < n && taskErr[d] != nil {
			return nil, taskErr[d]
		}
	}

	params := expr.Params{Input: input, Tasks: tasksOut}
	result, err := e.Sandbox.Evaluate(fn.Output, params)
	if err != nil {
		return nil, err
	}
	emit(Chunk{TaskPath: path, Output: result})
	return result, nil
}

func (e *Engine) runTask(ctx context.Context, taskPath []int, task Task, entry *ProfileEntry, parentInput interface{}, tasksOut []interface{}, ec *execCtx, retryToken *RetryToken, emit func(Chunk), depth int) (interface{}, error) {
	if task.InputMap == nil {
		return e.runTaskInstance(ctx, taskPath, task, entry, parentInput, tasksOut, ec, retryToken, emit, depth)
	}

	params := expr.Params{Input: parentInput, Tasks: tasksOut}
	mapped, err := e.Sandbox.Evaluate(*task.InputMap, params)
	if err != nil {
		return nil, err
	}
	elements, ok := mapped.([]interface{})
	if !ok {
		return nil, fmt.Errorf("input-map expression did not evaluate to an array")
	}

	outputs := make([]interface{}, len(elements))
	errs := make([]error, len(elements))
	var wg sync.WaitGroup
	for i, el := range elements {
		wg.Add(1)
		go func(i int, el interface{}) {
			defer wg.Done()
			childPath := append(append([]int(nil), taskPath...), i)
			out, err := e.runTaskInstance(ctx, childPath, task, entry, el, tasksOut, ec, retryToken, emit, depth)
			if err != nil {
				errs[i] = err
				return
			}
			outputs[i] = out
		}(i, el)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return outputs, nil
}

func (e *Engine) runTaskInstance(ctx context.Context, taskPath []int, task Task, entry *ProfileEntry, input interface{}, tasksOut []interface{}, ec *execCtx, retryToken *RetryToken, emit func(Chunk), depth int) (interface{}, error) {
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	switch task.Kind {
	case TaskVectorCompletion:
		return e.runVectorCompletion(ctx, taskPath, task.VectorCompletion, entry, input, tasksOut, ec, retryToken, emit)
	case TaskFunctionRef:
		// A Function executed here is always driven by a Profile (spec
		// §6): its remote references must carry a commit, not "latest".
		if err := task.FunctionRef.Validate(true); err != nil {
			return nil, err
		}
		childFn, err := e.Functions.Fetch(ctx, *task.FunctionRef)
		if err != nil {
			return nil, err
		}
		var childProfile *Profile
		if entry != nil {
			childProfile = entry.Function
		}
		return e.runNode(ctx, taskPath, childFn, childProfile, input, ec, retryToken, emit, depth+1)
	case TaskInlineFunction:
		var childProfile *Profile
		if entry != nil {
			childProfile = entry.Function
		}
		return e.runNode(ctx, taskPath, task.InlineFunction, childProfile, input, ec, retryToken, emit, depth+1)
	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (e *Engine) runVectorCompletion(ctx context.Context, taskPath []int, spec *VectorCompletionSpec, entry *ProfileEntry, input interface{}, tasksOut []interface{}, ec *execCtx, retryToken *RetryToken, emit func(Chunk)) (interface{}, error) {
	params := expr.Params{Input: input, Tasks: tasksOut}

	messages, err := expr.EvaluateWith(e.Sandbox, spec.Messages, params)
	if err != nil {
		return nil, err
	}
	tools, err := expr.EvaluateWith(e.Sandbox, spec.Tools, params)
	if err != nil {
		return nil, err
	}
	responses, err := expr.EvaluateWith(e.Sandbox, spec.Responses, params)
	if err != nil {
		return nil, err
	}

	var weights ensemble.Profile
	if entry != nil && entry.VectorCompletion != nil {
		weights = *entry.VectorCompletion
	}

	var vcToken *ensemble.RetryToken
	if retryToken != nil {
		vcToken, err = retryToken.ForPath(taskPath)
		if err != nil {
			return nil, err
		}
	}

	req := ensemble.VectorRequest{
		Ensemble:   spec.Ensemble,
		Profile:    weights,
		Messages:   messages,
		Options:    responses,
		Tools:      tools,
		RetryToken: vcToken,
	}
	result, err := e.VectorEngine.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	scores := make([]interface{}, len(result.Scores))
	for i, s := range result.Scores {
		f, _ := s.Float64()
		scores[i] = f
	}

	for i := range result.Votes {
		v := result.Votes[i]
		ec.addLeaf(taskPath, i, v)
		emit(Chunk{TaskPath: append(append([]int(nil), taskPath...), i), Vote: &v})
	}
	ec.addUsage(result.Usage)

	return scores, nil
}

// reasoningSummary runs one extra non-fatal chat completion producing a
// human-readable explanation of the assembled output (spec §4.G).
func (e *Engine) reasoningSummary(ctx context.Context, models []string, output interface{}) (string, error) {
	req := ensemble.UpstreamRequest{
		Messages: []ensemble.ChatMessage{
			{Role: "user", Content: fmt.Sprintf("Explain this result in plain language: %v", output)},
		},
	}
	result, err := e.Dispatcher.Dispatch(ctx, models, req)
	if err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("reasoning summary: empty response")
	}
	return result.Choices[0].Message.Content, nil
}
