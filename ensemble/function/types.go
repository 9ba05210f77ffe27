// Package function implements Functions: composable scoring pipelines
// that transform structured input into a scalar or vector score by
// fanning out vector-completion leaves and nested Functions, then
// combining their outputs with an expression (original_source
// objectiveai-rs/src/functions/mod.rs).
package function

import (
	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble/expr"
)

// Kind is whether a Function node produces a single value in [0,1] or a
// length-K simplex.
type Kind string

const (
	KindScalar Kind = "scalar"
	KindVector Kind = "vector"
)

// Remote is where a Function or Profile is hosted, when referenced
// rather than defined inline (original_source functions/remote.rs).
type Remote string

const (
	RemoteGithub     Remote = "github"
	RemoteFilesystem Remote = "filesystem"
)

// Ref identifies a remotely-hosted Function: a GitHub repository or a
// filesystem path, at a commit (or "latest" when Commit is empty).
// (remote, owner, repository, commit?) per spec §6.
type Ref struct {
	Remote     Remote `json:"remote"`
	Owner      string `json:"owner"`
	Repository string `json:"repository"`
	Commit     string `json:"commit,omitempty"`
}

// TaskKind distinguishes the three task shapes a Function node's task
// list can hold (spec §3: "a nested-function reference, an inline
// nested function, or a vector-completion spec").
type TaskKind string

const (
	TaskVectorCompletion TaskKind = "vector_completion"
	TaskFunctionRef      TaskKind = "function_ref"
	TaskInlineFunction   TaskKind = "inline_function"
)

// VectorCompletionSpec is a task's vector-completion leaf definition:
// everything the vector-completion engine (ensemble.VectorEngine) needs,
// expressed as expressions evaluated against the node's Params.
type VectorCompletionSpec struct {
	Ensemble  ensemble.EnsembleMember
	Messages  expr.WithExpression[[]ensemble.ChatMessage]
	Tools     expr.WithExpression[[]ensemble.ToolSpec]
	Responses expr.WithExpression[[]ensemble.ResponseOption]
}

// Task is one element of a Function node's task list. When InputMap is
// set, it is evaluated to a length-M array and this task fans out into M
// child instances, each with `map` bound to one element (spec §3/§4.F).
type Task struct {
	Kind     TaskKind
	InputMap *expr.Expression

	VectorCompletion *VectorCompletionSpec

	FunctionRef    *Ref
	InlineFunction *Function
}

// Function is one node of the Function tree (spec §3).
type Function struct {
	Kind Kind

	// VectorLength is the simplex dimension K for a vector function;
	// unused for scalar functions.
	VectorLength int

	Tasks  []Task
	Output expr.Expression
}

// Profile is a parallel tree of weight vectors, one per
// vector-completion leaf, shaped identically to the Function's task tree
// (spec §3 "Profile (function)"). Entries line up positionally with
// Function.Tasks.
type Profile struct {
	Entries []ProfileEntry
}

// ProfileEntry supplies the weights for one Task. Exactly one of
// VectorCompletion / Function is populated, matching the sibling Task's
// kind. An input-mapped task reuses the same entry for every fanned-out
// child instance.
type ProfileEntry struct {
	VectorCompletion *ensemble.Profile
	Function         *Profile
}

// Validate checks structural requirements that depend on context: a
// remote Function reference used from a Profile must carry a commit
// (spec §6); inline profiles and ad-hoc references do not. strict is
// true when validating a Profile-owned reference.
func (r Ref) Validate(strict bool) error {
	if r.Owner == "" || r.Repository == "" {
		return wrapf("function reference missing owner/repository")
	}
	if strict && r.Commit == "" {
		return wrapf("function reference from a profile must carry a commit")
	}
	return nil
}
