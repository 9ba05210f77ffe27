package expr

import "fmt"

// Sandbox evaluates Expressions against Params with a bounded step
// budget: neither dialect may run an unbounded loop inside a request.
type Sandbox struct {
	StepBudget int
}

// NewSandbox returns a Sandbox with the given per-evaluation step
// budget, defaulting to 100000 when budget is non-positive.
func NewSandbox(budget int) *Sandbox {
	if budget <= 0 {
		budget = 100_000
	}
	return &Sandbox{StepBudget: budget}
}

// Evaluate dispatches to the expression's dialect and returns a
// JSON-shaped result.
func (s *Sandbox) Evaluate(e Expression, params Params) (interface{}, error) {
	lang, src, ok := e.Source()
	if !ok {
		return nil, wrapf(KindParse, "empty expression")
	}
	switch lang {
	case "jmespath":
		return evalJMESPath(src, params)
	case "starlark":
		return evalStarlark(src, params, s.StepBudget)
	default:
		return nil, fmt.Errorf("expr: unknown dialect %q", lang)
	}
}

// EvaluateWith resolves a WithExpression[T]: a literal passes through
// unchanged, an expression evaluates and its JSON-shaped result is
// decoded into T, and an entirely unset WithExpression (the JSON field
// was simply absent) resolves to the zero value of T rather than an
// error — the same "omitted means default" convention the rest of this
// module's JSON decoding follows.
func EvaluateWith[T any](s *Sandbox, w WithExpression[T], params Params) (T, error) {
	var zero T
	if w.Literal != nil {
		return *w.Literal, nil
	}
	if w.Expression == nil {
		return zero, nil
	}
	result, err := s.Evaluate(*w.Expression, params)
	if err != nil {
		return zero, err
	}
	return DecodeResult[T](result)
}

// Dependencies returns the task indices (into Params.Tasks, source
// order) that evaluating e may read, or unknown=true when static
// analysis can't pin them down — callers must then conservatively treat
// the task as depending on every task produced so far.
func (e Expression) Dependencies() (indices []int, unknown bool) {
	lang, src, ok := e.Source()
	if !ok {
		return nil, false
	}
	switch lang {
	case "jmespath":
		return jmespathDependencies(src)
	case "starlark":
		return starlarkDependencies(src)
	default:
		return nil, true
	}
}
