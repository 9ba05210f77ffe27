package function

import "github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble/expr"

// taskDependencies returns the sibling-task indices (into the owning
// node's Tasks, source order) that evaluating task's own expressions may
// read, unioned across its InputMap and (for a vector-completion leaf)
// its Messages/Tools/Responses expressions. unknown=true means the
// executor must conservatively wait for every earlier sibling task to
// complete before starting this one (spec §4.F: "Dependencies are
// discovered by walking the expression AST").
func taskDependencies(t Task) (indices []int, unknown bool) {
	seen := make(map[int]struct{})
	anyUnknown := false

	add := func(e *expr.Expression) {
		if e == nil {
			return
		}
		idx, u := e.Dependencies()
		if u {
			anyUnknown = true
			return
		}
		for _, i := range idx {
			seen[i] = struct{}{}
		}
	}

	add(t.InputMap)
	if t.Kind == TaskVectorCompletion && t.VectorCompletion != nil {
		vc := t.VectorCompletion
		if vc.Messages.IsExpression() {
			add(vc.Messages.Expression)
		}
		if vc.Tools.IsExpression() {
			add(vc.Tools.Expression)
		}
		if vc.Responses.IsExpression() {
			add(vc.Responses.Expression)
		}
	}

	if anyUnknown {
		return nil, true
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	return out, false
}

// outputDependencies returns the task indices fn.Output may read.
func outputDependencies(fn *Function) (indices []int, unknown bool) {
	return fn.Output.Dependencies()
}
