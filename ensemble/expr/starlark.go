package expr

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

func evalStarlark(src string, params Params, stepBudget int) (interface{}, error) {
	input, err := goToStarlark(params.Input)
	if err != nil {
		return nil, wrapf(KindConvert, "starlark input: %v", err)
	}
	tasks := make([]starlark.Value, len(params.Tasks))
	for i, t := range params.Tasks {
		v, err := goToStarlark(t)
		if err != nil {
			return nil, wrapf(KindConvert, "starlark tasks[%d]: %v", i, err)
		}
		tasks[i] = v
	}
	predeclared := starlark.StringDict{
		"input": input,
		"tasks": starlark.NewList(tasks),
	}
	if params.HasMap {
		mapVal, err := goToStarlark(params.Map)
		if err != nil {
			return nil, wrapf(KindConvert, "starlark map: %v", err)
		}
		predeclared["map"] = mapVal
	}

	thread := &starlark.Thread{Name: "expr"}
	thread.SetMaxExecutionSteps(uint64(stepBudget))

	v, err := starlark.Eval(thread, "<expr>", src, predeclared)
	if err != nil {
		if thread.Steps >= uint64(stepBudget) {
			return nil, wrapf(KindBudget, "starlark: step budget of %d exceeded", stepBudget)
		}
		return nil, wrapf(KindEval, "starlark: %v", err)
	}
	return starlarkToGo(v)
}

func goToStarlark(v interface{}) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case float64:
		return starlark.Float(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case []interface{}:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := goToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(x))
		for k, e := range x {
			sv, err := goToStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func starlarkToGo(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return float64(i), nil
		}
		f := x.Float()
		return float64(f), nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		out := make([]interface{}, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			elem, err := starlarkToGo(x.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]interface{}, 0, len(x))
		for _, e := range x {
			elem, err := starlarkToGo(e)
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, x.Len())
		for _, item := range x.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("starlark dict key is not a string: %v", item[0])
			}
			val, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark value type %T", v)
	}
}

// starlarkDependencies walks the parsed expression's syntax tree looking
// for tasks[<int literal>] subscripts. Any construct the walk doesn't
// recognize (slicing, comprehensions, conditional expressions, ...)
// yields unknown=true so the caller falls back to waiting on every task
// produced so far, rather than risking an under-approximation.
func starlarkDependencies(src string) (indices []int, unknown bool) {
	parsed, err := syntax.ParseExpr("<expr>", src, 0)
	if err != nil {
		return nil, true
	}
	seen := make(map[int]struct{})
	if !walkStarlarkExpr(parsed, seen) {
		return nil, true
	}
	indices = make([]int, 0, len(seen))
	for n := range seen {
		indices = append(indices, n)
	}
	return indices, false
}

func walkStarlarkExpr(n syntax.Expr, seen map[int]struct{}) bool {
	switch x := n.(type) {
	case nil:
		return true
	case *syntax.Ident:
		// a bare tasks reference (e.g. len(tasks)) is not pinned to an index.
		return x.Name != "tasks"
	case *syntax.Literal:
		return true
	case *syntax.IndexExpr:
		if id, ok := x.X.(*syntax.Ident); ok && id.Name == "tasks" {
			if lit, ok := x.Y.(*syntax.Literal); ok {
				if n, ok := lit.Value.(int64); ok {
					seen[int(n)] = struct{}{}
					return true
				}
			}
			return false
		}
		return walkStarlarkExpr(x.X, seen) && walkStarlarkExpr(x.Y, seen)
	case *syntax.DotExpr:
		return walkStarlarkExpr(x.X, seen)
	case *syntax.BinaryExpr:
		return walkStarlarkExpr(x.X, seen) && walkStarlarkExpr(x.Y, seen)
	case *syntax.UnaryExpr:
		return walkStarlarkExpr(x.X, seen)
	case *syntax.ParenExpr:
		return walkStarlarkExpr(x.X, seen)
	case *syntax.CallExpr:
		if !walkStarlarkExpr(x.Fn, seen) {
			return false
		}
		for _, a := range x.Args {
			if !walkStarlarkExpr(a, seen) {
				return false
			}
		}
		return true
	case *syntax.ListExpr:
		for _, e := range x.List {
			if !walkStarlarkExpr(e, seen) {
				return false
			}
		}
		return true
	case *syntax.TupleExpr:
		for _, e := range x.List {
			if !walkStarlarkExpr(e, seen) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
