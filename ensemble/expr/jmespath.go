package expr

import (
	"regexp"
	"strconv"

	"github.com/jmespath/go-jmespath"
)

func evalJMESPath(src string, params Params) (interface{}, error) {
	data := map[string]interface{}{
		"input": params.Input,
		"tasks": params.Tasks,
	}
	if params.HasMap {
		data["map"] = params.Map
	}
	result, err := jmespath.Search(src, data)
	if err != nil {
		return nil, wrapf(KindEval, "jmespath: %v", err)
	}
	return result, nil
}

// tasksIndexPattern matches literal tasks[<digits>] subscripts.
// go-jmespath's compiled ASTNode does not expose its node-type/children
// fields publicly, so true tree-walk dependency discovery isn't
// available through the library's API; this falls back to a textual
// scan over the query string instead.
var tasksIndexPattern = regexp.MustCompile(`tasks\[(\d+)\]`)
var tasksWordPattern = regexp.MustCompile(`\btasks\b`)

func jmespathDependencies(src string) (indices []int, unknown bool) {
	matches := tasksIndexPattern.FindAllStringSubmatch(src, -1)
	if len(tasksWordPattern.FindAllStringIndex(src, -1)) > len(matches) {
		// references tasks at least once not through a literal index we
		// can pin down (e.g. tasks[*] or a computed index) — caller
		// must wait for every task produced so far.
		return nil, true
	}
	if matches == nil {
		return nil, false
	}
	seen := make(map[int]struct{}, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, true
		}
		seen[n] = struct{}{}
	}
	indices = make([]int, 0, len(seen))
	for n := range seen {
		indices = append(indices, n)
	}
	return indices, false
}
