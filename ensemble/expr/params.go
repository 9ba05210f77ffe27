package expr

// Params is the sandbox context available to every expression: the
// function's input, the accumulated results of earlier tasks in source
// order (the `tasks` binding), and — inside a mapped expansion — the
// current map element (the `map` binding). Values must already be
// JSON-shaped (nil, bool, float64, string, []interface{},
// map[string]interface{}) since both dialects evaluate against that
// shape.
type Params struct {
	Input  interface{}
	Tasks  []interface{}
	Map    interface{}
	HasMap bool
}

// WithMap returns a copy of p with the map binding set, for evaluating
// one child of an input-map expansion.
func (p Params) WithMap(v interface{}) Params {
	p.Map = v
	p.HasMap = true
	return p
}
