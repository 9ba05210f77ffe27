package expr

import (
	"encoding/json"
	"fmt"
)

// Expression is either a JMESPath query ({"$jmespath": "..."}) or a
// Starlark expression ({"$starlark": "..."}), the two dialects the
// function-compilation engine supports (original_source
// functions/expression/mod.rs).
type Expression struct {
	JMESPath *string
	Starlark *string
}

type expressionWire struct {
	JMESPath *string `json:"$jmespath,omitempty"`
	Starlark *string `json:"$starlark,omitempty"`
}

// UnmarshalJSON requires exactly one of $jmespath/$starlark. It
// deliberately errors rather than silently accepting an empty object, so
// WithExpression can tell "this is an expression" from "this is a
// literal" by trying Expression first and falling back on any error.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var wire expressionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.JMESPath == nil && wire.Starlark == nil {
		return fmt.Errorf("expression: neither $jmespath nor $starlark present")
	}
	if wire.JMESPath != nil && wire.Starlark != nil {
		return fmt.Errorf("expression: both $jmespath and $starlark present")
	}
	e.JMESPath = wire.JMESPath
	e.Starlark = wire.Starlark
	return nil
}

func (e Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(expressionWire{JMESPath: e.JMESPath, Starlark: e.Starlark})
}

// Source returns the expression's dialect tag and source text.
func (e Expression) Source() (lang, src string, ok bool) {
	switch {
	case e.JMESPath != nil:
		return "jmespath", *e.JMESPath, true
	case e.Starlark != nil:
		return "starlark", *e.Starlark, true
	default:
		return "", "", false
	}
}

// WithExpression is either a literal T decoded straight from JSON, or an
// Expression to evaluate against Params to produce one. Most fields of a
// Function definition (messages, tools, responses, profile weights, the
// output value) are WithExpression so a caller can supply either a fixed
// value or a dynamic one.
type WithExpression[T any] struct {
	Literal    *T
	Expression *Expression
}

func (w *WithExpression[T]) UnmarshalJSON(data []byte) error {
	var asExpr Expression
	if err := json.Unmarshal(data, &asExpr); err == nil {
		w.Expression = &asExpr
		w.Literal = nil
		return nil
	}
	var lit T
	if err := json.Unmarshal(data, &lit); err != nil {
		return fmt.Errorf("with-expression: neither an expression object nor a literal %T: %w", lit, err)
	}
	w.Literal = &lit
	w.Expression = nil
	return nil
}

func (w WithExpression[T]) MarshalJSON() ([]byte, error) {
	if w.Expression != nil {
		return json.Marshal(w.Expression)
	}
	return json.Marshal(w.Literal)
}

// IsExpression reports whether w wraps a dynamic expression rather than
// a literal value.
func (w WithExpression[T]) IsExpression() bool { return w.Expression != nil }
