package expr

import "encoding/json"

// NormalizeInput round-trips v through JSON so it only ever contains the
// shapes both dialects understand (nil, bool, float64, string,
// []interface{}, map[string]interface{}). Callers that already hold a
// JSON-decoded interface{} can skip this; it exists for Go-typed values
// (structs, decimal.Decimal, etc.) crossing into the sandbox.
func NormalizeInput(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, wrapf(KindConvert, "normalize input: %v", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, wrapf(KindConvert, "normalize input: %v", err)
	}
	return generic, nil
}

// DecodeResult round-trips an evaluation result (nil, bool, float64,
// string, []interface{}, map[string]interface{}) through JSON into a
// concrete Go type T.
func DecodeResult[T any](v interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, wrapf(KindConvert, "decode result: %v", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, wrapf(KindConvert, "decode result: %v", err)
	}
	return out, nil
}
