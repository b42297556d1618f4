package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// rangeGuard caps how many values a single range dimension may expand to.
const rangeGuard = 1_000_000

// ParamSpace is a declarative grid definition: an ordered mapping from
// parameter name to dimension. A dimension is one of
//
//   - a non-empty list of scalars (null entries are dropped),
//   - an inclusive numeric range {"start": s, "end": e, "step": d} with d > 0,
//   - a single scalar (number, string, bool), treated as a one-value list.
//
// Key order matters: tasks are generated in document order of the keys, with
// the last key varying fastest. Go maps do not preserve JSON object order, so
// ParamSpace keeps its own ordered pair list and round-trips the original
// document through MarshalJSON/UnmarshalJSON by value.
type ParamSpace struct {
	pairs []paramPair
}

type paramPair struct {
	key   string
	value any
}

// Len returns the number of dimensions.
func (p ParamSpace) Len() int { return len(p.pairs) }

// Add appends a dimension. Mostly useful for building spaces in code; API
// clients provide them as JSON.
func (p *ParamSpace) Add(key string, value any) {
	p.pairs = append(p.pairs, paramPair{key: key, value: value})
}

// UnmarshalJSON decodes a JSON object preserving key order, including inside
// nested objects such as range dimensions. Numbers decode as json.Number so
// integer parameters survive re-encoding unchanged.
func (p *ParamSpace) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("paramSpace must be a JSON object")
	}

	pairs, err := decodeOrderedPairs(dec)
	if err != nil {
		return err
	}
	p.pairs = pairs
	return nil
}

// decodeOrderedPairs consumes key/value pairs up to and including the closing
// brace. The opening brace has already been read.
func decodeOrderedPairs(dec *json.Decoder) ([]paramPair, error) {
	var pairs []paramPair
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)
		value, err := decodeOrderedValue(dec)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, paramPair{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return nil, err
	}
	return pairs, nil
}

// decodeOrderedValue decodes one JSON value. Objects become nested ParamSpace
// values so their key order survives re-encoding.
func decodeOrderedValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		pairs, err := decodeOrderedPairs(dec)
		if err != nil {
			return nil, err
		}
		return ParamSpace{pairs: pairs}, nil
	case '[':
		values := []any{}
		for dec.More() {
			value, err := decodeOrderedValue(dec)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
		if _, err := dec.Token(); err != nil { // closing bracket
			return nil, err
		}
		return values, nil
	default:
		return nil, fmt.Errorf("unexpected token %v in paramSpace", delim)
	}
}

// MarshalJSON re-emits the object with its original key order.
func (p ParamSpace) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pair := range p.pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pair.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(pair.value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// toMap flattens the ordered pairs for lookups that do not care about order.
func (p ParamSpace) toMap() map[string]any {
	m := make(map[string]any, len(p.pairs))
	for _, pair := range p.pairs {
		m[pair.key] = pair.value
	}
	return m
}

// Dimension is a normalized parameter dimension: a key plus its enumerated
// values in dispatch order.
type Dimension struct {
	Key    string
	Values []any
}

// NormalizeParamSpace converts a declarative space into enumerated value
// lists and the Cartesian product estimate. Pure and stateless.
//
// The limit is the configured maximum accepted product; during accumulation
// the running product is additionally guarded at max(limit, 500)*4 to bound
// the arithmetic itself. The final estimate-vs-limit check is the caller's
// job (create applies it), so a normalizer user can still inspect oversized
// estimates.
func NormalizeParamSpace(space ParamSpace, limit int) ([]Dimension, int, error) {
	if space.Len() == 0 {
		return nil, 0, paramInvalid("paramSpace must be a non-empty object", nil)
	}
	dims := make([]Dimension, 0, space.Len())
	estimate := 1
	for _, pair := range space.pairs {
		values, err := normalizeDimension(pair.key, pair.value)
		if err != nil {
			return nil, 0, err
		}
		estimate, err = safeMultiply(estimate, len(values), limit)
		if err != nil {
			return nil, 0, err
		}
		dims = append(dims, Dimension{Key: pair.key, Values: values})
	}
	return dims, estimate, nil
}

func normalizeDimension(key string, raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		values := make([]any, 0, len(v))
		for _, entry := range v {
			if entry != nil {
				values = append(values, entry)
			}
		}
		if len(values) == 0 {
			return nil, paramInvalid(fmt.Sprintf("paramSpace.%s requires at least one value", key), nil)
		}
		return values, nil
	case map[string]any:
		if hasRangeKeys(v) {
			return expandRange(key, v)
		}
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s is unsupported", key), nil)
	case ParamSpace:
		m := v.toMap()
		if hasRangeKeys(m) {
			return expandRange(key, m)
		}
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s is unsupported", key), nil)
	case json.Number, float64, int, int64, string, bool:
		return []any{v}, nil
	default:
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s is unsupported", key), nil)
	}
}

func hasRangeKeys(m map[string]any) bool {
	_, okStart := m["start"]
	_, okEnd := m["end"]
	_, okStep := m["step"]
	return okStart && okEnd && okStep
}

// expandRange enumerates start, start±step, ... toward end, inclusive on
// both endpoints. The accumulator is rounded to 12 decimal places each step
// to tame float drift, so fractional steps still reach the endpoint exactly.
func expandRange(key string, raw map[string]any) ([]any, error) {
	start, okStart := toFloat(raw["start"])
	end, okEnd := toFloat(raw["end"])
	step, okStep := toFloat(raw["step"])
	if !okStart || !okEnd || !okStep {
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s range requires numeric start/end/step", key), nil)
	}
	if step <= 0 {
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s step must be > 0", key), nil)
	}

	ascending := end >= start
	values := make([]any, 0, 8)
	current := round12(start)
	iterations := 0
	for iterations < rangeGuard {
		if ascending && current > end {
			break
		}
		if !ascending && current < end {
			break
		}
		values = append(values, current)
		if ascending {
			current = round12(current + step)
		} else {
			current = round12(current - step)
		}
		iterations++
	}
	if iterations >= rangeGuard {
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s range produced too many values", key), nil)
	}
	if len(values) == 0 {
		return nil, paramInvalid(fmt.Sprintf("paramSpace.%s range produced no values", key), nil)
	}
	return values, nil
}

// safeMultiply accumulates the Cartesian product while guarding against
// runaway grids. The per-multiply window is intentionally wider than the
// configured limit so that the final estimate check can report the precise
// overshoot.
func safeMultiply(current, factor, limit int) (int, error) {
	if factor <= 0 {
		return 0, paramInvalid("param space dimension must contain values", map[string]any{"factor": factor})
	}
	window := limit
	if window < DefaultParamSpaceMax {
		window = DefaultParamSpaceMax
	}
	product := current * factor
	if product > window*4 {
		return 0, paramInvalid("param space exceeds safe processing window", map[string]any{
			"estimate": product,
			"limit":    limit,
		})
	}
	return product, nil
}

func round12(v float64) float64 {
	return math.Round(v*1e12) / 1e12
}

// toFloat coerces the scalar representations a decoded JSON document may
// carry into float64.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
