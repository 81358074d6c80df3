package docstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessEqual        Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterEqual     Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

var operators = map[Operator]bool{
	OpEqual: true, OpNotEqual: true,
	OpLess: true, OpLessEqual: true, OpGreater: true, OpGreaterEqual: true,
	OpIn: true, OpNotIn: true,
	OpArrayContains: true, OpArrayContainsAny: true,
}

// ParseOperator accepts the canonical spelling of each operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	if !operators[op] {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, s)
	}
	return op, nil
}

// takesArray reports whether the operand must be a list.
func (o Operator) takesArray() bool {
	return o == OpIn || o == OpNotIn || o == OpArrayContainsAny
}

// Filter is one (field, operator, value) condition.
type Filter struct {
	Path  FieldPath
	Op    Operator
	Value any
}

// NewFilter validates a filter triple. List operands are normalised to
// []any and capped at MaxInValues.
func NewFilter(field string, op Operator, value any) (Filter, error) {
	path, err := ParsePath(field)
	if err != nil {
		return Filter{}, err
	}
	if !operators[op] {
		return Filter{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
	}
	if op.takesArray() {
		list, ok := toSlice(value)
		if !ok {
			return Filter{}, fmt.Errorf("%w: operator %s on %s requires a list value", ErrInvalidFilter, op, field)
		}
		if len(list) == 0 {
			return Filter{}, fmt.Errorf("%w: operator %s on %s requires a non-empty list", ErrInvalidFilter, op, field)
		}
		if len(list) > MaxInValues {
			return Filter{}, fmt.Errorf("%w: operator %s on %s accepts at most %d values", ErrInvalidFilter, op, field, MaxInValues)
		}
		value = list
	}
	return Filter{Path: path, Op: op, Value: value}, nil
}

// Where is NewFilter for statically known filters; it panics on error.
func Where(field string, op Operator, value any) Filter {
	f, err := NewFilter(field, op, value)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Path, f.Op, f.Value)
}

// Match reports whether data satisfies every filter.
func Match(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(data) {
			return false
		}
	}
	return true
}

// Matches evaluates the filter against a document. A missing field never
// matches, including for != and not-in.
func (f Filter) Matches(data map[string]any) bool {
	v, ok := f.Path.Lookup(data)
	if !ok {
		return false
	}
	return Evaluate(v, f.Op, f.Value)
}

// Evaluate applies op to a field value and an operand.
func Evaluate(field any, op Operator, operand any) bool {
	switch op {
	case OpEqual:
		return equal(field, operand)
	case OpNotEqual:
		return field != nil && !equal(field, operand)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		c, ok := compare(field, operand)
		if !ok {
			return false
		}
		switch op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		list, ok := toSlice(operand)
		return ok && containsValue(list, field)
	case OpNotIn:
		list, ok := toSlice(operand)
		return ok && field != nil && !containsValue(list, field)
	case OpArrayContains:
		arr, ok := toSlice(field)
		return ok && containsValue(arr, operand)
	case OpArrayContainsAny:
		arr, ok := toSlice(field)
		if !ok {
			return false
		}
		list, ok := toSlice(operand)
		if !ok {
			return false
		}
		for _, want := range list {
			if containsValue(arr, want) {
				return true
			}
		}
		return false
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	as, aok := toSlice(a)
	bs, bok := toSlice(b)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values of the same kind: numbers (any width), strings
// or timestamps. Values of different kinds are not comparable, so range
// filters never match across kinds.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := AsTime(b)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	if bt, ok := b.(time.Time); ok {
		at, ok := AsTime(a)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case nil, bool, string, time.Time:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toSlice converts any slice or array (except []byte) to []any.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case nil, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
