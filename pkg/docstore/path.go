package docstore

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// FieldPath is a validated dotted path into a document, such as
// "notificationPreferences.push". The zero value is invalid.
type FieldPath struct {
	segments []string
}

// ParsePath validates a dotted path. Empty segments and whitespace are
// rejected so malformed segment definitions fail when they are built.
func ParsePath(raw string) (FieldPath, error) {
	if raw == "" {
		return FieldPath{}, fmt.Errorf("%w: empty field path", ErrInvalidFilter)
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return FieldPath{}, fmt.Errorf("%w: field path %q has an empty segment", ErrInvalidFilter, raw)
		}
		if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
			return FieldPath{}, fmt.Errorf("%w: field path %q contains whitespace", ErrInvalidFilter, raw)
		}
	}
	return FieldPath{segments: parts}, nil
}

// MustPath is ParsePath for constant paths.
func MustPath(raw string) FieldPath {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p FieldPath) String() string { return strings.Join(p.segments, ".") }

func (p FieldPath) IsZero() bool { return len(p.segments) == 0 }

// Segments returns a copy of the path components.
func (p FieldPath) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Lookup walks the path through nested maps. The second result is false
// when any segment is missing or a non-map value is hit midway.
func (p FieldPath) Lookup(data map[string]any) (any, bool) {
	if len(p.segments) == 0 {
		return nil, false
	}
	var cur any = data
	for _, seg := range p.segments {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		c, ok := m[key]
		return c, ok
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	c := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !c.IsValid() {
		return nil, false
	}
	return c.Interface(), true
}
