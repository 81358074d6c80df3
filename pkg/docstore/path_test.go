package docstore

import "testing"

func TestFieldPathLookup(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1}},
		"s": map[string]string{"k": "v"},
		"x": 5,
	}
	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"a.b.c", 1, true},
		{"s.k", "v", true},
		{"x", 5, true},
		{"x.y", nil, false},
		{"a.missing", nil, false},
		{"nope", nil, false},
	}
	for _, tt := range tests {
		got, ok := MustPath(tt.path).Lookup(doc)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("Lookup(%s) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFieldPathString(t *testing.T) {
	p := MustPath("notificationPreferences.push")
	if p.String() != "notificationPreferences.push" {
		t.Errorf("String() = %q", p.String())
	}
	segs := p.Segments()
	segs[0] = "changed"
	if p.Segments()[0] != "notificationPreferences" {
		t.Error("Segments must return a copy")
	}
}
