package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"clubnotify/pkg/docstore"
)

// Collection holds saved segment definitions.
const Collection = "userSegments"

var ErrSegmentNotFound = errors.New("segment not found")

// Logic combines every filter of a segment, not individual pairs.
type Logic string

const (
	LogicAND Logic = "AND"
	LogicOR  Logic = "OR"
)

func ParseLogic(s string) (Logic, error) {
	switch l := Logic(strings.ToUpper(strings.TrimSpace(s))); l {
	case LogicAND, LogicOR:
		return l, nil
	case "":
		return LogicAND, nil
	}
	return "", fmt.Errorf("unknown segment logic %q", s)
}

// FilterDef is the persisted form of one filter.
type FilterDef struct {
	Field       string `json:"field"`
	Operator    string `json:"operator"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
}

// Segment is a named, persisted filter set. Segments are only changed by
// re-saving and are never deleted automatically.
type Segment struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Logic         Logic       `json:"logic"`
	Filters       []FilterDef `json:"filters"`
	EstimatedSize int         `json:"estimated_size"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (s *Segment) ToDocument() map[string]any {
	filters := make([]any, len(s.Filters))
	for i, f := range s.Filters {
		m := map[string]any{"field": f.Field, "operator": f.Operator, "value": f.Value}
		if f.Description != "" {
			m["description"] = f.Description
		}
		filters[i] = m
	}
	return map[string]any{
		"name":          s.Name,
		"description":   s.Description,
		"logic":         string(s.Logic),
		"filters":       filters,
		"estimatedSize": int64(s.EstimatedSize),
		"createdAt":     s.CreatedAt,
		"updatedAt":     s.UpdatedAt,
	}
}

func FromDocument(d docstore.Document) *Segment {
	s := &Segment{
		ID:            d.ID,
		Name:          docstore.AsString(d.Data["name"]),
		Description:   docstore.AsString(d.Data["description"]),
		Logic:         Logic(docstore.AsString(d.Data["logic"])),
		EstimatedSize: int(docstore.AsInt(d.Data["estimatedSize"])),
	}
	if s.Logic == "" {
		s.Logic = LogicAND
	}
	if t := docstore.TimeField(d.Data, "createdAt"); t != nil {
		s.CreatedAt = *t
	}
	if t := docstore.TimeField(d.Data, "updatedAt"); t != nil {
		s.UpdatedAt = *t
	}
	if raw, ok := d.Data["filters"].([]any); ok {
		for _, item := range raw {
			m := docstore.AsMap(item)
			if m == nil {
				continue
			}
			s.Filters = append(s.Filters, FilterDef{
				Field:       docstore.AsString(m["field"]),
				Operator:    docstore.AsString(m["operator"]),
				Value:       m["value"],
				Description: docstore.AsString(m["description"]),
			})
		}
	}
	return s
}
