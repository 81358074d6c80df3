package usecase

import (
	"errors"
	"fmt"
	"time"

	"clubnotify/internal/segment/domain"
	"clubnotify/pkg/docstore"
)

// ValidationError collects every rejected filter of a builder.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	return "invalid segment: " + errors.Join(e.Errs...).Error()
}

func (e *ValidationError) Unwrap() []error { return e.Errs }

// Builder accumulates filters for a segment. Filters are kept in the order
// they were added and are never deduplicated. Invalid filters are recorded
// and reported when the builder is executed or saved.
type Builder struct {
	logic   domain.Logic
	filters []docstore.Filter
	defs    []domain.FilterDef
	errs    []error
	now     func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{logic: domain.LogicAND, now: time.Now}
}

// FromDefinitions rebuilds a builder from persisted filters.
func FromDefinitions(logic domain.Logic, defs []domain.FilterDef) *Builder {
	b := NewBuilder().WithLogic(logic)
	for _, d := range defs {
		op, err := docstore.ParseOperator(d.Operator)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("filter %s: %w", d.Field, err))
			continue
		}
		b.add(d.Field, op, d.Value, d.Description)
	}
	return b
}

func (b *Builder) AddFilter(field string, op docstore.Operator, value any) *Builder {
	return b.add(field, op, value, "")
}

func (b *Builder) add(field string, op docstore.Operator, value any, description string) *Builder {
	f, err := docstore.NewFilter(field, op, value)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("filter %d: %w", len(b.filters)+len(b.errs), err))
		return b
	}
	b.filters = append(b.filters, f)
	b.defs = append(b.defs, domain.FilterDef{Field: f.Path.String(), Operator: string(op), Value: f.Value, Description: description})
	return b
}

func (b *Builder) WithLogic(logic domain.Logic) *Builder {
	switch logic {
	case domain.LogicAND, domain.LogicOR:
		b.logic = logic
	default:
		b.errs = append(b.errs, fmt.Errorf("unknown logic %q", logic))
	}
	return b
}

func (b *Builder) Logic() domain.Logic { return b.logic }

func (b *Builder) Filters() []docstore.Filter {
	return append([]docstore.Filter(nil), b.filters...)
}

func (b *Builder) Definitions() []domain.FilterDef {
	return append([]domain.FilterDef(nil), b.defs...)
}

// Err returns a *ValidationError when any filter was rejected.
func (b *Builder) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return &ValidationError{Errs: append([]error(nil), b.errs...)}
}

func (b *Builder) WhereRole(role string) *Builder {
	return b.add("role", docstore.OpEqual, role, "role is "+role)
}

func (b *Builder) WhereClub(clubID string) *Builder {
	return b.add("clubId", docstore.OpEqual, clubID, "member of club "+clubID)
}

func (b *Builder) WhereBookingCount(op docstore.Operator, n int) *Builder {
	return b.add("bookingCount", op, int64(n), fmt.Sprintf("booking count %s %d", op, n))
}

// WhereLastActivityWithin keeps users active in the last days days. The
// cutoff is fixed when the filter is added.
func (b *Builder) WhereLastActivityWithin(days int) *Builder {
	cutoff := b.now().AddDate(0, 0, -days)
	return b.add("lastActivityAt", docstore.OpGreaterEqual, cutoff, fmt.Sprintf("active in the last %d days", days))
}

func (b *Builder) WhereInactiveFor(days int) *Builder {
	cutoff := b.now().AddDate(0, 0, -days)
	return b.add("lastActivityAt", docstore.OpLess, cutoff, fmt.Sprintf("inactive for %d days", days))
}

func (b *Builder) WhereNotificationPreference(channel string, enabled bool) *Builder {
	return b.add("notificationPreferences."+channel, docstore.OpEqual, enabled, fmt.Sprintf("%s notifications %t", channel, enabled))
}

func (b *Builder) WhereTagsAny(tags ...string) *Builder {
	return b.add("tags", docstore.OpArrayContainsAny, tags, "tagged with any of the given tags")
}

func (b *Builder) WhereMembershipStatus(statuses ...string) *Builder {
	if len(statuses) == 1 {
		return b.add("membershipStatus", docstore.OpEqual, statuses[0], "membership "+statuses[0])
	}
	return b.add("membershipStatus", docstore.OpIn, statuses, "membership in given statuses")
}
