package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"clubnotify/internal/segment/domain"
	"clubnotify/internal/segment/repository"
	userdomain "clubnotify/internal/user/domain"
	"clubnotify/pkg/docstore"
	"clubnotify/pkg/metrics"
)

// SegmentQueryError wraps a store failure while evaluating a segment. It is
// not retried; callers may retry the whole evaluation.
type SegmentQueryError struct {
	Filter string
	Err    error
}

func (e *SegmentQueryError) Error() string {
	if e.Filter == "" {
		return fmt.Sprintf("segment query failed: %v", e.Err)
	}
	return fmt.Sprintf("segment query failed on %s: %v", e.Filter, e.Err)
}

func (e *SegmentQueryError) Unwrap() error { return e.Err }

// Engine evaluates and persists segments over the user collection.
type Engine interface {
	// Execute returns users matching the builder.
	//
	// With AND logic only the first docstore.MaxServerFilters filters are
	// sent to the store; the rest are applied to the store's result in
	// memory. Every returned user satisfies every filter, but when the store
	// truncates or pages the first query the result may be incomplete.
	//
	// With OR logic each filter runs as its own query and the results are
	// unioned by user ID in order of first appearance.
	Execute(ctx context.Context, b *Builder) ([]userdomain.User, error)
	// EstimateSize counts the population Execute would return.
	EstimateSize(ctx context.Context, b *Builder) (int, error)
	Save(ctx context.Context, id, name, description string, b *Builder) (*domain.Segment, error)
	// Load rebuilds a builder from a saved segment.
	Load(ctx context.Context, id string) (*Builder, error)
	Get(ctx context.Context, id string) (*domain.Segment, error)
	List(ctx context.Context) ([]*domain.Segment, error)
}

type engine struct {
	store  docstore.Store
	repo   repository.SegmentRepository
	clock  func() time.Time
	logger zerolog.Logger
}

func NewEngine(store docstore.Store, repo repository.SegmentRepository, logger zerolog.Logger) Engine {
	return &engine{store: store, repo: repo, clock: time.Now, logger: logger}
}

func (e *engine) Execute(ctx context.Context, b *Builder) ([]userdomain.User, error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	var (
		docs []docstore.Document
		err  error
	)
	if b.Logic() == domain.LogicOR {
		docs, err = e.executeOr(ctx, b.filters)
	} else {
		docs, err = e.executeAnd(ctx, b.filters)
	}
	if err != nil {
		metrics.SegmentQueries.WithLabelValues(string(b.Logic()), "error").Inc()
		return nil, err
	}
	metrics.SegmentQueries.WithLabelValues(string(b.Logic()), "ok").Inc()

	users := make([]userdomain.User, len(docs))
	for i, d := range docs {
		users[i] = userdomain.FromDocument(d)
	}
	return users, nil
}

func (e *engine) executeAnd(ctx context.Context, filters []docstore.Filter) ([]docstore.Document, error) {
	server, local := filters, []docstore.Filter(nil)
	if len(filters) > docstore.MaxServerFilters {
		server, local = filters[:docstore.MaxServerFilters], filters[docstore.MaxServerFilters:]
		e.logger.Debug().
			Int("server_filters", len(server)).
			Int("memory_filters", len(local)).
			Msg("segment exceeds server filter cap, post-filtering in memory")
	}
	docs, err := e.store.Query(ctx, userdomain.Collection, docstore.Query{Filters: server})
	if err != nil {
		return nil, &SegmentQueryError{Err: err}
	}
	if len(local) == 0 {
		return docs, nil
	}
	out := docs[:0]
	for _, d := range docs {
		if docstore.Match(d.Data, local) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *engine) executeOr(ctx context.Context, filters []docstore.Filter) ([]docstore.Document, error) {
	seen := make(map[string]bool)
	var out []docstore.Document
	for _, f := range filters {
		docs, err := e.store.Query(ctx, userdomain.Collection, docstore.Query{Filters: []docstore.Filter{f}})
		if err != nil {
			return nil, &SegmentQueryError{Filter: f.String(), Err: err}
		}
		for _, d := range docs {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *engine) EstimateSize(ctx context.Context, b *Builder) (int, error) {
	if err := b.Err(); err != nil {
		return 0, err
	}
	filters := b.filters
	serverOnly := len(filters) <= docstore.MaxServerFilters &&
		(b.Logic() == domain.LogicAND || len(filters) == 1)
	if serverOnly {
		n, err := e.store.Count(ctx, userdomain.Collection, filters)
		if err != nil {
			return 0, &SegmentQueryError{Err: err}
		}
		return n, nil
	}
	users, err := e.Execute(ctx, b)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

func (e *engine) Save(ctx context.Context, id, name, description string, b *Builder) (*domain.Segment, error) {
	if id == "" {
		return nil, &ValidationError{Errs: []error{fmt.Errorf("segment id is empty")}}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	size, err := e.EstimateSize(ctx, b)
	if err != nil {
		return nil, err
	}
	existing, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	seg := &domain.Segment{
		ID:            id,
		Name:          name,
		Description:   description,
		Logic:         b.Logic(),
		Filters:       b.Definitions(),
		EstimatedSize: size,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		seg.CreatedAt = existing.CreatedAt
	}
	if err := e.repo.Save(ctx, seg); err != nil {
		return nil, err
	}
	e.logger.Info().Str("segment_id", id).Int("estimated_size", size).Msg("segment saved")
	return seg, nil
}

func (e *engine) Get(ctx context.Context, id string) (*domain.Segment, error) {
	seg, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, domain.ErrSegmentNotFound
	}
	return seg, nil
}

func (e *engine) Load(ctx context.Context, id string) (*Builder, error) {
	seg, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b := FromDefinitions(seg.Logic, seg.Filters)
	b.now = e.clock
	return b, nil
}

func (e *engine) List(ctx context.Context) ([]*domain.Segment, error) {
	return e.repo.List(ctx)
}
