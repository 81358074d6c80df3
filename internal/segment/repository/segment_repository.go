package repository

import (
	"context"
	"errors"
	"fmt"

	"clubnotify/internal/segment/domain"
	"clubnotify/pkg/docstore"
)

// SegmentRepository defines the interface for segment persistence
type SegmentRepository interface {
	Save(ctx context.Context, seg *domain.Segment) error
	// FindByID returns nil, nil when the segment does not exist.
	FindByID(ctx context.Context, id string) (*domain.Segment, error)
	List(ctx context.Context) ([]*domain.Segment, error)
}

type segmentRepository struct {
	store docstore.Store
}

func NewSegmentRepository(store docstore.Store) SegmentRepository {
	return &segmentRepository{store: store}
}

func (r *segmentRepository) Save(ctx context.Context, seg *domain.Segment) error {
	if err := r.store.Set(ctx, domain.Collection, seg.ID, seg.ToDocument()); err != nil {
		return fmt.Errorf("save segment %s: %w", seg.ID, err)
	}
	return nil
}

func (r *segmentRepository) FindByID(ctx context.Context, id string) (*domain.Segment, error) {
	doc, err := r.store.Get(ctx, domain.Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %s: %w", id, err)
	}
	return domain.FromDocument(doc), nil
}

func (r *segmentRepository) List(ctx context.Context) ([]*domain.Segment, error) {
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	out := make([]*domain.Segment, len(docs))
	for i, d := range docs {
		out[i] = domain.FromDocument(d)
	}
	return out, nil
}
