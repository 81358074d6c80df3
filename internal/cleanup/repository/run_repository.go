package repository

import (
	"context"
	"fmt"

	"clubnotify/internal/cleanup/domain"
	"clubnotify/pkg/docstore"
)

// RunRepository persists sweep summaries for health reporting
type RunRepository interface {
	Save(ctx context.Context, rec domain.RunRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]domain.RunRecord, error)
}

type runRepository struct {
	store docstore.Store
}

func NewRunRepository(store docstore.Store) RunRepository {
	return &runRepository{store: store}
}

func (r *runRepository) Save(ctx context.Context, rec domain.RunRecord) error {
	doc := map[string]any{
		"trigger":    rec.Trigger,
		"timestamp":  rec.StartedAt,
		"durationMs": rec.DurationMS,
		"success":    rec.Success,
		"deleted":    rec.Deleted,
		"updated":    rec.Updated,
		"errors":     rec.Errors,
	}
	if len(rec.StepErrors) > 0 {
		stepErrors := make(map[string]any, len(rec.StepErrors))
		for k, v := range rec.StepErrors {
			stepErrors[k] = v
		}
		doc["stepErrors"] = stepErrors
	}
	if err := r.store.Set(ctx, domain.Collection, rec.RunID, doc); err != nil {
		return fmt.Errorf("save cleanup run: %w", err)
	}
	return nil
}

func (r *runRepository) Recent(ctx context.Context, n int) ([]domain.RunRecord, error) {
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{
		OrderBy: &docstore.Order{Path: docstore.MustPath("timestamp"), Descending: true},
		Limit:   n,
	})
	if err != nil {
		return nil, fmt.Errorf("load cleanup runs: %w", err)
	}
	out := make([]domain.RunRecord, len(docs))
	for i, d := range docs {
		rec := domain.RunRecord{
			RunID:      d.ID,
			Trigger:    docstore.AsString(d.Data["trigger"]),
			DurationMS: docstore.AsInt(d.Data["durationMs"]),
			Success:    docstore.AsBool(d.Data["success"]),
			Deleted:    int(docstore.AsInt(d.Data["deleted"])),
			Updated:    int(docstore.AsInt(d.Data["updated"])),
			Errors:     int(docstore.AsInt(d.Data["errors"])),
			StepErrors: docstore.AsStringMap(d.Data["stepErrors"]),
		}
		if t := docstore.TimeField(d.Data, "timestamp"); t != nil {
			rec.StartedAt = *t
		}
		out[i] = rec
	}
	return out, nil
}
