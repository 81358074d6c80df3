package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clubnotify/internal/scheduled/domain"
	"clubnotify/pkg/docstore"
)

// ScheduledRepository defines the interface for scheduled notification data access
type ScheduledRepository interface {
	Create(ctx context.Context, n *domain.ScheduledNotification) error
	// FindByID returns nil, nil when the notification does not exist.
	FindByID(ctx context.Context, id string) (*domain.ScheduledNotification, error)
	// List returns notifications ordered by send time, optionally by status.
	List(ctx context.Context, status domain.Status, limit int) ([]*domain.ScheduledNotification, error)
	// FindDue returns pending notifications with SendAt <= now.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledNotification, error)
	// Transition moves a pending notification to a new status. It returns
	// false without error when the notification is no longer pending.
	Transition(ctx context.Context, n *domain.ScheduledNotification, to domain.Status) (bool, error)
	// Claim moves a pending notification to processing. Only one caller
	// wins; the others get false.
	Claim(ctx context.Context, n *domain.ScheduledNotification) (bool, error)
	// Complete moves a claimed notification to sent or failed.
	Complete(ctx context.Context, n *domain.ScheduledNotification, to domain.Status) (bool, error)
	// FailStale marks notifications claimed before cutoff as failed. They
	// are not re-sent, since the interrupted dispatch may have reached
	// some recipients.
	FailStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	// FindTerminalBefore returns IDs of sent, failed or cancelled
	// notifications last updated before cutoff.
	FindTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// DeleteTerminal deletes the given notifications, skipping any that are
	// not in a terminal status at the time of the write.
	DeleteTerminal(ctx context.Context, ids []string) (int, error)
}

type scheduledRepository struct {
	store docstore.Store
	clock func() time.Time
}

func NewScheduledRepository(store docstore.Store) ScheduledRepository {
	return &scheduledRepository{store: store, clock: time.Now}
}

func terminalValues() []any {
	out := make([]any, len(domain.TerminalStatuses))
	for i, s := range domain.TerminalStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *scheduledRepository) Create(ctx context.Context, n *domain.ScheduledNotification) error {
	now := r.clock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Status = domain.StatusPending
	n.CreatedAt = now
	n.UpdatedAt = now
	if err := r.store.Set(ctx, domain.Collection, n.ID, n.ToDocument()); err != nil {
		return fmt.Errorf("create scheduled notification: %w", err)
	}
	return nil
}

func (r *scheduledRepository) FindByID(ctx context.Context, id string) (*domain.ScheduledNotification, error) {
	doc, err := r.store.Get(ctx, domain.Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return domain.FromDocument(doc), nil
}

func (r *scheduledRepository) List(ctx context.Context, status domain.Status, limit int) ([]*domain.ScheduledNotification, error) {
	q := docstore.Query{
		OrderBy: &docstore.Order{Path: docstore.MustPath("sendAt")},
		Limit:   limit,
	}
	if status != "" {
		q.Filters = []docstore.Filter{docstore.Where("status", docstore.OpEqual, string(status))}
	}
	docs, err := r.store.Query(ctx, domain.Collection, q)
	if err != nil {
		return nil, fmt.Errorf("list scheduled notifications: %w", err)
	}
	return decode(docs), nil
}

func (r *scheduledRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledNotification, error) {
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("status", docstore.OpEqual, string(domain.StatusPending)),
			docstore.Where("sendAt", docstore.OpLessEqual, now),
		},
		OrderBy: &docstore.Order{Path: docstore.MustPath("sendAt")},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find due notifications: %w", err)
	}
	return decode(docs), nil
}

func (r *scheduledRepository) Transition(ctx context.Context, n *domain.ScheduledNotification, to domain.Status) (bool, error) {
	return r.transition(ctx, n, domain.StatusPending, to)
}

func (r *scheduledRepository) Claim(ctx context.Context, n *domain.ScheduledNotification) (bool, error) {
	return r.transition(ctx, n, domain.StatusPending, domain.StatusProcessing)
}

func (r *scheduledRepository) Complete(ctx context.Context, n *domain.ScheduledNotification, to domain.Status) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("complete scheduled notification %s: %s is not a final status", n.ID, to)
	}
	return r.transition(ctx, n, domain.StatusProcessing, to)
}

func (r *scheduledRepository) FailStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("status", docstore.OpEqual, string(domain.StatusProcessing)),
			docstore.Where("updatedAt", docstore.OpLess, cutoff),
		},
		Limit: limit,
	})
	if err != nil {
		return 0, fmt.Errorf("find stale scheduled notifications: %w", err)
	}
	failed := 0
	for _, n := range decode(docs) {
		n.LastError = "dispatch interrupted before completion"
		ok, err := r.transition(ctx, n, domain.StatusProcessing, domain.StatusFailed)
		if err != nil {
			return failed, err
		}
		if ok {
			failed++
		}
	}
	return failed, nil
}

func (r *scheduledRepository) transition(ctx context.Context, n *domain.ScheduledNotification, from, to domain.Status) (bool, error) {
	now := r.clock()
	data := map[string]any{
		"status":    string(to),
		"updatedAt": now,
	}
	if to.IsTerminal() {
		data["completedAt"] = now
	}
	if n.LastError != "" {
		data["lastError"] = n.LastError
	}
	if to == domain.StatusSent || to == domain.StatusFailed {
		data["recipients"] = n.Recipients
		data["successful"] = n.Successful
		data["failed"] = n.Failed
	}

	err := r.store.BatchWrite(ctx, []docstore.WriteOp{{
		Kind:       docstore.WriteUpdate,
		Collection: domain.Collection,
		ID:         n.ID,
		Data:       data,
		Require:    []docstore.Filter{docstore.Where("status", docstore.OpEqual, string(from))},
	}})
	if errors.Is(err, docstore.ErrConditionFailed) || errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update scheduled notification %s: %w", n.ID, err)
	}
	n.Status = to
	n.UpdatedAt = now
	if to.IsTerminal() {
		n.CompletedAt = &now
	}
	return true, nil
}

func (r *scheduledRepository) FindTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("status", docstore.OpIn, terminalValues()),
			docstore.Where("updatedAt", docstore.OpLess, cutoff),
		},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find expired scheduled notifications: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (r *scheduledRepository) DeleteTerminal(ctx context.Context, ids []string) (int, error) {
	terminal := []docstore.Filter{docstore.Where("status", docstore.OpIn, terminalValues())}
	deleted := 0
	for start := 0; start < len(ids); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(ids))
		ops := make([]docstore.WriteOp, 0, end-start)
		for _, id := range ids[start:end] {
			ops = append(ops, docstore.WriteOp{
				Kind:       docstore.WriteDelete,
				Collection: domain.Collection,
				ID:         id,
				Require:    terminal,
			})
		}
		err := r.store.BatchWrite(ctx, ops)
		if err == nil {
			deleted += len(ops)
			continue
		}
		if !errors.Is(err, docstore.ErrConditionFailed) {
			return deleted, fmt.Errorf("delete scheduled notifications: %w", err)
		}
		// A document changed status or vanished since it was selected.
		for _, op := range ops {
			err := r.store.BatchWrite(ctx, []docstore.WriteOp{op})
			switch {
			case err == nil:
				deleted++
			case errors.Is(err, docstore.ErrConditionFailed):
			default:
				return deleted, fmt.Errorf("delete scheduled notification %s: %w", op.ID, err)
			}
		}
	}
	return deleted, nil
}

func decode(docs []docstore.Document) []*domain.ScheduledNotification {
	out := make([]*domain.ScheduledNotification, len(docs))
	for i, d := range docs {
		out[i] = domain.FromDocument(d)
	}
	return out
}
