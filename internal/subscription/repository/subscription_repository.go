package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"clubnotify/internal/subscription/domain"
	"clubnotify/pkg/docstore"
)

// SubscriptionRepository defines the interface for subscription operations
type SubscriptionRepository interface {
	// Register upserts a subscription keyed by owner and endpoint. An
	// existing inactive subscription is reactivated, since registering is an
	// explicit action by the owner.
	Register(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	Get(ctx context.Context, id string) (*domain.Subscription, error)
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*domain.Subscription, error)
	// ListActiveByUsers returns active subscriptions for any of userIDs.
	ListActiveByUsers(ctx context.Context, userIDs []string) ([]*domain.Subscription, error)
	// Deactivate marks an active subscription inactive. It returns false
	// without error when the subscription is already inactive or gone.
	Deactivate(ctx context.Context, id string, reason domain.InactiveReason, lastError string) (bool, error)
	// Touch refreshes LastUsedAt after a successful delivery.
	Touch(ctx context.Context, ids []string) error
	// MarkStale deactivates up to limit active subscriptions unused since
	// cutoff and returns how many changed.
	MarkStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	// ScanOwners pages through every subscription in document ID order,
	// returning only IDs and owners so malformed documents are included.
	ScanOwners(ctx context.Context, after string, limit int) ([]domain.Owner, error)
	Delete(ctx context.Context, ids []string) error
}

type subscriptionRepository struct {
	store  docstore.Store
	clock  func() time.Time
	logger zerolog.Logger
}

// NewSubscriptionRepository creates a new instance of subscriptionRepository
func NewSubscriptionRepository(store docstore.Store, logger zerolog.Logger) SubscriptionRepository {
	return &subscriptionRepository{store: store, clock: time.Now, logger: logger}
}

func (r *subscriptionRepository) Register(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	now := r.clock()
	id := domain.DocumentID(sub.UserID, sub.Endpoint)

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &domain.Subscription{
		ID:         id,
		UserID:     sub.UserID,
		Endpoint:   sub.Endpoint,
		Status:     domain.StatusActive,
		LastUsedAt: now,
		CreatedAt:  now,
	}
	if existing != nil {
		out.CreatedAt = existing.CreatedAt
	}
	if err := r.store.Set(ctx, domain.Collection, id, out.ToDocument()); err != nil {
		return nil, fmt.Errorf("register subscription: %w", err)
	}
	return out, nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	doc, err := r.store.Get(ctx, domain.Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return domain.FromDocument(doc)
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*domain.Subscription, error) {
	filters := []docstore.Filter{docstore.Where("userId", docstore.OpEqual, userID)}
	if activeOnly {
		filters = append(filters, docstore.Where("status", docstore.OpEqual, string(domain.StatusActive)))
	}
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", userID, err)
	}
	return r.decode(docs), nil
}

func (r *subscriptionRepository) ListActiveByUsers(ctx context.Context, userIDs []string) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for start := 0; start < len(userIDs); start += docstore.MaxInValues {
		end := min(start+docstore.MaxInValues, len(userIDs))
		chunk := make([]any, 0, end-start)
		for _, id := range userIDs[start:end] {
			chunk = append(chunk, id)
		}
		docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{Filters: []docstore.Filter{
			docstore.Where("userId", docstore.OpIn, chunk),
			docstore.Where("status", docstore.OpEqual, string(domain.StatusActive)),
		}})
		if err != nil {
			return nil, fmt.Errorf("list active subscriptions: %w", err)
		}
		out = append(out, r.decode(docs)...)
	}
	return out, nil
}

func (r *subscriptionRepository) Deactivate(ctx context.Context, id string, reason domain.InactiveReason, lastError string) (bool, error) {
	now := r.clock()
	data := map[string]any{
		"status":         string(domain.StatusInactive),
		"inactivatedAt":  now,
		"inactiveReason": string(reason),
	}
	if lastError != "" {
		data["lastError"] = lastError
		data["lastErrorAt"] = now
	}
	err := r.store.BatchWrite(ctx, []docstore.WriteOp{{
		Kind:       docstore.WriteUpdate,
		Collection: domain.Collection,
		ID:         id,
		Data:       data,
		Require:    []docstore.Filter{docstore.Where("status", docstore.OpEqual, string(domain.StatusActive))},
	}})
	if errors.Is(err, docstore.ErrConditionFailed) || errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deactivate subscription %s: %w", id, err)
	}
	return true, nil
}

func (r *subscriptionRepository) Touch(ctx context.Context, ids []string) error {
	now := r.clock()
	for start := 0; start < len(ids); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(ids))
		ops := make([]docstore.WriteOp, 0, end-start)
		for _, id := range ids[start:end] {
			ops = append(ops, docstore.WriteOp{
				Kind:       docstore.WriteUpdate,
				Collection: domain.Collection,
				ID:         id,
				Data:       map[string]any{"lastUsedAt": now},
			})
		}
		if err := r.store.BatchWrite(ctx, ops); err != nil {
			return fmt.Errorf("touch subscriptions: %w", err)
		}
	}
	return nil
}

func (r *subscriptionRepository) MarkStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 || limit > docstore.MaxBatchSize {
		limit = docstore.MaxBatchSize
	}
	active := docstore.Where("status", docstore.OpEqual, string(domain.StatusActive))
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{
		Filters: []docstore.Filter{active, docstore.Where("lastUsedAt", docstore.OpLess, cutoff)},
		Limit:   limit,
	})
	if err != nil {
		return 0, fmt.Errorf("query stale subscriptions: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	now := r.clock()
	ops := make([]docstore.WriteOp, len(docs))
	for i, d := range docs {
		ops[i] = docstore.WriteOp{
			Kind:       docstore.WriteUpdate,
			Collection: domain.Collection,
			ID:         d.ID,
			Data: map[string]any{
				"status":         string(domain.StatusInactive),
				"inactivatedAt":  now,
				"inactiveReason": string(domain.ReasonStale),
			},
			Require: []docstore.Filter{active},
		}
	}
	err = r.store.BatchWrite(ctx, ops)
	if err == nil {
		return len(ops), nil
	}
	if !errors.Is(err, docstore.ErrConditionFailed) && !errors.Is(err, docstore.ErrNotFound) {
		return 0, fmt.Errorf("mark stale subscriptions: %w", err)
	}
	// Something changed under us; apply one by one so the rest still land.
	changed := 0
	for _, op := range ops {
		err := r.store.BatchWrite(ctx, []docstore.WriteOp{op})
		switch {
		case err == nil:
			changed++
		case errors.Is(err, docstore.ErrConditionFailed), errors.Is(err, docstore.ErrNotFound):
		default:
			return changed, fmt.Errorf("mark stale subscription %s: %w", op.ID, err)
		}
	}
	return changed, nil
}

func (r *subscriptionRepository) ScanOwners(ctx context.Context, after string, limit int) ([]domain.Owner, error) {
	docs, err := r.store.Query(ctx, domain.Collection, docstore.Query{After: after, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w", err)
	}
	out := make([]domain.Owner, len(docs))
	for i, d := range docs {
		out[i] = domain.Owner{SubscriptionID: d.ID, UserID: docstore.AsString(d.Data["userId"])}
	}
	return out, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(ids))
		ops := make([]docstore.WriteOp, 0, end-start)
		for _, id := range ids[start:end] {
			ops = append(ops, docstore.WriteOp{Kind: docstore.WriteDelete, Collection: domain.Collection, ID: id})
		}
		if err := r.store.BatchWrite(ctx, ops); err != nil {
			return fmt.Errorf("delete subscriptions: %w", err)
		}
	}
	return nil
}

func (r *subscriptionRepository) decode(docs []docstore.Document) []*domain.Subscription {
	out := make([]*domain.Subscription, 0, len(docs))
	for _, d := range docs {
		s, err := domain.FromDocument(d)
		if err != nil {
			r.logger.Warn().Err(err).Str("subscription_id", d.ID).Msg("skipping malformed subscription")
			continue
		}
		out = append(out, s)
	}
	return out
}
