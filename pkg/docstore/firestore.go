package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore runs queries server-side on Firestore. Batch writes go
// through a transaction so each call is atomic.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) buildQuery(collection string, filters []Filter) firestore.Query {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.WherePath(firestore.FieldPath(f.Path.Segments()), string(f.Op), f.Value)
	}
	return q
}

func (s *FirestoreStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	fq := s.buildQuery(collection, q.Filters)
	if q.OrderBy != nil {
		dir := firestore.Asc
		if q.OrderBy.Descending {
			dir = firestore.Desc
		}
		fq = fq.OrderByPath(firestore.FieldPath(q.OrderBy.Path.Segments()), dir)
	}
	if q.After != "" {
		fq = fq.OrderBy(firestore.DocumentID, firestore.Asc).StartAfter(q.After)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}

	iter := fq.Documents(ctx)
	defer iter.Stop()

	var out []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		out = append(out, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return out, nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, data); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("create in %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if err := validateBatch(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Firestore requires every read to precede the first write.
		for _, op := range ops {
			if len(op.Require) == 0 {
				continue
			}
			snap, err := tx.Get(s.client.Collection(op.Collection).Doc(op.ID))
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, ErrConditionFailed)
			}
			if err != nil {
				return err
			}
			if !Match(snap.Data(), op.Require) {
				return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, ErrConditionFailed)
			}
		}
		for _, op := range ops {
			ref := s.client.Collection(op.Collection).Doc(op.ID)
			var err error
			switch op.Kind {
			case WriteDelete:
				err = tx.Delete(ref)
			case WriteUpdate:
				updates := make([]firestore.Update, 0, len(op.Data))
				for k, v := range op.Data {
					updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
				}
				err = tx.Update(ref, updates)
			case WriteSet:
				err = tx.Set(ref, op.Data)
			}
			if err != nil {
				return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, err)
			}
		}
		return nil
	})
	if errors.Is(err, ErrConditionFailed) {
		return err
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("batch write: %w", ErrNotFound)
	}
	return err
}

func (s *FirestoreStore) Count(ctx context.Context, collection string, filters []Filter) (int, error) {
	q := s.buildQuery(collection, filters)
	res, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	switch v := res["all"].(type) {
	case *firestorepb.Value:
		return int(v.GetIntegerValue()), nil
	case int64:
		return int(v), nil
	}
	return 0, fmt.Errorf("count %s: unexpected aggregation result %T", collection, res["all"])
}
