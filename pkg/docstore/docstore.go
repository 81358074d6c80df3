// Package docstore is a small document-store abstraction: collections of
// JSON-like documents queried by field filters, with batched writes that are
// atomic within one call.
//
// Three backends implement Store: an in-process MemoryStore, Firestore and a
// Postgres table of JSON documents. All of them evaluate filters with the
// same semantics as Match, so callers can post-filter in memory and get the
// same answer the server would have given.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MaxBatchSize is the largest number of operations accepted by one
	// BatchWrite call.
	MaxBatchSize = 500
	// MaxInValues is the largest operand accepted by in, not-in and
	// array-contains-any. Callers with more values must split the query.
	MaxInValues = 30
	// MaxServerFilters is the number of filters a single query may carry.
	MaxServerFilters = 10
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrConditionFailed is returned when a WriteOp precondition does not
	// hold. The batch is not applied.
	ErrConditionFailed = errors.New("write precondition failed")
)

// Document is one stored record.
type Document struct {
	ID   string
	Data map[string]any
}

// Order sorts query results by a field. Documents missing the field are
// excluded, as the hosted store does.
type Order struct {
	Path       FieldPath
	Descending bool
}

// Query selects documents from one collection. A zero Limit means no limit.
// After resumes a scan ordered by document ID and cannot be combined with
// OrderBy.
type Query struct {
	Filters []Filter
	OrderBy *Order
	Limit   int
	After   string
}

type WriteKind int

const (
	WriteDelete WriteKind = iota
	// WriteUpdate merges top-level fields into an existing document and
	// fails the whole batch when the document does not exist.
	WriteUpdate
	// WriteSet replaces the document, creating it if needed.
	WriteSet
)

func (k WriteKind) String() string {
	switch k {
	case WriteDelete:
		return "delete"
	case WriteUpdate:
		return "update"
	case WriteSet:
		return "set"
	}
	return "unknown"
}

type WriteOp struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       map[string]any
	// Require, when set, must match the current document or the whole batch
	// fails with ErrConditionFailed. A missing document never matches.
	Require []Filter
}

// Store is the document store contract used throughout the service.
type Store interface {
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	BatchWrite(ctx context.Context, ops []WriteOp) error
	Count(ctx context.Context, collection string, filters []Filter) (int, error)
}

func validateBatch(ops []WriteOp) error {
	if len(ops) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	return nil
}

func validateQuery(q Query) error {
	if len(q.Filters) > MaxServerFilters {
		return fmt.Errorf("%w: query carries %d filters, limit is %d", ErrInvalidFilter, len(q.Filters), MaxServerFilters)
	}
	if q.After != "" && q.OrderBy != nil {
		return fmt.Errorf("%w: After cannot be combined with OrderBy", ErrInvalidFilter)
	}
	return nil
}
