package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// documentRow stores one document as a JSON column keyed by
// (collection, id).
type documentRow struct {
	Collection string         `gorm:"primaryKey;size:128"`
	ID         string         `gorm:"primaryKey;size:191"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

// PostgresStore keeps documents in a single jsonb table. String equality
// filters are pushed into SQL; every other filter is evaluated with Match
// over the rows of the collection.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects with gorm's postgres driver.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore migrates the documents table and returns the store.
func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Where("collection = ?", collection)
	if q.After != "" {
		tx = tx.Where("id > ?", q.After)
	}
	for _, f := range q.Filters {
		if str, ok := f.Value.(string); ok && f.Op == OpEqual {
			tx = tx.Where(datatypes.JSONQuery("data").Equals(str, f.Path.Segments()...))
		}
	}

	var rows []documentRow
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		data, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		if !Match(data, q.Filters) {
			continue
		}
		if q.OrderBy != nil {
			if _, ok := q.OrderBy.Path.Lookup(data); !ok {
				continue
			}
		}
		out = append(out, Document{ID: row.ID, Data: data})
	}
	sortDocuments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	data, err := decodeRow(row)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: row.ID, Data: data}, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return upsert(s.db.WithContext(ctx), collection, id, data)
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := newID()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if err := validateBatch(ops); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if len(op.Require) == 0 {
				continue
			}
			var row documentRow
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("collection = ? AND id = ?", op.Collection, op.ID).First(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, ErrConditionFailed)
			}
			if err != nil {
				return err
			}
			data, err := decodeRow(row)
			if err != nil {
				return err
			}
			if !Match(data, op.Require) {
				return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, ErrConditionFailed)
			}
		}
		for _, op := range ops {
			switch op.Kind {
			case WriteDelete:
				if err := tx.Where("collection = ? AND id = ?", op.Collection, op.ID).Delete(&documentRow{}).Error; err != nil {
					return fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, err)
				}
			case WriteUpdate:
				var row documentRow
				err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("collection = ? AND id = ?", op.Collection, op.ID).First(&row).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("update %s/%s: %w", op.Collection, op.ID, ErrNotFound)
				}
				if err != nil {
					return fmt.Errorf("update %s/%s: %w", op.Collection, op.ID, err)
				}
				data, err := decodeRow(row)
				if err != nil {
					return err
				}
				for k, v := range op.Data {
					data[k] = v
				}
				if err := upsert(tx, op.Collection, op.ID, data); err != nil {
					return err
				}
			case WriteSet:
				if err := upsert(tx, op.Collection, op.ID, op.Data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *PostgresStore) Count(ctx context.Context, collection string, filters []Filter) (int, error) {
	docs, err := s.Query(ctx, collection, Query{Filters: filters})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func upsert(db *gorm.DB, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	row := &documentRow{
		Collection: collection,
		ID:         id,
		Data:       datatypes.JSON(raw),
		UpdatedAt:  time.Now(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(row).Error
}

func decodeRow(row documentRow) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", row.Collection, row.ID, err)
	}
	return data, nil
}
