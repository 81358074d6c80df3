package repository

import (
	"context"
	"testing"
	"time"

	"clubnotify/pkg/docstore"
)

func TestStoreDirectory(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	last := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	_ = store.Set(ctx, "users", "u1", map[string]any{
		"email":                   "u1@example.com",
		"bookingCount":            int64(12),
		"lastActivityAt":          last,
		"tags":                    []any{"padel"},
		"notificationPreferences": map[string]any{"push": true},
	})
	dir := NewStoreDirectory(store)

	u, err := dir.Get(ctx, "u1")
	if err != nil || u == nil {
		t.Fatalf("Get = %v, %v", u, err)
	}
	if u.BookingCount != 12 || u.LastActivityAt == nil || !u.LastActivityAt.Equal(last) {
		t.Errorf("decoded user: %+v", u)
	}
	if !u.Preferences["push"] || len(u.Tags) != 1 {
		t.Errorf("preferences/tags: %+v %+v", u.Preferences, u.Tags)
	}

	missing, err := dir.Get(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("Get missing = %v, %v; want nil, nil", missing, err)
	}
	ok, err := dir.Exists(ctx, "nobody")
	if err != nil || ok {
		t.Fatalf("Exists missing = %v, %v", ok, err)
	}
}
