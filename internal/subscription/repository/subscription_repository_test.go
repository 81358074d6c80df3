package repository

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clubnotify/internal/subscription/domain"
	"clubnotify/pkg/docstore"
)

func newTestRepo(t *testing.T) (*subscriptionRepository, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	repo := NewSubscriptionRepository(store, zerolog.Nop()).(*subscriptionRepository)
	return repo, store
}

func TestRegisterIsIdempotentPerEndpoint(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestRepo(t)

	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return t0 }
	sub := &domain.Subscription{UserID: "u1", Endpoint: domain.NativeEndpoint{Token: "tok-1", Platform: domain.PlatformAndroid}}
	first, err := repo.Register(ctx, sub)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	repo.clock = func() time.Time { return t0.Add(time.Hour) }
	second, err := repo.Register(ctx, sub)
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same endpoint produced different IDs: %s vs %s", first.ID, second.ID)
	}
	if store.Len(domain.Collection) != 1 {
		t.Fatalf("expected one stored subscription, got %d", store.Len(domain.Collection))
	}
	if !second.CreatedAt.Equal(t0) || !second.LastUsedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("timestamps: created %v last used %v", second.CreatedAt, second.LastUsedAt)
	}
}

func TestRegisterRejectsMalformed(t *testing.T) {
	repo, _ := newTestRepo(t)
	cases := []*domain.Subscription{
		{UserID: "", Endpoint: domain.EmailEndpoint{Address: "a@b.c"}},
		{UserID: "u1", Endpoint: domain.WebEndpoint{URL: "https://push.example/1"}},
		{UserID: "u1", Endpoint: domain.NativeEndpoint{Token: "t", Platform: "blackberry"}},
		{UserID: "u1"},
	}
	for i, c := range cases {
		if _, err := repo.Register(context.Background(), c); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestDeactivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	sub, err := repo.Register(ctx, &domain.Subscription{UserID: "u1", Endpoint: domain.WebEndpoint{URL: "https://push.example/1", P256dh: "k", Auth: "a"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	changed, err := repo.Deactivate(ctx, sub.ID, domain.ReasonDeliveryFailure, "http 410")
	if err != nil || !changed {
		t.Fatalf("first Deactivate = %v, %v; want true, nil", changed, err)
	}
	changed, err = repo.Deactivate(ctx, sub.ID, domain.ReasonDeliveryFailure, "http 410")
	if err != nil || changed {
		t.Fatalf("second Deactivate = %v, %v; want false, nil", changed, err)
	}
	changed, err = repo.Deactivate(ctx, "does-not-exist", domain.ReasonStale, "")
	if err != nil || changed {
		t.Fatalf("Deactivate missing = %v, %v; want false, nil", changed, err)
	}

	got, err := repo.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusInactive || got.InactiveReason != domain.ReasonDeliveryFailure {
		t.Errorf("status %s reason %s", got.Status, got.InactiveReason)
	}
	if got.LastError != "http 410" || got.LastErrorAt == nil || got.InactivatedAt == nil {
		t.Errorf("error fields not recorded: %+v", got)
	}
}

func TestListActiveByUsersSplitsLargeLists(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	var ids []string
	for i := 0; i < 75; i++ {
		uid := "user-" + string(rune('A'+i/26)) + string(rune('a'+i%26))
		ids = append(ids, uid)
		if _, err := repo.Register(ctx, &domain.Subscription{UserID: uid, Endpoint: domain.EmailEndpoint{Address: uid + "@example.com"}}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	inactive, _ := repo.Register(ctx, &domain.Subscription{UserID: ids[0], Endpoint: domain.NativeEndpoint{Token: "old", Platform: domain.PlatformIOS}})
	if _, err := repo.Deactivate(ctx, inactive.ID, domain.ReasonStale, ""); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	subs, err := repo.ListActiveByUsers(ctx, ids)
	if err != nil {
		t.Fatalf("ListActiveByUsers: %v", err)
	}
	if len(subs) != 75 {
		t.Fatalf("got %d active subscriptions, want 75", len(subs))
	}
	for _, s := range subs {
		if !s.IsActive() {
			t.Errorf("inactive subscription %s returned", s.ID)
		}
	}
}

func TestScanOwnersIncludesMalformedDocuments(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestRepo(t)
	if _, err := repo.Register(ctx, &domain.Subscription{UserID: "u1", Endpoint: domain.EmailEndpoint{Address: "u1@example.com"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.Set(ctx, domain.Collection, "broken", map[string]any{"userId": "ghost", "channel": "fax"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	owners, err := repo.ScanOwners(ctx, "", 10)
	if err != nil {
		t.Fatalf("ScanOwners: %v", err)
	}
	if len(owners) != 2 {
		t.Fatalf("got %d owners, want 2", len(owners))
	}

	list, err := repo.ListByUser(ctx, "ghost", false)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("malformed document should be skipped by typed reads")
	}
}

func TestMarkStaleOnlyTouchesActiveUnused(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return old }
	stale, _ := repo.Register(ctx, &domain.Subscription{UserID: "u1", Endpoint: domain.EmailEndpoint{Address: "u1@example.com"}})
	gone, _ := repo.Register(ctx, &domain.Subscription{UserID: "u2", Endpoint: domain.EmailEndpoint{Address: "u2@example.com"}})
	if _, err := repo.Deactivate(ctx, gone.ID, domain.ReasonUnregistered, ""); err != nil {
		t.Fatal(err)
	}
	repo.clock = func() time.Time { return recent }
	fresh, _ := repo.Register(ctx, &domain.Subscription{UserID: "u3", Endpoint: domain.EmailEndpoint{Address: "u3@example.com"}})

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err := repo.MarkStale(ctx, cutoff, 500)
	if err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("MarkStale changed %d, want 1", n)
	}

	got, _ := repo.Get(ctx, stale.ID)
	if got.Status != domain.StatusInactive || got.InactiveReason != domain.ReasonStale {
		t.Errorf("stale subscription = %s/%s", got.Status, got.InactiveReason)
	}
	got, _ = repo.Get(ctx, gone.ID)
	if got.InactiveReason != domain.ReasonUnregistered {
		t.Errorf("already inactive subscription was rewritten: %s", got.InactiveReason)
	}
	got, _ = repo.Get(ctx, fresh.ID)
	if !got.IsActive() {
		t.Error("recently used subscription was deactivated")
	}

	if n, _ := repo.MarkStale(ctx, cutoff, 500); n != 0 {
		t.Errorf("second MarkStale changed %d, want 0", n)
	}
}
