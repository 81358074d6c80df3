package usecase

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clubnotify/internal/segment/domain"
	"clubnotify/internal/segment/repository"
	userdomain "clubnotify/internal/user/domain"
	"clubnotify/pkg/docstore"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type seedUser struct {
	id       string
	bookings int64
	lastSeen time.Duration
	role     string
	push     bool
	tags     []any
}

func seedUsers(t *testing.T, store docstore.Store, users []seedUser) {
	t.Helper()
	for _, u := range users {
		err := store.Set(context.Background(), userdomain.Collection, u.id, map[string]any{
			"bookingCount":            u.bookings,
			"lastActivityAt":          testNow.Add(-u.lastSeen),
			"role":                    u.role,
			"clubId":                  "club-1",
			"membershipStatus":        "active",
			"tags":                    u.tags,
			"notificationPreferences": map[string]any{"push": u.push},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

var population = []seedUser{
	{id: "a", bookings: 12, lastSeen: 2 * 24 * time.Hour, role: "player", push: true, tags: []any{"padel"}},
	{id: "b", bookings: 3, lastSeen: 1 * 24 * time.Hour, role: "player", push: false, tags: []any{"tennis"}},
	{id: "c", bookings: 25, lastSeen: 30 * 24 * time.Hour, role: "coach", push: true, tags: []any{"padel", "tennis"}},
	{id: "d", bookings: 10, lastSeen: 6 * 24 * time.Hour, role: "player", push: true, tags: []any{}},
	{id: "e", bookings: 0, lastSeen: 400 * 24 * time.Hour, role: "player", push: false, tags: []any{"squash"}},
}

func newTestEngine(t *testing.T, store docstore.Store) *engine {
	t.Helper()
	e := NewEngine(store, repository.NewSegmentRepository(store), zerolog.Nop()).(*engine)
	e.clock = func() time.Time { return testNow }
	return e
}

func newTestBuilder() *Builder {
	b := NewBuilder()
	b.now = func() time.Time { return testNow }
	return b
}

func ids(users []userdomain.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	sort.Strings(out)
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBookingCountAndActivity(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, population)
	e := newTestEngine(t, store)
	ctx := context.Background()

	tests := []struct {
		name  string
		logic domain.Logic
		want  []string
	}{
		{name: "and", logic: domain.LogicAND, want: []string{"a", "d"}},
		{name: "or", logic: domain.LogicOR, want: []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder().
				WhereBookingCount(docstore.OpGreaterEqual, 10).
				WhereLastActivityWithin(7).
				WithLogic(tt.logic)
			users, err := e.Execute(ctx, b)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := ids(users); !equalIDs(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			n, err := e.EstimateSize(ctx, b)
			if err != nil {
				t.Fatalf("EstimateSize: %v", err)
			}
			if n != len(tt.want) {
				t.Errorf("EstimateSize = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestExecuteAndMatchesReference(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, population)
	e := newTestEngine(t, store)

	b := newTestBuilder().
		WhereRole("player").
		WhereNotificationPreference("push", true).
		WhereClub("club-1")
	users, err := e.Execute(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(users); !equalIDs(got, []string{"a", "d"}) {
		t.Errorf("got %v", got)
	}
}

func TestExecuteAndBeyondServerCapIsSound(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, population)
	e := newTestEngine(t, store)

	b := newTestBuilder()
	for i := 0; i < 10; i++ {
		b.WhereClub("club-1")
	}
	b.WhereBookingCount(docstore.OpGreater, 5).WhereTagsAny("padel")
	if len(b.Filters()) != 12 {
		t.Fatalf("builder has %d filters, want 12", len(b.Filters()))
	}

	users, err := e.Execute(context.Background(), b)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, u := range users {
		if !docstore.Match(u.Fields, b.Filters()) {
			t.Errorf("user %s does not satisfy every filter", u.ID)
		}
	}
	if got := ids(users); !equalIDs(got, []string{"a", "c"}) {
		t.Errorf("got %v, want [a c]", got)
	}
	n, err := e.EstimateSize(context.Background(), b)
	if err != nil || n != 2 {
		t.Errorf("EstimateSize = %d, %v", n, err)
	}
}

func TestExecuteOrDeduplicates(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, population)
	e := newTestEngine(t, store)

	b := newTestBuilder().
		WhereTagsAny("padel").
		WhereTagsAny("tennis").
		WhereRole("coach").
		WithLogic(domain.LogicOR)
	users, err := e.Execute(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, u := range users {
		if seen[u.ID] {
			t.Fatalf("duplicate user %s in OR result", u.ID)
		}
		seen[u.ID] = true
	}
	if got := ids(users); !equalIDs(got, []string{"a", "b", "c"}) {
		t.Errorf("got %v", got)
	}
	// first appearance order: padel matches a then c, tennis adds b
	if users[0].ID != "a" || users[1].ID != "c" || users[2].ID != "b" {
		t.Errorf("order = %v", []string{users[0].ID, users[1].ID, users[2].ID})
	}
}

func TestBuilderRejectsInvalidFilters(t *testing.T) {
	e := newTestEngine(t, docstore.NewMemoryStore())
	b := newTestBuilder().
		AddFilter("notificationPreferences..push", docstore.OpEqual, true).
		AddFilter("role", "like", "p%").
		AddFilter("tags", docstore.OpIn, "padel")

	_, err := e.Execute(context.Background(), b)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(verr.Errs) != 3 {
		t.Errorf("got %d problems, want 3: %v", len(verr.Errs), verr)
	}
	if _, err := e.Save(context.Background(), "s1", "bad", "", b); !errors.As(err, &verr) {
		t.Errorf("Save err = %v, want ValidationError", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, population)
	e := newTestEngine(t, store)
	ctx := context.Background()

	b := newTestBuilder().WhereBookingCount(docstore.OpGreaterEqual, 10).WhereRole("player")
	first, err := e.Save(ctx, "frequent", "Frequent players", "10+ bookings", b)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.EstimatedSize != 2 {
		t.Errorf("EstimatedSize = %d, want 2", first.EstimatedSize)
	}

	later := testNow.Add(48 * time.Hour)
	e.clock = func() time.Time { return later }
	second, err := e.Save(ctx, "frequent", "Frequent players", "10+ bookings", b.WithLogic(domain.LogicOR))
	if err != nil {
		t.Fatal(err)
	}
	if !second.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", second.CreatedAt, testNow)
	}
	if !second.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", second.UpdatedAt, later)
	}

	loaded, err := e.Load(ctx, "frequent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Logic() != domain.LogicOR || len(loaded.Filters()) != 2 {
		t.Fatalf("loaded builder: logic %s, %d filters", loaded.Logic(), len(loaded.Filters()))
	}
	users, err := e.Execute(ctx, loaded)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(users); !equalIDs(got, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("loaded segment returned %v", got)
	}

	if _, err := e.Load(ctx, "missing"); !errors.Is(err, domain.ErrSegmentNotFound) {
		t.Errorf("Load missing err = %v", err)
	}
}

type failingStore struct {
	docstore.Store
	err error
}

func (f failingStore) Query(context.Context, string, docstore.Query) ([]docstore.Document, error) {
	return nil, f.err
}

func TestStoreFailureIsSegmentQueryError(t *testing.T) {
	boom := errors.New("unavailable")
	e := newTestEngine(t, failingStore{Store: docstore.NewMemoryStore(), err: boom})

	_, err := e.Execute(context.Background(), newTestBuilder().WhereRole("x").WithLogic(domain.LogicOR))
	var qerr *SegmentQueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("err = %v, want SegmentQueryError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("SegmentQueryError does not unwrap to the store error")
	}
}
