package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	notifdomain "clubnotify/internal/notification/domain"
	"clubnotify/internal/scheduled/domain"
	"clubnotify/internal/scheduled/repository"
	"clubnotify/pkg/docstore"
)

func newUsecase(now time.Time) *scheduledUsecase {
	uc := NewScheduledUsecase(repository.NewScheduledRepository(docstore.NewMemoryStore()), zerolog.Nop()).(*scheduledUsecase)
	uc.clock = func() time.Time { return now }
	return uc
}

func TestScheduleValidates(t *testing.T) {
	now := time.Now()
	payload := notifdomain.Payload{Title: "Court booked", Body: "See you at 18:00"}

	tests := []struct {
		name string
		n    domain.ScheduledNotification
	}{
		{"no target", domain.ScheduledNotification{SendAt: now.Add(time.Hour), Payload: payload}},
		{"both targets", domain.ScheduledNotification{SendAt: now.Add(time.Hour), UserIDs: []string{"u1"}, SegmentID: "s1", Payload: payload}},
		{"missing send_at", domain.ScheduledNotification{UserIDs: []string{"u1"}, Payload: payload}},
		{"in the past", domain.ScheduledNotification{SendAt: now.Add(-time.Hour), UserIDs: []string{"u1"}, Payload: payload}},
		{"empty payload", domain.ScheduledNotification{SendAt: now.Add(time.Hour), UserIDs: []string{"u1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := newUsecase(now)
			n := tt.n
			if _, err := uc.Schedule(context.Background(), &n); !errors.Is(err, notifdomain.ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestScheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	uc := newUsecase(time.Now())

	created, err := uc.Schedule(ctx, &domain.ScheduledNotification{
		SendAt:    time.Now().Add(time.Hour),
		SegmentID: "weekend-players",
		Payload:   notifdomain.Payload{Title: "Tournament", Body: "Sign-ups open"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Status != domain.StatusPending {
		t.Fatalf("created = %+v", created)
	}

	cancelled, err := uc.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.StatusCancelled || cancelled.CompletedAt == nil {
		t.Errorf("cancelled = %+v", cancelled)
	}

	if _, err := uc.Cancel(ctx, created.ID); !errors.Is(err, domain.ErrNotPending) {
		t.Errorf("second cancel err = %v, want ErrNotPending", err)
	}
	if _, err := uc.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing cancel err = %v, want ErrNotFound", err)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	uc := newUsecase(time.Now())
	if _, err := uc.List(context.Background(), "archived", 10); !errors.Is(err, notifdomain.ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	items, err := uc.List(context.Background(), "", 0)
	if err != nil || len(items) != 0 {
		t.Errorf("List = %v, %v", items, err)
	}
}
