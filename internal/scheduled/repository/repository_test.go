package repository

import (
	"context"
	"testing"
	"time"

	notifdomain "clubnotify/internal/notification/domain"
	"clubnotify/internal/scheduled/domain"
	"clubnotify/pkg/docstore"
)

func TestDeleteTerminalNeverRemovesPending(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	repo := NewScheduledRepository(store).(*scheduledRepository)
	old := time.Now().Add(-30 * 24 * time.Hour)
	repo.clock = func() time.Time { return old }

	mk := func(to domain.Status) *domain.ScheduledNotification {
		n := &domain.ScheduledNotification{
			SendAt:  old,
			UserIDs: []string{"u1"},
			Payload: notifdomain.Payload{Title: "t", Body: "b"},
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
		if to != domain.StatusPending {
			if ok, err := repo.Transition(ctx, n, to); !ok || err != nil {
				t.Fatalf("transition to %s: %v %v", to, ok, err)
			}
		}
		return n
	}
	pending := mk(domain.StatusPending)
	sent := mk(domain.StatusSent)
	failed := mk(domain.StatusFailed)
	cancelled := mk(domain.StatusCancelled)

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	ids, err := repo.FindTerminalBefore(ctx, cutoff, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("found %v, want the three terminal notifications", ids)
	}

	// Including the pending ID must not delete it.
	n, err := repo.DeleteTerminal(ctx, append(ids, pending.ID))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	for _, id := range []string{sent.ID, failed.ID, cancelled.ID} {
		if got, _ := repo.FindByID(ctx, id); got != nil {
			t.Errorf("%s survived", id)
		}
	}
	if got, _ := repo.FindByID(ctx, pending.ID); got == nil || got.Status != domain.StatusPending {
		t.Errorf("pending notification was touched: %+v", got)
	}
}

func TestTransitionOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	repo := NewScheduledRepository(docstore.NewMemoryStore())
	n := &domain.ScheduledNotification{
		SendAt:    time.Now(),
		SegmentID: "all",
		Payload:   notifdomain.Payload{Title: "t", Body: "b"},
	}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatal(err)
	}
	if ok, err := repo.Transition(ctx, n, domain.StatusSent); !ok || err != nil {
		t.Fatalf("first transition: %v %v", ok, err)
	}
	if ok, err := repo.Transition(ctx, n, domain.StatusCancelled); ok || err != nil {
		t.Errorf("second transition = %v, %v; want false, nil", ok, err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewScheduledRepository(docstore.NewMemoryStore())
	n := &domain.ScheduledNotification{
		SendAt:  time.Now(),
		UserIDs: []string{"u1"},
		Payload: notifdomain.Payload{Title: "t", Body: "b"},
	}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatal(err)
	}

	// Completing before claiming is refused.
	if ok, err := repo.Complete(ctx, n, domain.StatusSent); ok || err != nil {
		t.Fatalf("complete unclaimed: %v %v", ok, err)
	}
	if ok, err := repo.Claim(ctx, n); !ok || err != nil {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	other, _ := repo.FindByID(ctx, n.ID)
	if ok, err := repo.Claim(ctx, other); ok || err != nil {
		t.Errorf("second claim: %v %v", ok, err)
	}
	// A claimed notification can no longer be cancelled.
	if ok, err := repo.Transition(ctx, other, domain.StatusCancelled); ok || err != nil {
		t.Errorf("cancel claimed: %v %v", ok, err)
	}
	if _, err := repo.Complete(ctx, n, domain.StatusProcessing); err == nil {
		t.Error("completing into a non-final status should fail")
	}
	if ok, err := repo.Complete(ctx, n, domain.StatusSent); !ok || err != nil {
		t.Errorf("complete: %v %v", ok, err)
	}
}
