package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	notifdomain "clubnotify/internal/notification/domain"
	"clubnotify/internal/scheduled/domain"
	"clubnotify/internal/scheduled/repository"
	"clubnotify/pkg/docstore"
	"clubnotify/pkg/lock"
)

type fakeBulk struct {
	users    [][]string
	segments []string
	result   *notifdomain.BulkResult
	err      error
}

func (f *fakeBulk) SendBulk(_ context.Context, userIDs []string, _ notifdomain.Payload) (*notifdomain.BulkResult, error) {
	f.users = append(f.users, userIDs)
	return f.result, f.err
}

func (f *fakeBulk) SendToSegment(_ context.Context, segmentID string, _ notifdomain.Payload) (*notifdomain.BulkResult, error) {
	f.segments = append(f.segments, segmentID)
	return f.result, f.err
}

func okResult(n int) *notifdomain.BulkResult {
	return &notifdomain.BulkResult{
		Aggregate:  notifdomain.Aggregate{Total: n, Successful: n},
		Recipients: n,
	}
}

func schedule(t *testing.T, repo repository.ScheduledRepository, sendAt time.Time, userIDs []string, segmentID string) *domain.ScheduledNotification {
	t.Helper()
	n := &domain.ScheduledNotification{
		SendAt:    sendAt,
		UserIDs:   userIDs,
		SegmentID: segmentID,
		Payload:   notifdomain.Payload{Title: "Court maintenance", Body: "Court 2 closes at 18:00"},
	}
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	return n
}

func status(t *testing.T, repo repository.ScheduledRepository, id string) domain.Status {
	t.Helper()
	n, err := repo.FindByID(context.Background(), id)
	if err != nil || n == nil {
		t.Fatalf("FindByID(%s) = %v, %v", id, n, err)
	}
	return n.Status
}

func TestRunOnceDispatchesOnlyDue(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &fakeBulk{result: okResult(2)}
	d := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())

	now := time.Now()
	due := schedule(t, repo, now.Add(-time.Minute), []string{"u1", "u2"}, "")
	seg := schedule(t, repo, now.Add(-30*time.Second), nil, "juniors")
	later := schedule(t, repo, now.Add(time.Hour), []string{"u3"}, "")

	if got := d.RunOnce(context.Background()); got != 2 {
		t.Fatalf("processed = %d, want 2", got)
	}
	if len(bulk.users) != 1 || len(bulk.segments) != 1 || bulk.segments[0] != "juniors" {
		t.Errorf("sends: users=%v segments=%v", bulk.users, bulk.segments)
	}
	if s := status(t, repo, due.ID); s != domain.StatusSent {
		t.Errorf("due status = %s", s)
	}
	if s := status(t, repo, seg.ID); s != domain.StatusSent {
		t.Errorf("segment status = %s", s)
	}
	if s := status(t, repo, later.ID); s != domain.StatusPending {
		t.Errorf("future status = %s", s)
	}

	if got := d.RunOnce(context.Background()); got != 0 {
		t.Errorf("second run processed %d", got)
	}
}

func TestRunOnceMarksFailures(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &fakeBulk{err: errors.New("store unavailable")}
	d := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())

	n := schedule(t, repo, time.Now().Add(-time.Minute), []string{"u1"}, "")
	d.RunOnce(context.Background())

	got, _ := repo.FindByID(context.Background(), n.ID)
	if got.Status != domain.StatusFailed || got.LastError == "" || got.CompletedAt == nil {
		t.Errorf("got %+v", got)
	}
}

func TestRunOnceAllAttemptsFailed(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &fakeBulk{result: &notifdomain.BulkResult{Aggregate: notifdomain.Aggregate{Total: 2, Failed: 2}, Recipients: 2}}
	d := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())

	n := schedule(t, repo, time.Now().Add(-time.Minute), []string{"u1"}, "")
	d.RunOnce(context.Background())

	if s := status(t, repo, n.ID); s != domain.StatusFailed {
		t.Errorf("status = %s, want failed", s)
	}
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &fakeBulk{result: okResult(1)}
	locker := lock.NewMemoryLocker()
	d := NewDispatcher(repo, bulk, locker, time.Minute, 10, zerolog.Nop())

	schedule(t, repo, time.Now().Add(-time.Minute), []string{"u1"}, "")
	h, err := locker.Acquire(context.Background(), lockName, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(context.Background())

	if got := d.RunOnce(context.Background()); got != 0 || len(bulk.users) != 0 {
		t.Errorf("ran while locked: processed=%d sends=%d", got, len(bulk.users))
	}
}

func TestCancelledBeforeDispatchIsSkipped(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &fakeBulk{result: okResult(1)}
	d := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())

	n := schedule(t, repo, time.Now().Add(-time.Minute), []string{"u1"}, "")
	if ok, err := repo.Transition(context.Background(), n, domain.StatusCancelled); !ok || err != nil {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	if got := d.RunOnce(context.Background()); got != 0 || len(bulk.users) != 0 {
		t.Errorf("cancelled notification was sent")
	}
}

// gatedBulk blocks every send until release is closed.
type gatedBulk struct {
	mu      sync.Mutex
	sends   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBulk) SendBulk(_ context.Context, userIDs []string, _ notifdomain.Payload) (*notifdomain.BulkResult, error) {
	g.mu.Lock()
	g.sends++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return okResult(len(userIDs)), nil
}

func (g *gatedBulk) SendToSegment(ctx context.Context, _ string, p notifdomain.Payload) (*notifdomain.BulkResult, error) {
	return g.SendBulk(ctx, nil, p)
}

func TestOverlappingDispatchersSendOnce(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &gatedBulk{entered: make(chan struct{}, 1), release: make(chan struct{})}
	// Separate lockers stand in for a dispatch lock that expired while the
	// first run was still sending.
	first := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())
	second := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())

	n := schedule(t, repo, time.Now().Add(-time.Minute), []string{"u1", "u2"}, "")

	done := make(chan int)
	go func() { done <- first.RunOnce(context.Background()) }()
	<-bulk.entered

	if s := status(t, repo, n.ID); s != domain.StatusProcessing {
		t.Errorf("status while sending = %s, want processing", s)
	}
	if got := second.RunOnce(context.Background()); got != 0 {
		t.Errorf("second dispatcher processed %d", got)
	}

	close(bulk.release)
	if got := <-done; got != 1 {
		t.Errorf("first dispatcher processed %d, want 1", got)
	}
	if bulk.sends != 1 {
		t.Errorf("sends = %d, want 1", bulk.sends)
	}
	if s := status(t, repo, n.ID); s != domain.StatusSent {
		t.Errorf("final status = %s, want sent", s)
	}
}

func TestStaleClaimsFailWithoutResend(t *testing.T) {
	repo := repository.NewScheduledRepository(docstore.NewMemoryStore())
	bulk := &fakeBulk{result: okResult(1)}
	d := NewDispatcher(repo, bulk, lock.NewMemoryLocker(), time.Minute, 10, zerolog.Nop())

	n := schedule(t, repo, time.Now().Add(-time.Minute), []string{"u1"}, "")
	if ok, err := repo.Claim(context.Background(), n); !ok || err != nil {
		t.Fatalf("claim: %v %v", ok, err)
	}

	// Still within the stale window: left alone.
	if got := d.RunOnce(context.Background()); got != 0 {
		t.Errorf("processed %d claimed notifications", got)
	}
	if s := status(t, repo, n.ID); s != domain.StatusProcessing {
		t.Errorf("status = %s, want processing", s)
	}

	d.clock = func() time.Time { return time.Now().Add(d.staleAfter + time.Minute) }
	d.RunOnce(context.Background())

	got, _ := repo.FindByID(context.Background(), n.ID)
	if got.Status != domain.StatusFailed || got.LastError == "" {
		t.Errorf("stale claim = %+v, want failed with an error", got)
	}
	if len(bulk.users) != 0 {
		t.Errorf("stale claim was re-sent: %v", bulk.users)
	}
}
