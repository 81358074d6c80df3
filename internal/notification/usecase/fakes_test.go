package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"clubnotify/internal/notification/channel"
	"clubnotify/internal/notification/domain"
	"clubnotify/internal/notification/repository"
	subdomain "clubnotify/internal/subscription/domain"
	subrepo "clubnotify/internal/subscription/repository"
	"clubnotify/pkg/docstore"
	"clubnotify/pkg/fcm"
	"clubnotify/pkg/mailer"
	"clubnotify/pkg/webpush"
)

// fakePush fails tokens listed in codes with that error code.
type fakePush struct {
	mu      sync.Mutex
	codes   map[string]string
	batches []int
}

func (f *fakePush) SendBatch(_ context.Context, msgs []fcm.Message) ([]fcm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, len(msgs))
	out := make([]fcm.Response, len(msgs))
	for i, m := range msgs {
		if code, ok := f.codes[m.Token]; ok {
			out[i] = fcm.Response{ErrorCode: code, ErrorMessage: "failed: " + code}
			continue
		}
		out[i] = fcm.Response{Success: true, MessageID: "msg-" + m.Token}
	}
	return out, nil
}

func (f *fakePush) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeWeb answers with the status configured per endpoint, 201 otherwise.
type fakeWeb struct {
	mu     sync.Mutex
	status map[string]int
	sent   int
}

func (f *fakeWeb) Send(_ context.Context, sub webpush.Subscription, _ []byte, _ bool) (webpush.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	if code, ok := f.status[sub.Endpoint]; ok {
		return webpush.Response{StatusCode: code}, nil
	}
	return webpush.Response{StatusCode: 201}, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	fail bool
	sent []mailer.Message
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) (mailer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return mailer.Result{}, errors.New("smtp: 451 try again later")
	}
	f.sent = append(f.sent, msg)
	return mailer.Result{Service: "fake", Attempt: 1}, nil
}

type countingTracker struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
}

func (c *countingTracker) Track(ev domain.AnalyticsEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

// countingRepo counts effective deactivations and lookups.
type countingRepo struct {
	subrepo.SubscriptionRepository
	mu          sync.Mutex
	deactivated int
	lookups     int
}

func (r *countingRepo) Deactivate(ctx context.Context, id string, reason subdomain.InactiveReason, lastError string) (bool, error) {
	changed, err := r.SubscriptionRepository.Deactivate(ctx, id, reason, lastError)
	r.mu.Lock()
	defer r.mu.Unlock()
	if changed {
		r.deactivated++
	}
	return changed, err
}

func (r *countingRepo) ListActiveByUsers(ctx context.Context, ids []string) ([]*subdomain.Subscription, error) {
	r.mu.Lock()
	r.lookups++
	r.mu.Unlock()
	return r.SubscriptionRepository.ListActiveByUsers(ctx, ids)
}

type fixture struct {
	store   *docstore.MemoryStore
	subs    *countingRepo
	push    *fakePush
	web     *fakeWeb
	mail    *fakeMailer
	tracker *countingTracker
	cascade Cascade
	bulk    BulkDispatcher
}

func newFixture(t *testing.T, extra ...channel.Sender) *fixture {
	t.Helper()
	f := &fixture{
		store:   docstore.NewMemoryStore(),
		push:    &fakePush{codes: map[string]string{}},
		web:     &fakeWeb{status: map[string]int{}},
		mail:    &fakeMailer{},
		tracker: &countingTracker{},
	}
	f.subs = &countingRepo{SubscriptionRepository: subrepo.NewSubscriptionRepository(f.store, zerolog.Nop())}

	senders := []channel.Sender{
		channel.NewNativeSender(f.push, 0, zerolog.Nop()),
		channel.NewWebSender(f.web, zerolog.Nop()),
		channel.NewEmailSender(f.mail, zerolog.Nop()),
	}
	// later senders replace earlier ones for the same channel
	senders = append(senders, extra...)

	rec := NewRecorder(repository.NewDeliveryLogRepository(f.store), f.tracker, zerolog.Nop())
	c, err := NewCascade(f.subs, senders, rec, CascadeConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCascade: %v", err)
	}
	f.cascade = c
	f.bulk = NewBulkDispatcher(f.subs, c, nil, BulkConfig{}, zerolog.Nop())
	return f
}

func (f *fixture) register(t *testing.T, userID string, e subdomain.Endpoint) *subdomain.Subscription {
	t.Helper()
	s, err := f.subs.Register(context.Background(), &subdomain.Subscription{UserID: userID, Endpoint: e})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return s
}

func (f *fixture) status(t *testing.T, id string) subdomain.Status {
	t.Helper()
	s, err := f.subs.Get(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("Get %s: %v, %v", id, s, err)
	}
	return s.Status
}

func native(token string) subdomain.Endpoint {
	return subdomain.NativeEndpoint{Token: token, Platform: subdomain.PlatformAndroid}
}

func web(url string) subdomain.Endpoint {
	return subdomain.WebEndpoint{URL: url, P256dh: "BPk", Auth: "auth"}
}

func email(addr string) subdomain.Endpoint {
	return subdomain.EmailEndpoint{Address: addr}
}

var testPayload = domain.Payload{Title: "T", Body: "B"}
