package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"clubnotify/internal/notification/domain"
	"clubnotify/internal/notification/usecase"
	segdomain "clubnotify/internal/segment/domain"
	subdomain "clubnotify/internal/subscription/domain"
)

type stubCascade struct {
	usecase.Cascade
	users []string
	opts  usecase.Options
	err   error
}

func (s *stubCascade) SendToUser(_ context.Context, userID string, _ domain.Payload, opts usecase.Options) (*domain.DeliveryResult, error) {
	s.users = append(s.users, userID)
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &domain.DeliveryResult{Aggregate: domain.NewAggregate(), UserID: userID}, nil
}

type stubBulk struct {
	bulkCalls    [][]string
	segmentCalls []string
	err          error
}

func (s *stubBulk) SendBulk(_ context.Context, ids []string, _ domain.Payload) (*domain.BulkResult, error) {
	s.bulkCalls = append(s.bulkCalls, ids)
	return &domain.BulkResult{Aggregate: domain.NewAggregate(), Recipients: len(ids)}, s.err
}

func (s *stubBulk) SendToSegment(_ context.Context, id string, _ domain.Payload) (*domain.BulkResult, error) {
	s.segmentCalls = append(s.segmentCalls, id)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.BulkResult{Aggregate: domain.NewAggregate()}, nil
}

func TestRouterRoutesByTarget(t *testing.T) {
	c := &stubCascade{}
	b := &stubBulk{}
	r := NewRouter(c, b, zerolog.Nop())
	ctx := context.Background()

	msgs := []string{
		`{"target":"user","user_id":"u1","channels":["email"],"payload":{"title":"Reminder","body":"Court 3 at 18:00"}}`,
		`{"target":"users","user_ids":["u1","u2"],"payload":{"title":"Closed","body":"Club closed tomorrow"}}`,
		`{"target":"segment","segment_id":"frequent","payload":{"title":"Promo","body":"New season"}}`,
	}
	for _, m := range msgs {
		if err := r.Handle(ctx, []byte(m)); err != nil {
			t.Fatalf("Handle(%s): %v", m, err)
		}
	}
	if len(c.users) != 1 || c.users[0] != "u1" {
		t.Errorf("cascade calls = %v", c.users)
	}
	if len(c.opts.Channels) != 1 || c.opts.Channels[0] != subdomain.ChannelEmail {
		t.Errorf("channels = %v", c.opts.Channels)
	}
	if len(b.bulkCalls) != 1 || len(b.bulkCalls[0]) != 2 {
		t.Errorf("bulk calls = %v", b.bulkCalls)
	}
	if len(b.segmentCalls) != 1 || b.segmentCalls[0] != "frequent" {
		t.Errorf("segment calls = %v", b.segmentCalls)
	}
}

func TestRouterClassifiesErrors(t *testing.T) {
	tests := []struct {
		name        string
		msg         string
		cascadeErr  error
		bulkErr     error
		wantInvalid bool
	}{
		{name: "not json", msg: `{`, wantInvalid: true},
		{name: "unknown target", msg: `{"target":"club","payload":{"title":"T","body":"B"}}`, wantInvalid: true},
		{name: "missing user", msg: `{"target":"user","payload":{"title":"T","body":"B"}}`, wantInvalid: true},
		{name: "missing body", msg: `{"target":"user","user_id":"u1","payload":{"title":"T"}}`, wantInvalid: true},
		{name: "bad channel", msg: `{"target":"user","user_id":"u1","channels":["sms"],"payload":{"title":"T","body":"B"}}`, wantInvalid: true},
		{
			name:        "unknown segment",
			msg:         `{"target":"segment","segment_id":"gone","payload":{"title":"T","body":"B"}}`,
			bulkErr:     segdomain.ErrSegmentNotFound,
			wantInvalid: true,
		},
		{
			name:       "store outage",
			msg:        `{"target":"user","user_id":"u1","payload":{"title":"T","body":"B"}}`,
			cascadeErr: errors.New("firestore unavailable"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&stubCascade{err: tt.cascadeErr}, &stubBulk{err: tt.bulkErr}, zerolog.Nop())
			err := r.Handle(context.Background(), []byte(tt.msg))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrInvalidMessage); got != tt.wantInvalid {
				t.Errorf("invalid = %v, want %v (err %v)", got, tt.wantInvalid, err)
			}
		})
	}
}

func TestRouterSkipsRedeliveries(t *testing.T) {
	c := &stubCascade{}
	r := NewRouter(c, &stubBulk{}, zerolog.Nop())
	msg := []byte(`{"request_id":"req-1","target":"user","user_id":"u1","payload":{"title":"T","body":"B"}}`)
	for i := 0; i < 3; i++ {
		if err := r.Handle(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	if len(c.users) != 1 {
		t.Errorf("delivered %d times, want 1", len(c.users))
	}
}
