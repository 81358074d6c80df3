package supervisor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeServer struct {
	listenErr error
	stop      chan struct{}
	shutdown  bool
}

func (s *fakeServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shutdown = true
	close(s.stop)
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if !srv.shutdown {
		t.Error("Shutdown was not called")
	}
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	srv := &fakeServer{listenErr: errors.New("address in use"), stop: make(chan struct{})}
	if err := NewHTTPService(srv, time.Second).Serve(context.Background()); err == nil {
		t.Error("expected listen error")
	}
}
