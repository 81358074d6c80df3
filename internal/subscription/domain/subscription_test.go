package domain

import (
	"errors"
	"testing"
	"time"

	"clubnotify/pkg/docstore"
)

func TestDocumentRoundTripKeepsVariant(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	subs := []*Subscription{
		{UserID: "u1", Endpoint: NativeEndpoint{Token: "t", Platform: PlatformIOS}, Status: StatusActive, CreatedAt: now, LastUsedAt: now},
		{UserID: "u1", Endpoint: WebEndpoint{URL: "https://push.example/x", P256dh: "p", Auth: "a"}, Status: StatusActive, CreatedAt: now, LastUsedAt: now},
		{UserID: "u1", Endpoint: EmailEndpoint{Address: "u1@example.com"}, Status: StatusInactive, CreatedAt: now, LastUsedAt: now},
	}
	for _, s := range subs {
		got, err := FromDocument(docstore.Document{ID: "id", Data: s.ToDocument()})
		if err != nil {
			t.Fatalf("%s: %v", s.Channel(), err)
		}
		if got.Endpoint != s.Endpoint {
			t.Errorf("%s: endpoint %+v, want %+v", s.Channel(), got.Endpoint, s.Endpoint)
		}
		if got.Status != s.Status {
			t.Errorf("%s: status %s", s.Channel(), got.Status)
		}
	}
}

func TestFromDocumentRejectsMalformed(t *testing.T) {
	for name, data := range map[string]map[string]any{
		"unknown channel":  {"userId": "u1", "channel": "sms"},
		"web without keys": {"userId": "u1", "channel": "web-push", "endpoint": "https://x"},
		"native no token":  {"userId": "u1", "channel": "native-push", "platform": "ios"},
		"no owner":         {"channel": "email", "email": "a@b.c"},
	} {
		if _, err := FromDocument(docstore.Document{ID: "x", Data: data}); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: got %v, want ErrMalformed", name, err)
		}
	}
}

func TestDocumentIDStable(t *testing.T) {
	a := DocumentID("u1", EmailEndpoint{Address: "a@example.com"})
	b := DocumentID("u1", EmailEndpoint{Address: "a@example.com"})
	c := DocumentID("u2", EmailEndpoint{Address: "a@example.com"})
	if a != b || a == c {
		t.Errorf("DocumentID not stable per owner and endpoint: %s %s %s", a, b, c)
	}
}
