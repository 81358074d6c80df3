package fcm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func TestBuildMessagePlatforms(t *testing.T) {
	base := Message{Token: "tok", Title: "Match tomorrow", Body: "Court 3 at 18:00", Data: map[string]string{"k": "v"}}

	android := base
	android.Platform = "android"
	m := BuildMessage(android)
	if m.Android == nil || m.Android.Priority != "high" {
		t.Fatalf("android config missing or not high priority: %+v", m.Android)
	}
	if m.Android.Notification.ChannelID != "default" || m.Android.Notification.Sound != "default" {
		t.Errorf("android notification = %+v", m.Android.Notification)
	}
	if m.APNS != nil {
		t.Error("android message should not carry APNs config")
	}

	ios := base
	ios.Platform = "ios"
	m = BuildMessage(ios)
	if m.APNS == nil || m.APNS.Payload == nil || m.APNS.Payload.Aps == nil {
		t.Fatal("ios message missing APNs payload")
	}
	aps := m.APNS.Payload.Aps
	if aps.Alert.Title != base.Title || aps.Alert.Body != base.Body {
		t.Errorf("alert = %+v", aps.Alert)
	}
	if aps.Sound != "default" || aps.Badge == nil || *aps.Badge != 1 {
		t.Errorf("aps sound/badge = %q/%v", aps.Sound, aps.Badge)
	}

	if m.Token != "tok" || m.Data["k"] != "v" {
		t.Errorf("token or data lost: %+v", m)
	}
}

func TestIsTerminal(t *testing.T) {
	for code, want := range map[string]bool{
		CodeTokenNotRegistered: true,
		CodeInvalidToken:       true,
		CodeInvalidArgument:    false,
		CodeUnavailable:        false,
		CodeQuotaExceeded:      false,
		"":                     false,
	} {
		if got := IsTerminal(code); got != want {
			t.Errorf("IsTerminal(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestErrorCodeNil(t *testing.T) {
	if ErrorCode(nil) != "" {
		t.Error("nil error should map to empty code")
	}
}

func fcmError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, `{"error":{"status":"`+code+`","message":"`+message+`","details":[`+
		`{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"`+code+`"}]}}`)
}

func TestSendBatchClassifiesProviderErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := string(body)
		switch {
		case strings.Contains(req, "gone-device"):
			fcmError(w, http.StatusNotFound, "UNREGISTERED", "Requested entity was not found.")
		case strings.Contains(req, "garbled-token"):
			fcmError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "The registration token is not a valid FCM registration token")
		case strings.Contains(req, `"from"`):
			fcmError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid data payload key: from")
		default:
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"name":"projects/club-test/messages/1"}`)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: "club-test"},
		option.WithEndpoint(ts.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewClient(ctx, app, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		msg      Message
		code     string
		terminal bool
	}{
		{"delivered", Message{Token: "healthy-device", Platform: "android", Title: "t", Body: "b"}, "", false},
		{"unregistered", Message{Token: "gone-device", Platform: "android", Title: "t", Body: "b"}, CodeTokenNotRegistered, true},
		{"malformed token", Message{Token: "garbled-token", Platform: "ios", Title: "t", Body: "b"}, CodeInvalidToken, true},
		{"rejected payload", Message{Token: "healthy-device", Platform: "android", Title: "t", Body: "b",
			Data: map[string]string{"from": "club"}}, CodeInvalidArgument, false},
	}
	msgs := make([]Message, len(tests))
	for i, tt := range tests {
		msgs[i] = tt.msg
	}
	resps, err := client.SendBatch(ctx, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != len(tests) {
		t.Fatalf("got %d responses, want %d", len(resps), len(tests))
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resps[i]
			if r.Success != (tt.code == "") {
				t.Fatalf("response = %+v", r)
			}
			if r.ErrorCode != tt.code {
				t.Errorf("code = %q, want %q", r.ErrorCode, tt.code)
			}
			if IsTerminal(r.ErrorCode) != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", r.ErrorCode, !tt.terminal, tt.terminal)
			}
		})
	}
}

func TestResponsesFillsMissingEntries(t *testing.T) {
	got := responses(3, []*messaging.SendResponse{
		{Success: true, MessageID: "m1"},
		{Success: false},
	})
	if !got[0].Success || got[0].MessageID != "m1" {
		t.Errorf("first = %+v", got[0])
	}
	for _, r := range got[1:] {
		if r.Success || r.ErrorCode != CodeUnknown || r.ErrorMessage == "" {
			t.Errorf("missing result = %+v, want unknown failure with a message", r)
		}
		if IsTerminal(r.ErrorCode) {
			t.Errorf("unknown failure must not be terminal")
		}
	}
}
