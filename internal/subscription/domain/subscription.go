package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"clubnotify/pkg/docstore"
)

// Collection is the document store collection holding subscriptions.
const Collection = "notificationSubscriptions"

type Channel string

const (
	ChannelNativePush Channel = "native-push"
	ChannelWebPush    Channel = "web-push"
	ChannelEmail      Channel = "email"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelNativePush, ChannelWebPush, ChannelEmail:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// InactiveReason records which path deactivated a subscription.
type InactiveReason string

const (
	// ReasonDeliveryFailure is set when a provider reported the endpoint as
	// permanently unreachable.
	ReasonDeliveryFailure InactiveReason = "delivery_failure"
	// ReasonStale is set by the retention sweep for long-unused endpoints.
	ReasonStale InactiveReason = "stale"
	// ReasonUnregistered is set when the owner removed the endpoint.
	ReasonUnregistered InactiveReason = "unregistered"
)

var ErrMalformed = errors.New("malformed subscription")

// Endpoint is the channel-specific address of a subscription. It is one of
// NativeEndpoint, WebEndpoint or EmailEndpoint.
type Endpoint interface {
	Channel() Channel
	// Key identifies the endpoint within its channel.
	Key() string
	validate() error
}

type NativeEndpoint struct {
	Token    string
	Platform Platform
}

func (NativeEndpoint) Channel() Channel { return ChannelNativePush }
func (e NativeEndpoint) Key() string    { return e.Token }
func (e NativeEndpoint) validate() error {
	if e.Token == "" {
		return fmt.Errorf("%w: native push token is empty", ErrMalformed)
	}
	if e.Platform != PlatformAndroid && e.Platform != PlatformIOS && e.Platform != PlatformWeb {
		return fmt.Errorf("%w: unknown native platform %q", ErrMalformed, e.Platform)
	}
	return nil
}

// WebEndpoint is a browser PushSubscription.
type WebEndpoint struct {
	URL    string
	P256dh string
	Auth   string
}

func (WebEndpoint) Channel() Channel { return ChannelWebPush }
func (e WebEndpoint) Key() string    { return e.URL }
func (e WebEndpoint) validate() error {
	if e.URL == "" || e.P256dh == "" || e.Auth == "" {
		return fmt.Errorf("%w: web push subscription needs endpoint, p256dh and auth", ErrMalformed)
	}
	return nil
}

type EmailEndpoint struct {
	Address string
}

func (EmailEndpoint) Channel() Channel { return ChannelEmail }
func (e EmailEndpoint) Key() string    { return e.Address }
func (e EmailEndpoint) validate() error {
	if e.Address == "" {
		return fmt.Errorf("%w: email address is empty", ErrMalformed)
	}
	return nil
}

// Subscription is one registered delivery endpoint for one user.
type Subscription struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Endpoint       Endpoint       `json:"-"`
	Status         Status         `json:"status"`
	LastUsedAt     time.Time      `json:"last_used_at"`
	CreatedAt      time.Time      `json:"created_at"`
	InactivatedAt  *time.Time     `json:"inactivated_at,omitempty"`
	InactiveReason InactiveReason `json:"inactive_reason,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	LastErrorAt    *time.Time     `json:"last_error_at,omitempty"`
}

func (s *Subscription) Channel() Channel { return s.Endpoint.Channel() }

// Platform is meaningful for native push; web push is always "web" and
// email has none.
func (s *Subscription) Platform() Platform {
	switch e := s.Endpoint.(type) {
	case NativeEndpoint:
		return e.Platform
	case WebEndpoint:
		return PlatformWeb
	}
	return ""
}

func (s *Subscription) IsActive() bool { return s.Status == StatusActive }

// Validate checks the owner and endpoint.
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: user id is empty", ErrMalformed)
	}
	if s.Endpoint == nil {
		return fmt.Errorf("%w: endpoint is missing", ErrMalformed)
	}
	return s.Endpoint.validate()
}

// Owner pairs a subscription with the user it belongs to.
type Owner struct {
	SubscriptionID string
	UserID         string
}

// DocumentID derives a stable ID from owner, channel and endpoint so that
// re-registering the same device updates the existing document.
func DocumentID(userID string, e Endpoint) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + string(e.Channel()) + "\x00" + e.Key()))
	return hex.EncodeToString(sum[:16])
}

// ToDocument flattens the subscription for storage.
func (s *Subscription) ToDocument() map[string]any {
	doc := map[string]any{
		"userId":     s.UserID,
		"channel":    string(s.Channel()),
		"status":     string(s.Status),
		"lastUsedAt": s.LastUsedAt,
		"createdAt":  s.CreatedAt,
	}
	switch e := s.Endpoint.(type) {
	case NativeEndpoint:
		doc["platform"] = string(e.Platform)
		doc["token"] = e.Token
	case WebEndpoint:
		doc["platform"] = string(PlatformWeb)
		doc["endpoint"] = e.URL
		doc["keys"] = map[string]any{"p256dh": e.P256dh, "auth": e.Auth}
	case EmailEndpoint:
		doc["email"] = e.Address
	}
	if s.InactivatedAt != nil {
		doc["inactivatedAt"] = *s.InactivatedAt
	}
	if s.InactiveReason != "" {
		doc["inactiveReason"] = string(s.InactiveReason)
	}
	if s.LastError != "" {
		doc["lastError"] = s.LastError
	}
	if s.LastErrorAt != nil {
		doc["lastErrorAt"] = *s.LastErrorAt
	}
	return doc
}

// FromDocument rebuilds the typed endpoint from a stored document. Documents
// whose channel fields do not form a valid endpoint are rejected.
func FromDocument(d docstore.Document) (*Subscription, error) {
	data := d.Data
	s := &Subscription{
		ID:             d.ID,
		UserID:         docstore.AsString(data["userId"]),
		Status:         Status(docstore.AsString(data["status"])),
		InactivatedAt:  docstore.TimeField(data, "inactivatedAt"),
		InactiveReason: InactiveReason(docstore.AsString(data["inactiveReason"])),
		LastError:      docstore.AsString(data["lastError"]),
		LastErrorAt:    docstore.TimeField(data, "lastErrorAt"),
	}
	if t := docstore.TimeField(data, "lastUsedAt"); t != nil {
		s.LastUsedAt = *t
	}
	if t := docstore.TimeField(data, "createdAt"); t != nil {
		s.CreatedAt = *t
	}

	switch Channel(docstore.AsString(data["channel"])) {
	case ChannelNativePush:
		s.Endpoint = NativeEndpoint{
			Token:    docstore.AsString(data["token"]),
			Platform: Platform(docstore.AsString(data["platform"])),
		}
	case ChannelWebPush:
		keys := docstore.AsMap(data["keys"])
		s.Endpoint = WebEndpoint{
			URL:    docstore.AsString(data["endpoint"]),
			P256dh: docstore.AsString(keys["p256dh"]),
			Auth:   docstore.AsString(keys["auth"]),
		}
	case ChannelEmail:
		s.Endpoint = EmailEndpoint{Address: docstore.AsString(data["email"])}
	default:
		return nil, fmt.Errorf("%w: document %s has unknown channel %v", ErrMalformed, d.ID, data["channel"])
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID, err)
	}
	return s, nil
}
