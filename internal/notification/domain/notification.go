package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	subdomain "clubnotify/internal/subscription/domain"
)

const (
	DeliveryLogCollection = "notificationDeliveryLogs"
	AnalyticsCollection   = "notificationAnalytics"
)

// ErrInvalidRequest is returned before any I/O for malformed sends.
var ErrInvalidRequest = errors.New("invalid notification request")

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

type Category string

const (
	CategoryTransactional Category = "transactional"
	CategoryCritical      Category = "critical"
	CategoryPromotional   Category = "promotional"
	CategorySocial        Category = "social"
)

// Payload is the content of one notification. It is not stored on its own;
// NotificationID correlates the delivery logs and analytics it produces.
type Payload struct {
	NotificationID string            `json:"notification_id,omitempty"`
	Title          string            `json:"title" validate:"required,max=200"`
	Body           string            `json:"body" validate:"required,max=4000"`
	Data           map[string]string `json:"data,omitempty"`
	Priority       Priority          `json:"priority,omitempty" validate:"omitempty,oneof=normal critical"`
	Category       Category          `json:"category,omitempty" validate:"omitempty,oneof=transactional critical promotional social"`
	ClubID         string            `json:"club_id,omitempty"`
	ImageURL       string            `json:"image_url,omitempty" validate:"omitempty,url"`
	Icon           string            `json:"icon,omitempty"`
	Badge          string            `json:"badge,omitempty"`
	// HTML is used by the email channel when set; Body is the text part.
	HTML    string `json:"html,omitempty"`
	ReplyTo string `json:"reply_to,omitempty" validate:"omitempty,email"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and enumerations.
func (p *Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (p *Payload) IsCritical() bool {
	return p.Priority == PriorityCritical || p.Category == CategoryCritical
}

// Mode selects how a user's subscriptions are tried.
type Mode string

const (
	// ModeFanOut sends to every active subscription concurrently.
	ModeFanOut Mode = "fan-out"
	// ModeSequential tries channels in priority order and moves on only
	// when every attempt on the current channel failed.
	ModeSequential Mode = "sequential"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "", ModeFanOut, ModeSequential:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
}

// Outcome is the result of one attempt on one subscription.
type Outcome struct {
	SubscriptionID string            `json:"subscription_id"`
	UserID         string            `json:"user_id"`
	Channel        subdomain.Channel `json:"channel"`
	Success        bool              `json:"success"`
	// Terminal means the endpoint will never accept messages again.
	Terminal   bool   `json:"terminal,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

// ErrorEntry carries enough context to correlate a failure later.
// SubscriptionID is empty for failures that are not tied to one
// subscription, such as a lookup failure for a window of users.
type ErrorEntry struct {
	SubscriptionID string            `json:"subscription_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Channel        subdomain.Channel `json:"channel,omitempty"`
	Error          string            `json:"error"`
	Code           string            `json:"code,omitempty"`
	StatusCode     int               `json:"status_code,omitempty"`
}

// Aggregate sums the outcomes of a dispatch.
type Aggregate struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []ErrorEntry `json:"errors"`
	Details    []Outcome    `json:"details"`
}

func NewAggregate() Aggregate {
	return Aggregate{Errors: []ErrorEntry{}, Details: []Outcome{}}
}

func (a *Aggregate) Add(o Outcome) {
	a.Total++
	a.Details = append(a.Details, o)
	if o.Success {
		a.Successful++
		return
	}
	a.Failed++
	a.Errors = append(a.Errors, ErrorEntry{
		SubscriptionID: o.SubscriptionID,
		UserID:         o.UserID,
		Channel:        o.Channel,
		Error:          o.Error,
		Code:           o.ErrorCode,
		StatusCode:     o.StatusCode,
	})
}

func (a *Aggregate) Merge(other Aggregate) {
	a.Total += other.Total
	a.Successful += other.Successful
	a.Failed += other.Failed
	a.Errors = append(a.Errors, other.Errors...)
	a.Details = append(a.Details, other.Details...)
}

// DeliveryResult is the outcome of sending to one user.
type DeliveryResult struct {
	Aggregate
	UserID string `json:"user_id"`
	Mode   Mode   `json:"mode"`
	// Delivered is true when at least one subscription succeeded, or all
	// of them when the send required every channel.
	Delivered     bool                `json:"delivered"`
	ChannelsTried []subdomain.Channel `json:"channels_tried"`
}

// BulkResult aggregates a send to many users. Details are not ordered by
// recipient.
type BulkResult struct {
	Aggregate
	Recipients int `json:"recipients"`
}

// DeliveryLog is one row per attempt on a subscription.
type DeliveryLog struct {
	ID             string            `json:"id,omitempty"`
	NotificationID string            `json:"notification_id,omitempty"`
	SubscriptionID string            `json:"subscription_id"`
	UserID         string            `json:"user_id"`
	Channel        subdomain.Channel `json:"channel"`
	Success        bool              `json:"success"`
	ErrorCode      string            `json:"error_code,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

func (l *DeliveryLog) ToDocument() map[string]any {
	doc := map[string]any{
		"subscriptionId": l.SubscriptionID,
		"userId":         l.UserID,
		"channel":        string(l.Channel),
		"success":        l.Success,
		"timestamp":      l.Timestamp,
	}
	if l.NotificationID != "" {
		doc["notificationId"] = l.NotificationID
	}
	if l.ErrorCode != "" {
		doc["errorCode"] = l.ErrorCode
	}
	return doc
}

type EventType string

const (
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventClicked   EventType = "clicked"
	EventFailed    EventType = "failed"
)

func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventSent, EventDelivered, EventClicked, EventFailed:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidRequest, s)
}

// AnalyticsEvent is one tracked lifecycle event.
type AnalyticsEvent struct {
	Type           EventType         `json:"type"`
	NotificationID string            `json:"notification_id,omitempty"`
	UserID         string            `json:"user_id"`
	ClubID         string            `json:"club_id,omitempty"`
	Channel        subdomain.Channel `json:"channel,omitempty"`
	// SubscriptionID is set for events produced by a delivery attempt, so
	// each device of a user counts on its own.
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DedupKey identifies repeats of the same event.
func (e *AnalyticsEvent) DedupKey() string {
	return string(e.Type) + "|" + e.NotificationID + "|" + e.UserID + "|" + string(e.Channel) + "|" + e.SubscriptionID
}

func (e *AnalyticsEvent) ToDocument() map[string]any {
	doc := map[string]any{
		"type":      string(e.Type),
		"userId":    e.UserID,
		"timestamp": e.Timestamp,
	}
	if e.NotificationID != "" {
		doc["notificationId"] = e.NotificationID
	}
	if e.ClubID != "" {
		doc["clubId"] = e.ClubID
	}
	if e.Channel != "" {
		doc["channel"] = string(e.Channel)
	}
	if e.SubscriptionID != "" {
		doc["subscriptionId"] = e.SubscriptionID
	}
	if len(e.Metadata) > 0 {
		meta := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		doc["metadata"] = meta
	}
	return doc
}
