package domain

import (
	"errors"
	"fmt"
	"time"

	notifdomain "clubnotify/internal/notification/domain"
	"clubnotify/pkg/docstore"
)

const Collection = "scheduledNotifications"

var (
	ErrNotFound = errors.New("scheduled notification not found")
	// ErrNotPending is returned when cancelling or dispatching something
	// that already left the pending state.
	ErrNotPending = errors.New("scheduled notification is not pending")
)

// Status represents the lifecycle of a scheduled notification
type Status string

const (
	StatusPending Status = "pending"
	// StatusProcessing marks a notification claimed by one dispatcher. No
	// other dispatcher sends it while it is in this state.
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// TerminalStatuses are the states retention may purge. Pending is never
// among them.
var TerminalStatuses = []Status{StatusSent, StatusFailed, StatusCancelled}

func (s Status) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// ScheduledNotification is a payload to be sent at SendAt to a list of
// users or a saved segment.
type ScheduledNotification struct {
	ID          string              `json:"id"`
	Status      Status              `json:"status"`
	SendAt      time.Time           `json:"send_at"`
	Payload     notifdomain.Payload `json:"payload"`
	UserIDs     []string            `json:"user_ids,omitempty"`
	SegmentID   string              `json:"segment_id,omitempty"`
	CreatedBy   string              `json:"created_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	Recipients  int                 `json:"recipients,omitempty"`
	Successful  int                 `json:"successful,omitempty"`
	Failed      int                 `json:"failed,omitempty"`
}

// Validate checks that exactly one target is set and the payload is sendable.
func (n *ScheduledNotification) Validate() error {
	if (len(n.UserIDs) == 0) == (n.SegmentID == "") {
		return fmt.Errorf("%w: exactly one of user_ids or segment_id is required", notifdomain.ErrInvalidRequest)
	}
	if n.SendAt.IsZero() {
		return fmt.Errorf("%w: send_at is required", notifdomain.ErrInvalidRequest)
	}
	return n.Payload.Validate()
}

func (n *ScheduledNotification) ToDocument() map[string]any {
	doc := map[string]any{
		"status":    string(n.Status),
		"sendAt":    n.SendAt,
		"payload":   payloadToDocument(&n.Payload),
		"createdAt": n.CreatedAt,
		"updatedAt": n.UpdatedAt,
	}
	if len(n.UserIDs) > 0 {
		ids := make([]any, len(n.UserIDs))
		for i, id := range n.UserIDs {
			ids[i] = id
		}
		doc["userIds"] = ids
	}
	if n.SegmentID != "" {
		doc["segmentId"] = n.SegmentID
	}
	if n.CreatedBy != "" {
		doc["createdBy"] = n.CreatedBy
	}
	if n.CompletedAt != nil {
		doc["completedAt"] = *n.CompletedAt
	}
	if n.LastError != "" {
		doc["lastError"] = n.LastError
	}
	if n.Status == StatusSent || n.Status == StatusFailed {
		doc["recipients"] = n.Recipients
		doc["successful"] = n.Successful
		doc["failed"] = n.Failed
	}
	return doc
}

func FromDocument(d docstore.Document) *ScheduledNotification {
	data := d.Data
	n := &ScheduledNotification{
		ID:          d.ID,
		Status:      Status(docstore.AsString(data["status"])),
		Payload:     payloadFromDocument(docstore.AsMap(data["payload"])),
		UserIDs:     docstore.AsStringSlice(data["userIds"]),
		SegmentID:   docstore.AsString(data["segmentId"]),
		CreatedBy:   docstore.AsString(data["createdBy"]),
		CompletedAt: docstore.TimeField(data, "completedAt"),
		LastError:   docstore.AsString(data["lastError"]),
		Recipients:  int(docstore.AsInt(data["recipients"])),
		Successful:  int(docstore.AsInt(data["successful"])),
		Failed:      int(docstore.AsInt(data["failed"])),
	}
	if t := docstore.TimeField(data, "sendAt"); t != nil {
		n.SendAt = *t
	}
	if t := docstore.TimeField(data, "createdAt"); t != nil {
		n.CreatedAt = *t
	}
	if t := docstore.TimeField(data, "updatedAt"); t != nil {
		n.UpdatedAt = *t
	}
	return n
}

func payloadToDocument(p *notifdomain.Payload) map[string]any {
	doc := map[string]any{"title": p.Title, "body": p.Body}
	optional := map[string]string{
		"notificationId": p.NotificationID,
		"priority":       string(p.Priority),
		"category":       string(p.Category),
		"clubId":         p.ClubID,
		"imageUrl":       p.ImageURL,
		"icon":           p.Icon,
		"badge":          p.Badge,
		"html":           p.HTML,
		"replyTo":        p.ReplyTo,
	}
	for k, v := range optional {
		if v != "" {
			doc[k] = v
		}
	}
	if len(p.Data) > 0 {
		data := make(map[string]any, len(p.Data))
		for k, v := range p.Data {
			data[k] = v
		}
		doc["data"] = data
	}
	return doc
}

func payloadFromDocument(m map[string]any) notifdomain.Payload {
	return notifdomain.Payload{
		NotificationID: docstore.AsString(m["notificationId"]),
		Title:          docstore.AsString(m["title"]),
		Body:           docstore.AsString(m["body"]),
		Data:           docstore.AsStringMap(m["data"]),
		Priority:       notifdomain.Priority(docstore.AsString(m["priority"])),
		Category:       notifdomain.Category(docstore.AsString(m["category"])),
		ClubID:         docstore.AsString(m["clubId"]),
		ImageURL:       docstore.AsString(m["imageUrl"]),
		Icon:           docstore.AsString(m["icon"]),
		Badge:          docstore.AsString(m["badge"]),
		HTML:           docstore.AsString(m["html"]),
		ReplyTo:        docstore.AsString(m["replyTo"]),
	}
}
