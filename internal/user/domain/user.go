package domain

import (
	"time"

	"clubnotify/pkg/docstore"
)

// Collection holds the platform's user profiles. This service only reads
// it.
const Collection = "users"

// User is the subset of the platform profile that segments filter on. The
// raw document is kept so filters can address any field.
type User struct {
	ID               string          `json:"id"`
	Email            string          `json:"email,omitempty"`
	DisplayName      string          `json:"display_name,omitempty"`
	Role             string          `json:"role,omitempty"`
	ClubID           string          `json:"club_id,omitempty"`
	BookingCount     int64           `json:"booking_count"`
	LastActivityAt   *time.Time      `json:"last_activity_at,omitempty"`
	MembershipStatus string          `json:"membership_status,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Preferences      map[string]bool `json:"notification_preferences,omitempty"`
	Fields           map[string]any  `json:"-"`
}

func FromDocument(d docstore.Document) User {
	u := User{
		ID:               d.ID,
		Email:            docstore.AsString(d.Data["email"]),
		DisplayName:      docstore.AsString(d.Data["displayName"]),
		Role:             docstore.AsString(d.Data["role"]),
		ClubID:           docstore.AsString(d.Data["clubId"]),
		BookingCount:     docstore.AsInt(d.Data["bookingCount"]),
		LastActivityAt:   docstore.TimeField(d.Data, "lastActivityAt"),
		MembershipStatus: docstore.AsString(d.Data["membershipStatus"]),
		Tags:             docstore.AsStringSlice(d.Data["tags"]),
		Fields:           d.Data,
	}
	if prefs := docstore.AsMap(d.Data["notificationPreferences"]); prefs != nil {
		u.Preferences = make(map[string]bool, len(prefs))
		for k, v := range prefs {
			u.Preferences[k] = docstore.AsBool(v)
		}
	}
	return u
}
