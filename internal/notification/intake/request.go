package intake

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"clubnotify/internal/notification/domain"
	subdomain "clubnotify/internal/subscription/domain"
)

type Target string

const (
	TargetUser    Target = "user"
	TargetUsers   Target = "users"
	TargetSegment Target = "segment"
)

// Request is the message event producers publish: booking reminders,
// certificate-expiry checks and admin broadcasts.
type Request struct {
	// RequestID lets redelivered messages be recognised.
	RequestID string         `json:"request_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Target    Target         `json:"target" validate:"required,oneof=user users segment"`
	UserID    string         `json:"user_id,omitempty" validate:"required_if=Target user"`
	UserIDs   []string       `json:"user_ids,omitempty" validate:"required_if=Target users"`
	SegmentID string         `json:"segment_id,omitempty" validate:"required_if=Target segment"`
	Mode      domain.Mode    `json:"mode,omitempty" validate:"omitempty,oneof=fan-out sequential"`
	Channels  []string       `json:"channels,omitempty"`
	Payload   domain.Payload `json:"payload"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return r.Payload.Validate()
}

func (r *Request) channels() ([]subdomain.Channel, error) {
	out := make([]subdomain.Channel, 0, len(r.Channels))
	for _, c := range r.Channels {
		ch, err := subdomain.ParseChannel(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		out = append(out, ch)
	}
	return out, nil
}
