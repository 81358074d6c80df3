package domain

const (
	RoleAdmin     = "admin"
	RoleMember    = "member"
	RoleScheduler = "scheduler"
)

// Principal is the caller identified by a request's credentials.
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	ClubID string `json:"club_id,omitempty"`
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }
