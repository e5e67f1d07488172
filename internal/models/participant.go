package models

// RoleModerator may delete any discussion message.
const RoleModerator = "moderator"

// Participant is supplied by the host system and never mutated by the core.
type Participant struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Role        string   `json:"role,omitempty"`
	Departments []string `json:"departments,omitempty"`
}

// IsModerator reports whether the participant holds the moderator role.
func (p Participant) IsModerator() bool {
	return p.Role == RoleModerator
}
