// Package domain contains core domain types for the tutoring core.
package domain

import (
	"time"
)

// User represents a learner known to the system along with the profile
// attributes the tutoring workflows consult.
type User struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Accessibility bool      `json:"accessibility"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile is the subset of user attributes exposed by the profile collaborator.
type Profile struct {
	UserID        string `json:"user_id"`
	Accessibility bool   `json:"accessibility"`
	DisplayName   string `json:"display_name,omitempty"`
}

// Profile returns the profile view of the user.
func (u *User) Profile() Profile {
	return Profile{
		UserID:        u.UserID,
		Accessibility: u.Accessibility,
		DisplayName:   u.Username,
	}
}
