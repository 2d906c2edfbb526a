package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Image     *string   `json:"image,omitempty"`
	Color     *int      `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserSummary is the public part of a user embedded in outbound messages.
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Image     *string   `json:"image,omitempty"`
	Color     *int      `json:"color,omitempty"`
}

func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Image:     u.Image,
		Color:     u.Color,
	}
}
