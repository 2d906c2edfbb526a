package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Channel struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	AdminID    uuid.UUID   `json:"admin"`
	Members    []uuid.UUID `json:"members"`
	MessageIDs []uuid.UUID `json:"messages,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ChannelMembers is the delivery view of a channel: who should receive its
// messages.
type ChannelMembers struct {
	ChannelID uuid.UUID
	Members   []uuid.UUID
	AdminID   uuid.UUID
}

// Recipients returns members and admin without duplicates, members first.
func (c ChannelMembers) Recipients() []uuid.UUID {
	all := make([]uuid.UUID, 0, len(c.Members)+1)
	all = append(all, c.Members...)
	all = append(all, c.AdminID)
	return lo.Uniq(all)
}
