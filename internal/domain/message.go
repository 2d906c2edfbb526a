package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Message is a persisted chat message. Exactly one of Content and FileURL is
// set, depending on Type.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	SenderID    uuid.UUID   `json:"-"`
	RecipientID *uuid.UUID  `json:"-"`
	ChannelID   *uuid.UUID  `json:"channelId,omitempty"`
	Type        MessageType `json:"messageType"`
	Content     *string     `json:"content,omitempty"`
	FileURL     *string     `json:"fileUrl,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	// Joined fields
	Sender    *UserSummary `json:"sender,omitempty"`
	Recipient *UserSummary `json:"recipient,omitempty"`
}
