package service

import (
	"strings"

	playground "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/pkg/validator"
)

// Payload is the part shared by direct and channel sends. The field
// mandated by MessageType must be present; the other one is ignored.
type Payload struct {
	MessageType domain.MessageType `json:"messageType" validate:"required,oneof=text file"`
	Content     string             `json:"content,omitempty"`
	FileURL     string             `json:"fileUrl,omitempty"`
}

type DirectMessageInput struct {
	Sender    uuid.UUID `json:"sender" validate:"required"`
	Recipient uuid.UUID `json:"recipient" validate:"required"`
	Payload
}

type ChannelMessageInput struct {
	ChannelID uuid.UUID `json:"channelId" validate:"required"`
	Sender    uuid.UUID `json:"sender" validate:"required"`
	Payload
}

// NewMessageValidator returns a validator that knows the payload rule.
func NewMessageValidator() *validator.Validator {
	v := validator.New()
	v.RegisterStructRule(payloadRule, Payload{})
	return v
}

func payloadRule(sl playground.StructLevel) {
	p := sl.Current().Interface().(Payload)
	switch p.MessageType {
	case domain.MessageTypeText:
		if strings.TrimSpace(p.Content) == "" {
			sl.ReportError(p.Content, "content", "Content", "notblank", "")
		}
	case domain.MessageTypeFile:
		if strings.TrimSpace(p.FileURL) == "" {
			sl.ReportError(p.FileURL, "fileUrl", "FileURL", "required", "")
		}
	}
}

// apply copies the mandated payload field onto msg.
func (p Payload) apply(msg *domain.Message) {
	msg.Type = p.MessageType
	switch p.MessageType {
	case domain.MessageTypeText:
		content := p.Content
		msg.Content = &content
	case domain.MessageTypeFile:
		fileURL := strings.TrimSpace(p.FileURL)
		msg.FileURL = &fileURL
	}
}
