package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/service"
)

// Event types - Client → Server
const (
	EventTypeSendMessage        = "sendMessage"
	EventTypeSendChannelMessage = "send-channel-message"
	EventTypePing               = "ping"
)

// Event types - Server → Client
const (
	EventTypeReceiveMessage        = service.EventReceiveMessage
	EventTypeReceiveChannelMessage = service.EventReceiveChannelMessage
	EventTypeMessageAck            = "message-ack"
	EventTypePong                  = "pong"
	EventTypeError                 = "error"
)

// Ack statuses.
const (
	AckOK       = "ok"
	AckRejected = "rejected"
	AckFailed   = "failed"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Nonce     string          `json:"nonce,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

// SendMessagePayload is a direct message. Sender may be omitted on an
// authenticated connection.
type SendMessagePayload struct {
	Sender      *uuid.UUID         `json:"sender,omitempty"`
	Recipient   uuid.UUID          `json:"recipient"`
	MessageType domain.MessageType `json:"messageType"`
	Content     string             `json:"content,omitempty"`
	FileURL     string             `json:"fileUrl,omitempty"`
}

type SendChannelMessagePayload struct {
	ChannelID   uuid.UUID          `json:"channelId"`
	Sender      *uuid.UUID         `json:"sender,omitempty"`
	MessageType domain.MessageType `json:"messageType"`
	Content     string             `json:"content,omitempty"`
	FileURL     string             `json:"fileUrl,omitempty"`
}

// --- Server → Client payloads ---

type AckPayload struct {
	Nonce     string            `json:"nonce,omitempty"`
	Status    string            `json:"status"`
	MessageID *uuid.UUID        `json:"messageId,omitempty"`
	Error     string            `json:"error,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType, nonce string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Nonce:     nonce,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func encodeEvent(eventType, nonce string, payload any) ([]byte, error) {
	evt, err := NewEvent(eventType, nonce, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}
