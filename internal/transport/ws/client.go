package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/service"
	"nhooyr.io/websocket"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSlowConsumer   = errors.New("client send buffer full")
	ErrSenderMismatch = errors.New("sender does not match the connection identity")
)

// Client represents a single WebSocket connection. It is the presence handle
// for its user.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	id            uuid.UUID
	userID        uuid.UUID
	authenticated bool

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, authenticated bool) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		id:            uuid.New(),
		userID:        userID,
		authenticated: authenticated,
		send:          make(chan []byte, hub.opts.SendBuffer),
		done:          make(chan struct{}),
	}
}

func (c *Client) SessionID() uuid.UUID {
	return c.id
}

// readPump processes inbound events one at a time, so sends from one
// connection are stored and delivered in arrival order.
func (c *Client) readPump(ctx context.Context) {
	defer c.close(websocket.StatusNormalClosure, "")

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	for {
		// Read and decode separately: wsjson.Read would drop the connection on a
		// malformed frame, and bad frames here get an error reply instead.
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.hub.log.Debug("Read loop ended", "session_id", c.id, "reason", err)
			} else {
				c.hub.log.Warn("Read error", "session_id", c.id, "user_id", c.userID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.sendError("INVALID_EVENT", "binary frames are not supported")
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.sendError("INVALID_EVENT", "malformed event")
			continue
		}
		c.handleEvent(ctx, &event)
	}
}

// writePump drains the send buffer and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.WriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.hub.log.Warn("Write error", "session_id", c.id, "user_id", c.userID, "error", err)
				c.close(websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.WriteTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.hub.log.Warn("Ping error", "session_id", c.id, "user_id", c.userID, "error", err)
				c.close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}

		case <-c.done:
			return
		}
	}
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.hub.log.Warn("Slow consumer, closing connection", "session_id", c.id, "user_id", c.userID)
		c.close(websocket.StatusPolicyViolation, "send buffer full")
		return ErrSlowConsumer
	}
}

// close ends the session exactly once.
func (c *Client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.detach(c)
		// Close waits for the peer's close frame; callers may be another
		// connection's read loop.
		go func() { _ = c.conn.Close(code, reason) }()
	})
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeSendMessage:
		c.handleSendMessage(ctx, event)

	case EventTypeSendChannelMessage:
		c.handleSendChannelMessage(ctx, event)

	case EventTypePing:
		c.reply(EventTypePong, event.Nonce, struct{}{})

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) handleSendMessage(ctx context.Context, event *Event) {
	var p SendMessagePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		c.ack(event.Nonce, AckPayload{Status: AckRejected, Error: "invalid sendMessage payload"})
		return
	}
	sender, err := c.sender(p.Sender)
	if err != nil {
		c.ack(event.Nonce, AckPayload{Status: AckRejected, Error: err.Error()})
		return
	}

	msg, err := c.hub.router.SendDirect(ctx, service.DirectMessageInput{
		Sender:    sender,
		Recipient: p.Recipient,
		Payload:   service.Payload{MessageType: p.MessageType, Content: p.Content, FileURL: p.FileURL},
	})
	c.ackResult(event.Nonce, msg, err)
}

func (c *Client) handleSendChannelMessage(ctx context.Context, event *Event) {
	var p SendChannelMessagePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		c.ack(event.Nonce, AckPayload{Status: AckRejected, Error: "invalid send-channel-message payload"})
		return
	}
	sender, err := c.sender(p.Sender)
	if err != nil {
		c.ack(event.Nonce, AckPayload{Status: AckRejected, Error: err.Error()})
		return
	}

	msg, err := c.hub.router.SendChannel(ctx, service.ChannelMessageInput{
		ChannelID: p.ChannelID,
		Sender:    sender,
		Payload:   service.Payload{MessageType: p.MessageType, Content: p.Content, FileURL: p.FileURL},
	})
	c.ackResult(event.Nonce, msg, err)
}

// sender resolves the sender of record. Authenticated connections send as
// themselves; unauthenticated ones must name a sender.
func (c *Client) sender(claimed *uuid.UUID) (uuid.UUID, error) {
	if !c.authenticated {
		if claimed == nil {
			return uuid.Nil, nil
		}
		return *claimed, nil
	}
	if claimed != nil && *claimed != c.userID {
		return uuid.Nil, ErrSenderMismatch
	}
	return c.userID, nil
}

func (c *Client) ackResult(nonce string, msg *domain.Message, err error) {
	var invalid *service.InvalidMessageError
	switch {
	case err == nil:
		c.ack(nonce, AckPayload{Status: AckOK, MessageID: &msg.ID})
	case errors.As(err, &invalid):
		c.ack(nonce, AckPayload{Status: AckRejected, Error: service.ErrInvalidMessage.Error(), Fields: invalid.Fields})
	case errors.Is(err, service.ErrChannelNotFound):
		c.ack(nonce, AckPayload{Status: AckRejected, Error: service.ErrChannelNotFound.Error()})
	default:
		c.ack(nonce, AckPayload{Status: AckFailed, Error: "message could not be stored"})
	}
}

func (c *Client) ack(nonce string, p AckPayload) {
	p.Nonce = nonce
	c.reply(EventTypeMessageAck, nonce, p)
}

func (c *Client) sendError(code, message string) {
	c.reply(EventTypeError, "", ErrorPayload{Code: code, Message: message})
}

func (c *Client) reply(eventType, nonce string, payload any) {
	data, err := encodeEvent(eventType, nonce, payload)
	if err != nil {
		c.hub.log.Error("Encoding reply failed", "event", eventType, "error", err)
		return
	}
	_ = c.enqueue(data)
}
