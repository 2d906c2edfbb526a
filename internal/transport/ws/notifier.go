package ws

import (
	"errors"
	"fmt"

	"github.com/vedran77/relay/internal/presence"
)

var ErrUnknownHandle = errors.New("handle is not a websocket client")

// Notifier implements service.Notifier by queueing events on the client's
// send buffer.
type Notifier struct{}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Notify(h presence.Handle, event string, payload any) error {
	c, ok := h.(*Client)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownHandle, h)
	}
	data, err := encodeEvent(event, "", payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}
	return c.enqueue(data)
}
