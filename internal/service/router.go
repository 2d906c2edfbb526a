package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/presence"
	"github.com/vedran77/relay/internal/repository"
	"github.com/vedran77/relay/pkg/validator"
)

// Outbound event names.
const (
	EventReceiveMessage        = "receiveMessage"
	EventReceiveChannelMessage = "receive-channel-message"
)

var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrChannelNotFound = repository.ErrChannelNotFound
	ErrMessageNotFound = repository.ErrMessageNotFound
	ErrStorageTimeout  = errors.New("storage call timed out")
)

// InvalidMessageError is returned when an inbound send fails validation.
type InvalidMessageError struct {
	Fields validator.ValidationErrors
}

func (e *InvalidMessageError) Error() string {
	return "invalid message: " + e.Fields.Error()
}

func (e *InvalidMessageError) Is(target error) bool {
	return target == ErrInvalidMessage
}

// Presence is the read side of the presence registry.
type Presence interface {
	Lookup(userID uuid.UUID) (presence.Handle, bool)
}

// Notifier pushes an event to one live connection.
type Notifier interface {
	Notify(h presence.Handle, event string, payload any) error
}

// Router validates inbound sends, persists them and fans the stored message
// out to every recipient that is currently connected.
type Router struct {
	messageRepo repository.MessageRepository
	members     *MembershipResolver
	presence    Presence
	notifier    Notifier
	validate    *validator.Validator
	timeout     time.Duration
	log         *slog.Logger
	now         func() time.Time
}

func NewRouter(
	messageRepo repository.MessageRepository,
	members *MembershipResolver,
	presence Presence,
	notifier Notifier,
	timeout time.Duration,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		messageRepo: messageRepo,
		members:     members,
		presence:    presence,
		notifier:    notifier,
		validate:    NewMessageValidator(),
		timeout:     timeout,
		log:         log,
		now:         time.Now,
	}
}

// SendDirect stores a direct message and delivers it to the recipient and
// to the sender's own connection.
func (r *Router) SendDirect(ctx context.Context, in DirectMessageInput) (*domain.Message, error) {
	if errs := r.validate.Struct(in); errs.HasErrors() {
		r.log.Warn("Direct message rejected", "sender", in.Sender, "errors", errs.Error())
		return nil, &InvalidMessageError{Fields: errs}
	}

	recipient := in.Recipient
	msg := &domain.Message{
		ID:          uuid.New(),
		SenderID:    in.Sender,
		RecipientID: &recipient,
		Timestamp:   r.now().UTC(),
	}
	in.apply(msg)

	full, err := r.persist(ctx, msg)
	if err != nil {
		r.log.Error("Direct message not stored", "sender", in.Sender, "recipient", in.Recipient, "error", err)
		return nil, err
	}

	r.fanOut(EventReceiveMessage, full, []uuid.UUID{in.Sender, in.Recipient})
	return full, nil
}

// SendChannel stores a channel message, links it to the channel and
// delivers it to every connected member and the admin.
func (r *Router) SendChannel(ctx context.Context, in ChannelMessageInput) (*domain.Message, error) {
	if errs := r.validate.Struct(in); errs.HasErrors() {
		r.log.Warn("Channel message rejected", "sender", in.Sender, "channel_id", in.ChannelID, "errors", errs.Error())
		return nil, &InvalidMessageError{Fields: errs}
	}

	channelID := in.ChannelID
	msg := &domain.Message{
		ID:        uuid.New(),
		SenderID:  in.Sender,
		ChannelID: &channelID,
		Timestamp: r.now().UTC(),
	}
	in.apply(msg)

	full, err := r.persist(ctx, msg)
	if errors.Is(err, ErrChannelNotFound) {
		r.log.Warn("Channel message rejected", "sender", in.Sender, "channel_id", in.ChannelID, "error", err)
		return nil, err
	}
	if err != nil {
		r.log.Error("Channel message not stored", "sender", in.Sender, "channel_id", in.ChannelID, "error", err)
		return nil, err
	}

	members, err := bounded(ctx, r.timeout, func(ctx context.Context) (*domain.ChannelMembers, error) {
		return r.members.Resolve(ctx, channelID)
	})
	if err != nil {
		// the message is durable; history is the recovery path
		r.log.Error("Channel members not resolved, message stored but not delivered",
			"message_id", full.ID, "channel_id", channelID, "error", err)
		return full, nil
	}

	r.fanOut(EventReceiveChannelMessage, full, members.Recipients())
	return full, nil
}

// persist writes msg and reads it back with user profiles expanded.
func (r *Router) persist(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	_, err := bounded(ctx, r.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.messageRepo.Create(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	full, err := bounded(ctx, r.timeout, func(ctx context.Context) (*domain.Message, error) {
		return r.messageRepo.GetExpanded(ctx, msg.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("loading message %s: %w", msg.ID, err)
	}
	if full == nil {
		return nil, fmt.Errorf("loading message %s: %w", msg.ID, ErrMessageNotFound)
	}
	return full, nil
}

// bounded runs one storage call with timeout. The call is detached from ctx
// cancellation so a closing connection does not abort a write that is already
// in flight. bounded returns at the deadline even if call ignores its context.
func bounded[T any](ctx context.Context, timeout time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrStorageTimeout, ctx.Err())
	}
}

func (r *Router) fanOut(event string, msg *domain.Message, recipients []uuid.UUID) {
	for _, userID := range lo.Uniq(recipients) {
		h, ok := r.presence.Lookup(userID)
		if !ok {
			r.log.Debug("Recipient offline", "event", event, "user_id", userID, "message_id", msg.ID)
			continue
		}
		if err := r.notifier.Notify(h, event, msg); err != nil {
			r.log.Warn("Delivery failed", "event", event, "user_id", userID, "message_id", msg.ID, "error", err)
		}
	}
}
