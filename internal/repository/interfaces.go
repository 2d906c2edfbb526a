package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrMessageNotFound = errors.New("message not found")
)

type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	AllExist(ctx context.Context, ids []uuid.UUID) (bool, error)
}

// MessageRepository is the message half of the storage port.
//
// Create with ChannelID set links the message to the channel in the same
// write; if the channel does not exist nothing is stored and
// ErrChannelNotFound is returned.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetExpanded(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListDirect(ctx context.Context, userID, otherUserID uuid.UUID) ([]domain.Message, error)
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error)
}

type ChannelRepository interface {
	Create(ctx context.Context, channel *domain.Channel) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Channel, error)
	// AppendMessage is idempotent: appending an already linked id is a no-op.
	AppendMessage(ctx context.Context, channelID, messageID uuid.UUID) error
	GetMembers(ctx context.Context, channelID uuid.UUID) (*domain.ChannelMembers, error)
}
