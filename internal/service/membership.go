package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/repository"
)

// MembershipResolver loads who should receive a channel's messages. It does
// not cache, so membership changes apply to the next message.
type MembershipResolver struct {
	channelRepo repository.ChannelRepository
}

func NewMembershipResolver(channelRepo repository.ChannelRepository) *MembershipResolver {
	return &MembershipResolver{channelRepo: channelRepo}
}

// Resolve returns the members and admin of a channel, or ErrChannelNotFound.
func (r *MembershipResolver) Resolve(ctx context.Context, channelID uuid.UUID) (*domain.ChannelMembers, error) {
	cm, err := r.channelRepo.GetMembers(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading channel members: %w", err)
	}
	if cm == nil {
		return nil, ErrChannelNotFound
	}
	return cm, nil
}
