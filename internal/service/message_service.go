package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/repository"
)

var ErrNotChannelMember = errors.New("user is not a member of this channel")

// HistoryService serves persisted messages. It is the recovery path for
// recipients that were offline when a message was routed.
type HistoryService struct {
	messageRepo repository.MessageRepository
	channelRepo repository.ChannelRepository
}

func NewHistoryService(messageRepo repository.MessageRepository, channelRepo repository.ChannelRepository) *HistoryService {
	return &HistoryService{
		messageRepo: messageRepo,
		channelRepo: channelRepo,
	}
}

// Direct returns the conversation between two users, oldest first.
func (s *HistoryService) Direct(ctx context.Context, userID, otherUserID uuid.UUID) ([]domain.Message, error) {
	messages, err := s.messageRepo.ListDirect(ctx, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("listing direct messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// Channel returns a channel's messages in append order. Only members and the
// admin may read them.
func (s *HistoryService) Channel(ctx context.Context, userID, channelID uuid.UUID) ([]domain.Message, error) {
	if err := s.checkChannelAccess(ctx, userID, channelID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("listing channel messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

func (s *HistoryService) checkChannelAccess(ctx context.Context, userID, channelID uuid.UUID) error {
	cm, err := s.channelRepo.GetMembers(ctx, channelID)
	if err != nil {
		return err
	}
	if cm == nil {
		return ErrChannelNotFound
	}
	if !lo.Contains(cm.Recipients(), userID) {
		return ErrNotChannelMember
	}
	return nil
}
