package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/repository"
	"github.com/vedran77/relay/pkg/validator"
)

var ErrUnknownMembers = errors.New("one or more members are not known users")

type ChannelService struct {
	channelRepo repository.ChannelRepository
	userRepo    repository.UserRepository
	validate    *validator.Validator
}

func NewChannelService(channelRepo repository.ChannelRepository, userRepo repository.UserRepository) *ChannelService {
	return &ChannelService{
		channelRepo: channelRepo,
		userRepo:    userRepo,
		validate:    validator.New(),
	}
}

type CreateChannelInput struct {
	Name    string      `json:"name" validate:"required,notblank,max=80"`
	Members []uuid.UUID `json:"members" validate:"required,min=1"`
}

// InvalidInputError carries field errors for a rejected request.
type InvalidInputError struct {
	Fields validator.ValidationErrors
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Fields.Error()
}

// Create makes a channel with adminID as admin. The admin is not stored as a
// member; it receives channel messages through its admin role.
func (s *ChannelService) Create(ctx context.Context, adminID uuid.UUID, input CreateChannelInput) (*domain.Channel, error) {
	if errs := s.validate.Struct(input); errs.HasErrors() {
		return nil, &InvalidInputError{Fields: errs}
	}

	members := lo.Without(lo.Uniq(input.Members), adminID)
	if len(members) == 0 {
		return nil, &InvalidInputError{Fields: validator.ValidationErrors{"members": "must include someone other than the admin"}}
	}
	ok, err := s.userRepo.AllExist(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("checking members: %w", err)
	}
	if !ok {
		return nil, ErrUnknownMembers
	}

	now := time.Now().UTC()
	ch := &domain.Channel{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(input.Name),
		AdminID:   adminID,
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.channelRepo.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("creating channel: %w", err)
	}
	return ch, nil
}

// ListForUser returns the channels the user administers or belongs to, most
// recently active first.
func (s *ChannelService) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Channel, error) {
	channels, err := s.channelRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}
