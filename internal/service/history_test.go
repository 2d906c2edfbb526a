package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/relay/internal/domain"
)

func TestHistoryService_Direct_Oldest_First(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newMemStore()
	history := NewHistoryService(store, channelStore{store})
	a, b := uuid.New(), uuid.New()
	at := time.Now().UTC()

	second := domain.Message{ID: uuid.New(), SenderID: b, RecipientID: &a, Type: domain.MessageTypeText, Content: lo.ToPtr("two"), Timestamp: at.Add(time.Second)}
	first := domain.Message{ID: uuid.New(), SenderID: a, RecipientID: &b, Type: domain.MessageTypeText, Content: lo.ToPtr("one"), Timestamp: at}
	req.NoError(store.Create(ctx, &second))
	req.NoError(store.Create(ctx, &first))

	got, err := history.Direct(ctx, a, b)

	req.NoError(err)
	req.Equal([]uuid.UUID{first.ID, second.ID}, lo.Map(got, func(m domain.Message, _ int) uuid.UUID { return m.ID }))
}

func TestHistoryService_Direct_Empty_Is_Not_Nil(t *testing.T) {
	req := require.New(t)
	store := newMemStore()
	history := NewHistoryService(store, channelStore{store})

	got, err := history.Direct(context.Background(), uuid.New(), uuid.New())

	req.NoError(err)
	req.NotNil(got)
	req.Empty(got)
}

func TestHistoryService_Channel_Access(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newMemStore()
	history := NewHistoryService(store, channelStore{store})
	admin, member, outsider := uuid.New(), uuid.New(), uuid.New()
	channelID := store.addChannel(admin, member)
	msg := domain.Message{ID: uuid.New(), SenderID: member, ChannelID: &channelID, Type: domain.MessageTypeText, Content: lo.ToPtr("hi")}
	req.NoError(store.Create(ctx, &msg))

	for _, userID := range []uuid.UUID{admin, member} {
		got, err := history.Channel(ctx, userID, channelID)
		req.NoError(err)
		req.Len(got, 1)
		req.Equal(msg.ID, got[0].ID)
	}

	_, err := history.Channel(ctx, outsider, channelID)
	req.ErrorIs(err, ErrNotChannelMember)

	_, err = history.Channel(ctx, admin, uuid.New())
	req.ErrorIs(err, ErrChannelNotFound)
}

func TestChannelService_Create(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newMemStore()
	channels := NewChannelService(channelStore{store}, store)
	admin := store.addUser("admin@example.com")
	member := store.addUser("member@example.com")

	// When the admin lists themselves and a member twice
	ch, err := channels.Create(ctx, admin, CreateChannelInput{Name: "  general ", Members: []uuid.UUID{member, admin, member}})

	// Then the channel keeps the member once and the admin only as admin
	req.NoError(err)
	req.Equal("general", ch.Name)
	req.Equal(admin, ch.AdminID)
	req.Equal([]uuid.UUID{member}, ch.Members)

	listed, err := channels.ListForUser(ctx, member)
	req.NoError(err)
	req.Len(listed, 1)
	req.Equal(ch.ID, listed[0].ID)
}

func TestChannelService_Create_Rejects_Unknown_Members(t *testing.T) {
	req := require.New(t)
	store := newMemStore()
	channels := NewChannelService(channelStore{store}, store)
	admin := store.addUser("admin@example.com")

	_, err := channels.Create(context.Background(), admin, CreateChannelInput{Name: "x", Members: []uuid.UUID{uuid.New()}})

	req.ErrorIs(err, ErrUnknownMembers)
}

func TestChannelService_Create_Validates_Input(t *testing.T) {
	req := require.New(t)
	store := newMemStore()
	channels := NewChannelService(channelStore{store}, store)

	_, err := channels.Create(context.Background(), uuid.New(), CreateChannelInput{Name: "   "})

	var invalid *InvalidInputError
	req.ErrorAs(err, &invalid)
	req.Contains(invalid.Fields, "name")
	req.Contains(invalid.Fields, "members")
}

func TestChannelService_Create_Rejects_Admin_As_Only_Member(t *testing.T) {
	req := require.New(t)
	store := newMemStore()
	channels := NewChannelService(channelStore{store}, store)
	admin := store.addUser("admin@example.com")

	// When the admin lists only themselves
	_, err := channels.Create(context.Background(), admin, CreateChannelInput{Name: "solo", Members: []uuid.UUID{admin, admin}})

	// Then nothing is stored and members is reported invalid
	var invalid *InvalidInputError
	req.ErrorAs(err, &invalid)
	req.Contains(invalid.Fields, "members")

	listed, err := channels.ListForUser(context.Background(), admin)
	req.NoError(err)
	req.Empty(listed)
}

func TestChannelService_ListForUser_Empty_Is_Not_Nil(t *testing.T) {
	req := require.New(t)
	store := newMemStore()
	channels := NewChannelService(channelStore{store}, store)

	got, err := channels.ListForUser(context.Background(), uuid.New())

	req.NoError(err)
	req.NotNil(got)
}
