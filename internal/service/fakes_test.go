package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/presence"
	"github.com/vedran77/relay/internal/repository"
)

// memStore is an in-memory storage port. Every call is counted so tests can
// assert that rejected sends never reach storage.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]domain.User
	messages map[uuid.UUID]domain.Message
	channels map[uuid.UUID]*domain.Channel
	calls    int

	createErr     error
	getMembersErr error
	createCtxErr  error
	// createDelay stalls Create without watching ctx, like a hung disk.
	createDelay time.Duration
}

var (
	_ repository.MessageRepository = (*memStore)(nil)
	_ repository.ChannelRepository = (*channelStore)(nil)
	_ repository.UserRepository    = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]domain.User),
		messages: make(map[uuid.UUID]domain.Message),
		channels: make(map[uuid.UUID]*domain.Channel),
	}
}

func (s *memStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *memStore) addUser(email string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := domain.User{ID: uuid.New(), Email: email}
	s.users[u.ID] = u
	return u.ID
}

func (s *memStore) addChannel(admin uuid.UUID, members ...uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := &domain.Channel{ID: uuid.New(), Name: "ch", AdminID: admin, Members: members}
	s.channels[ch.ID] = ch
	return ch.ID
}

func (s *memStore) channelMessages(channelID uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.channels[channelID].MessageIDs...)
}

func (s *memStore) stored() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Values(s.messages)
}

// MessageRepository

func (s *memStore) Create(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	delay := s.createDelay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.createCtxErr = ctx.Err()
	if s.createErr != nil {
		return s.createErr
	}
	if msg.ChannelID != nil {
		ch, ok := s.channels[*msg.ChannelID]
		if !ok {
			return repository.ErrChannelNotFound
		}
		ch.MessageIDs = append(ch.MessageIDs, msg.ID)
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *memStore) GetExpanded(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	msg.Sender = s.summary(msg.SenderID)
	if msg.RecipientID != nil {
		msg.Recipient = s.summary(*msg.RecipientID)
	}
	return &msg, nil
}

func (s *memStore) ListDirect(_ context.Context, userID, otherUserID uuid.UUID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.RecipientID == nil {
			continue
		}
		if (m.SenderID == userID && *m.RecipientID == otherUserID) ||
			(m.SenderID == otherUserID && *m.RecipientID == userID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) ListByChannel(_ context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	return lo.Map(ch.MessageIDs, func(id uuid.UUID, _ int) domain.Message {
		return s.messages[id]
	}), nil
}

func (s *memStore) summary(id uuid.UUID) *domain.UserSummary {
	if u, ok := s.users[id]; ok {
		return u.Summary()
	}
	return &domain.UserSummary{ID: id}
}

// UserRepository

func (s *memStore) Upsert(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memStore) AllExist(_ context.Context, ids []uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.EveryBy(ids, func(id uuid.UUID) bool {
		_, ok := s.users[id]
		return ok
	}), nil
}

// channelStore exposes the channel half of memStore. Create and GetByID
// clash with the message and user halves so it needs its own type.
type channelStore struct {
	*memStore
}

func (c channelStore) Create(_ context.Context, ch *domain.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *ch
	c.channels[ch.ID] = &cp
	return nil
}

func (c channelStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (c channelStore) ListForUser(_ context.Context, userID uuid.UUID) ([]domain.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Channel
	for _, ch := range c.channels {
		if ch.AdminID == userID || lo.Contains(ch.Members, userID) {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (c channelStore) AppendMessage(_ context.Context, channelID, messageID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[channelID]
	if !ok {
		return repository.ErrChannelNotFound
	}
	if !lo.Contains(ch.MessageIDs, messageID) {
		ch.MessageIDs = append(ch.MessageIDs, messageID)
	}
	return nil
}

func (c channelStore) GetMembers(_ context.Context, channelID uuid.UUID) (*domain.ChannelMembers, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.getMembersErr != nil {
		return nil, c.getMembersErr
	}
	ch, ok := c.channels[channelID]
	if !ok {
		return nil, nil
	}
	return &domain.ChannelMembers{
		ChannelID: ch.ID,
		Members:   append([]uuid.UUID(nil), ch.Members...),
		AdminID:   ch.AdminID,
	}, nil
}

type testHandle struct {
	id uuid.UUID
}

func (h *testHandle) SessionID() uuid.UUID { return h.id }

func newTestHandle() *testHandle { return &testHandle{id: uuid.New()} }

type delivery struct {
	handle  presence.Handle
	event   string
	message *domain.Message
}

// recordingNotifier records every delivery instead of writing to a socket.
type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []delivery
	err        error
}

func (n *recordingNotifier) Notify(h presence.Handle, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, delivery{handle: h, event: event, message: payload.(*domain.Message)})
	return n.err
}

func (n *recordingNotifier) Deliveries() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery(nil), n.deliveries...)
}
