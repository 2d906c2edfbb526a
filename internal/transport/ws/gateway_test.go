package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/relay/internal/auth"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/presence"
	"github.com/vedran77/relay/internal/repository/badgerdb"
	"github.com/vedran77/relay/internal/service"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var testSecret = []byte("gateway-test-secret")

type gateway struct {
	t        *testing.T
	server   *httptest.Server
	registry *presence.Registry
	hub      *Hub
	users    *badgerdb.UserRepo
	messages *badgerdb.MessageRepo
	channels *badgerdb.ChannelRepo
}

func newGateway(t *testing.T, opts Options) *gateway {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	g := &gateway{
		t:        t,
		registry: presence.NewRegistry(),
		users:    badgerdb.NewUserRepo(db),
		messages: badgerdb.NewMessageRepo(db),
		channels: badgerdb.NewChannelRepo(db),
	}
	router := service.NewRouter(g.messages, service.NewMembershipResolver(g.channels), g.registry, NewNotifier(), time.Second, log)

	opts.JWTSecret = testSecret
	g.hub = NewHub(g.registry, router, opts, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", g.hub.ServeWS)
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) user(email string) uuid.UUID {
	g.t.Helper()
	u := &domain.User{ID: uuid.New(), Email: email, CreatedAt: time.Now().UTC()}
	require.NoError(g.t, g.users.Upsert(context.Background(), u))
	return u.ID
}

func (g *gateway) url(query string) string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws" + query
}

// connect dials as userID and waits until the gateway has registered it.
func (g *gateway) connect(userID uuid.UUID) *websocket.Conn {
	g.t.Helper()
	token, err := auth.IssueToken(userID, testSecret, time.Hour)
	require.NoError(g.t, err)

	conn := g.dial("?token=" + token)
	require.Eventually(g.t, func() bool {
		_, ok := g.registry.Lookup(userID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func (g *gateway) dial(query string) *websocket.Conn {
	g.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, g.url(query), nil)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType, nonce string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, Event{Type: eventType, Payload: data, Nonce: nonce}))
}

func read(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var evt Event
	require.NoError(t, wsjson.Read(ctx, conn, &evt))
	return evt
}

// expectSilence must be the last read on conn: a timed out read closes it.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	var evt Event
	err := wsjson.Read(ctx, conn, &evt)
	require.Error(t, err, "unexpected event %s", evt.Type)
}

func decode[T any](t *testing.T, evt Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(evt.Payload, &v))
	return v
}

func TestGateway_Direct_Message_Reaches_Both_Sessions(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	u2 := g.user("u2@example.com")

	// Given u1 and u2 are connected
	s1 := g.connect(u1)
	s2 := g.connect(u2)

	// When u1 sends a text to u2
	send(t, s1, EventTypeSendMessage, "n-1", map[string]any{
		"sender": u1, "recipient": u2, "content": "hi", "messageType": "text",
	})

	// Then both sessions receive the same stored message
	got1 := read(t, s1)
	req.Equal(EventTypeReceiveMessage, got1.Type)
	msg1 := decode[domain.Message](t, got1)
	req.Equal("hi", *msg1.Content)
	req.Equal(u1, msg1.Sender.ID)
	req.Equal("u1@example.com", msg1.Sender.Email)
	req.Equal("u2@example.com", msg1.Recipient.Email)

	got2 := read(t, s2)
	req.Equal(EventTypeReceiveMessage, got2.Type)
	req.Equal(msg1.ID, decode[domain.Message](t, got2).ID)

	// And the sender is acknowledged
	ack := decode[AckPayload](t, read(t, s1))
	req.Equal(AckOK, ack.Status)
	req.Equal("n-1", ack.Nonce)
	req.Equal(msg1.ID, *ack.MessageID)

	// And exactly one message is persisted
	history, err := g.messages.ListDirect(context.Background(), u1, u2)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(msg1.ID, history[0].ID)
	req.Equal(u2, *history[0].RecipientID)

	expectSilence(t, s2)
}

func TestGateway_Channel_Message_Reaches_Only_Online_Members(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g := newGateway(t, Options{})
	u1, u2, u3, u4 := g.user("u1@example.com"), g.user("u2@example.com"), g.user("u3@example.com"), g.user("u4@example.com")
	now := time.Now().UTC()
	ch1 := &domain.Channel{ID: uuid.New(), Name: "ch1", AdminID: u4, Members: []uuid.UUID{u2, u3}, CreatedAt: now, UpdatedAt: now}
	req.NoError(g.channels.Create(ctx, ch1))

	// Given only u3 of the channel is connected
	s1 := g.connect(u1)
	s3 := g.connect(u3)

	// When u1 sends to the channel
	send(t, s1, EventTypeSendChannelMessage, "c-1", map[string]any{
		"channelId": ch1.ID, "sender": u1, "content": "hello all", "messageType": "text",
	})

	// Then u3 receives it with the channel id
	got := read(t, s3)
	req.Equal(EventTypeReceiveChannelMessage, got.Type)
	msg := decode[domain.Message](t, got)
	req.Equal(ch1.ID, *msg.ChannelID)
	req.Equal("hello all", *msg.Content)

	// And u1, who is not a member, only gets the ack
	ack := read(t, s1)
	req.Equal(EventTypeMessageAck, ack.Type)
	req.Equal(AckOK, decode[AckPayload](t, ack).Status)

	// And the message is in the channel history
	stored, err := g.channels.GetByID(ctx, ch1.ID)
	req.NoError(err)
	req.Equal([]uuid.UUID{msg.ID}, stored.MessageIDs)

	expectSilence(t, s3)
}

func TestGateway_Channel_Message_Unknown_Channel_Rejected(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	send(t, s1, EventTypeSendChannelMessage, "c-2", map[string]any{
		"channelId": uuid.New(), "content": "anyone?", "messageType": "text",
	})

	ack := decode[AckPayload](t, read(t, s1))
	req.Equal(AckRejected, ack.Status)
	req.Equal(service.ErrChannelNotFound.Error(), ack.Error)
	req.Nil(ack.MessageID)
}

func TestGateway_Blank_Text_Rejected_With_Fields(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	send(t, s1, EventTypeSendMessage, "n-2", map[string]any{
		"recipient": uuid.New(), "content": "   ", "messageType": "text",
	})

	ack := decode[AckPayload](t, read(t, s1))
	req.Equal(AckRejected, ack.Status)
	req.Contains(ack.Fields, "content")

	history, err := g.messages.ListDirect(context.Background(), u1, uuid.New())
	req.NoError(err)
	req.Empty(history)
}

func TestGateway_Sender_Must_Match_Identity(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	send(t, s1, EventTypeSendMessage, "n-3", map[string]any{
		"sender": uuid.New(), "recipient": u1, "content": "spoof", "messageType": "text",
	})

	ack := decode[AckPayload](t, read(t, s1))
	req.Equal(AckRejected, ack.Status)
	req.Equal(ErrSenderMismatch.Error(), ack.Error)
}

func TestGateway_Unauthenticated_Can_Send_But_Not_Receive(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	// Given a connection without an identity claim
	anon := g.dial("")
	req.Eventually(func() bool { return g.hub.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	req.Equal(1, g.registry.Len())

	// When it sends on behalf of a named sender
	sender := uuid.New()
	send(t, anon, EventTypeSendMessage, "a-1", map[string]any{
		"sender": sender, "recipient": u1, "content": "hello", "messageType": "text",
	})

	// Then the recipient gets it and the anonymous sender only gets the ack
	msg := decode[domain.Message](t, read(t, s1))
	req.Equal(sender, msg.Sender.ID)
	ack := decode[AckPayload](t, read(t, anon))
	req.Equal(AckOK, ack.Status)
	req.Equal(msg.ID, *ack.MessageID)
}

func TestGateway_Invalid_Token_Rejected_Before_Upgrade(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, g.url("?token=garbage"), nil)

	req.Error(err)
	req.NotNil(resp)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	req.Zero(g.hub.Len())
}

func TestGateway_Plain_User_ID_Only_When_Allowed(t *testing.T) {
	req := require.New(t)
	userID := uuid.New()

	// Disabled: the parameter is ignored and the connection is anonymous
	g := newGateway(t, Options{})
	g.dial("?userId=" + userID.String())
	req.Eventually(func() bool { return g.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, ok := g.registry.Lookup(userID)
	req.False(ok)

	// Enabled: the connection registers as that user
	g = newGateway(t, Options{AllowPlainUserID: true})
	g.dial("?userId=" + userID.String())
	req.Eventually(func() bool {
		_, ok := g.registry.Lookup(userID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGateway_Stale_Disconnect_Keeps_New_Session(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	u2 := g.user("u2@example.com")

	// Given u1 reconnects while the first session is still open
	old := g.connect(u1)
	first, _ := g.registry.Lookup(u1)
	fresh := g.connect(u1)
	req.Eventually(func() bool {
		h, _ := g.registry.Lookup(u1)
		return h != first
	}, 2*time.Second, 5*time.Millisecond)

	// When the old session disconnects
	req.NoError(old.Close(websocket.StatusNormalClosure, ""))
	req.Eventually(func() bool { return g.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Then u1 still receives on the new session
	s2 := g.connect(u2)
	send(t, s2, EventTypeSendMessage, "", map[string]any{"recipient": u1, "content": "still there?", "messageType": "text"})
	got := read(t, fresh)
	req.Equal(EventTypeReceiveMessage, got.Type)
	req.Equal("still there?", *decode[domain.Message](t, got).Content)
}

func TestGateway_Disconnect_Unregisters(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	req.NoError(s1.Close(websocket.StatusNormalClosure, ""))

	req.Eventually(func() bool {
		_, ok := g.registry.Lookup(u1)
		return !ok && g.hub.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGateway_Ping_And_Malformed_Events(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	s1 := g.connect(g.user("u1@example.com"))

	send(t, s1, EventTypePing, "p-1", struct{}{})
	pong := read(t, s1)
	req.Equal(EventTypePong, pong.Type)
	req.Equal("p-1", pong.Nonce)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(s1.Write(ctx, websocket.MessageText, []byte("{not json")))
	errEvt := read(t, s1)
	req.Equal(EventTypeError, errEvt.Type)
	req.Equal("INVALID_EVENT", decode[ErrorPayload](t, errEvt).Code)

	send(t, s1, "typing", "", struct{}{})
	req.Equal("UNKNOWN_EVENT", decode[ErrorPayload](t, read(t, s1)).Code)
}

func TestGateway_Shutdown_Closes_Connections(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	req.NoError(g.hub.Shutdown(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := s1.Read(ctx)
	req.Equal(websocket.StatusGoingAway, websocket.CloseStatus(err))
	_, ok := g.registry.Lookup(u1)
	req.False(ok)
}

// stallingRouter holds every send for delay, ignoring ctx.
type stallingRouter struct {
	delay    time.Duration
	started  chan struct{}
	finished atomic.Bool
}

func newStallingRouter(delay time.Duration) *stallingRouter {
	return &stallingRouter{delay: delay, started: make(chan struct{}, 1)}
}

func (r *stallingRouter) SendDirect(_ context.Context, in service.DirectMessageInput) (*domain.Message, error) {
	r.started <- struct{}{}
	time.Sleep(r.delay)
	r.finished.Store(true)
	return &domain.Message{ID: uuid.New(), SenderID: in.Sender}, nil
}

func (r *stallingRouter) SendChannel(context.Context, service.ChannelMessageInput) (*domain.Message, error) {
	return nil, errors.New("not used")
}

func TestGateway_Shutdown_Waits_For_Send_In_Flight(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	router := newStallingRouter(200 * time.Millisecond)
	g.hub.router = router
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	// Given a send is being persisted
	send(t, s1, EventTypeSendMessage, "n-1", map[string]any{
		"sender": u1, "recipient": uuid.New(), "content": "hi", "messageType": "text",
	})
	<-router.started

	// When the hub shuts down
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := g.hub.Shutdown(ctx)

	// Then it returns only after the send completed
	req.NoError(err)
	req.True(router.finished.Load())
}

func TestGateway_Shutdown_Gives_Up_At_Deadline(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	router := newStallingRouter(500 * time.Millisecond)
	g.hub.router = router
	u1 := g.user("u1@example.com")
	s1 := g.connect(u1)

	send(t, s1, EventTypeSendMessage, "n-1", map[string]any{
		"sender": u1, "recipient": uuid.New(), "content": "hi", "messageType": "text",
	})
	<-router.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.hub.Shutdown(ctx)

	req.ErrorIs(err, context.DeadlineExceeded)
	req.False(router.finished.Load())
}

func TestGateway_Direct_Messages_Keep_Send_Order(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, Options{})
	u1 := g.user("u1@example.com")
	u2 := g.user("u2@example.com")
	s1 := g.connect(u1)
	s2 := g.connect(u2)

	// When u1 sends numbered messages back to back on one connection
	const n = 20
	for i := range n {
		send(t, s1, EventTypeSendMessage, fmt.Sprintf("n-%d", i), map[string]any{
			"sender": u1, "recipient": u2, "content": fmt.Sprintf("msg %d", i), "messageType": "text",
		})
	}

	// Then u2 receives them in send order
	for i := range n {
		got := read(t, s2)
		req.Equal(EventTypeReceiveMessage, got.Type)
		req.Equal(fmt.Sprintf("msg %d", i), *decode[domain.Message](t, got).Content)
	}

	// And history lists them in the same order
	history, err := g.messages.ListDirect(context.Background(), u1, u2)
	req.NoError(err)
	req.Len(history, n)
	for i, msg := range history {
		req.Equal(fmt.Sprintf("msg %d", i), *msg.Content)
	}
}

func TestNotifier_Rejects_Foreign_Handle(t *testing.T) {
	err := NewNotifier().Notify(foreignHandle{}, EventTypeReceiveMessage, struct{}{})
	require.ErrorIs(t, err, ErrUnknownHandle)
}

type foreignHandle struct{}

func (foreignHandle) SessionID() uuid.UUID { return uuid.Nil }
