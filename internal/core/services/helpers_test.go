package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"parley/internal/app/registry"
	"parley/internal/core/domain"
	"parley/internal/core/events"
	"slices"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClient records every frame queued to it.
type testClient struct {
	id     string
	userID int64

	mu      sync.Mutex
	frames  []domain.Envelope
	closed  bool
	failing bool
	once    sync.Once
	done    chan struct{}
}

func newTestClient(id string, userID int64) *testClient {
	return &testClient{id: id, userID: userID, done: make(chan struct{})}
}

func (c *testClient) ID() string            { return c.id }
func (c *testClient) UserID() int64         { return c.userID }
func (c *testClient) Done() <-chan struct{} { return c.done }

func (c *testClient) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failing {
		return domain.ErrConnectionClosed
	}
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *testClient) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *testClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *testClient) all() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.frames)
}

func (c *testClient) ofType(t domain.MessageType) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range c.all() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// only decodes the single frame of type t into v.
func (c *testClient) only(t *testing.T, typ domain.MessageType, v any) {
	t.Helper()
	frames := c.ofType(typ)
	if len(frames) != 1 {
		t.Fatalf("client %s: got %d %s frames, want 1 (all: %v)", c.id, len(frames), typ, c.types())
	}
	if err := json.Unmarshal(frames[0].Data, v); err != nil {
		t.Fatalf("decode %s: %v", typ, err)
	}
}

func (c *testClient) types() []domain.MessageType {
	var out []domain.MessageType
	for _, env := range c.all() {
		out = append(out, env.Type)
	}
	return out
}

func (c *testClient) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// memStore is an in-memory stand-in for every repository.
type memStore struct {
	mu           sync.Mutex
	participants map[int64][]int64
	lastRead     map[[2]int64]time.Time
	messages     []domain.Message
	nextID       int64
	touched      map[int64]time.Time
	users        map[int64]domain.UserProfile
	contacts     map[[2]int64]bool
	failCreate   error
	clock        time.Time
}

func newMemStore() *memStore {
	return &memStore{
		participants: make(map[int64][]int64),
		lastRead:     make(map[[2]int64]time.Time),
		touched:      make(map[int64]time.Time),
		users:        make(map[int64]domain.UserProfile),
		contacts:     make(map[[2]int64]bool),
		clock:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) addUser(id int64, name string) {
	m.users[id] = domain.UserProfile{ID: id, Username: name}
}

func (m *memStore) join(convID int64, userIDs ...int64) {
	m.participants[convID] = append(m.participants[convID], userIDs...)
}

func (m *memStore) befriend(a, b int64) {
	m.contacts[[2]int64{a, b}] = true
	m.contacts[[2]int64{b, a}] = true
}

// seed stores a message written by senderID directly.
func (m *memStore) seed(convID, senderID int64, content string) domain.Message {
	msg, _ := m.CreateMessage(context.Background(), &domain.NewMessage{
		ConversationID: convID, SenderID: senderID, Content: content, Type: "text",
	})
	return *msg
}

func (m *memStore) FindParticipant(_ context.Context, convID, userID int64) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.participants[convID], userID) {
		return nil, nil
	}
	return &domain.Participant{ConversationID: convID, UserID: userID}, nil
}

func (m *memStore) ListParticipantIDs(_ context.Context, convID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.participants[convID]), nil
}

func (m *memStore) UpdateLastRead(_ context.Context, convID, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRead[[2]int64{convID, userID}] = at
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, in *domain.NewMessage) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	m.nextID++
	at := m.clock.Add(time.Duration(m.nextID) * time.Second)
	msg := domain.Message{
		ID:             m.nextID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		MediaURL:       in.MediaURL,
		ReplyToID:      in.ReplyToID,
		Status:         domain.MessageSent,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if u, ok := m.users[in.SenderID]; ok {
		msg.Sender = &u
	}
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *memStore) ListMessages(_ context.Context, convID int64, before *time.Time, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if msg.ConversationID != convID {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, convID int64, ids []int64, excludeSender int64, status domain.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.ConversationID == convID && msg.SenderID != excludeSender && slices.Contains(ids, msg.ID) {
			msg.Status = status
		}
	}
	return nil
}

func (m *memStore) ListAuthors(_ context.Context, convID int64, ids []int64) ([]domain.MessageAuthor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MessageAuthor
	for _, msg := range m.messages {
		if msg.ConversationID == convID && slices.Contains(ids, msg.ID) {
			out = append(out, domain.MessageAuthor{MessageID: msg.ID, SenderID: msg.SenderID})
		}
	}
	return out, nil
}

func (m *memStore) status(id int64) domain.MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg.Status
		}
	}
	return ""
}

func (m *memStore) TouchLastMessageAt(_ context.Context, convID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[convID] = at
	return nil
}

func (m *memStore) GetProfile(_ context.Context, userID int64) (*domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (m *memStore) CanContact(_ context.Context, a, b int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contacts[[2]int64{a, b}], nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type harness struct {
	store      *memStore
	registry   *registry.Registry
	dispatcher *events.Dispatcher
	chat       *ChatService
	call       *CallService
}

func newHarness(t *testing.T, strict bool, ringTimeout time.Duration) *harness {
	t.Helper()
	log := testLogger()
	store := newMemStore()
	reg := registry.NewRegistry(log)
	d := events.NewDispatcher(log)
	chat := NewChatService(log, store, store, store, store, reg, store)
	chat.Bind(d)
	call := NewCallService(log, store, store, reg, strict, ringTimeout)
	call.Bind(d)
	return &harness{store: store, registry: reg, dispatcher: d, chat: chat, call: call}
}

// connect registers a new client for userID.
func (h *harness) connect(id string, userID int64) *testClient {
	c := newTestClient(id, userID)
	h.registry.Register(c)
	return c
}

// send dispatches a {type, data} frame from c.
func (h *harness) send(t *testing.T, c *testClient, typ domain.MessageType, data any) {
	t.Helper()
	env, err := domain.NewEnvelope(typ, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.dispatcher.Dispatch(context.Background(), c, c.UserID(), raw)
}

func onlyError(t *testing.T, c *testClient) domain.ErrorPayload {
	t.Helper()
	var p domain.ErrorPayload
	c.only(t, domain.TypeError, &p)
	return p
}
