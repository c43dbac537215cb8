package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/provider"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

// MockGateway mocks the provider.Gateway interface
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string {
	return "recall"
}

func (m *MockGateway) CreateSession(ctx context.Context, req provider.CreateRequest) (*domain.BotSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BotSession), args.Error(1)
}

func (m *MockGateway) GetStatus(ctx context.Context, sessionID string) *domain.BotSession {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*domain.BotSession)
}

func (m *MockGateway) Terminate(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockGateway) OpenStream(ctx context.Context, sessionID string) (provider.StreamConn, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(provider.StreamConn), args.Error(1)
}

// MockRecorder mocks the Recorder interface
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Open(ownerUserID, sourceID, title string) {
	m.Called(ownerUserID, sourceID, title)
}

func (m *MockRecorder) MarkEnded(ownerUserID, sourceID string, status domain.MeetingStatus) {
	m.Called(ownerUserID, sourceID, status)
}

// fakeStrategy records Prepare/Attach calls
type fakeStrategy struct {
	mu        sync.Mutex
	attachErr error
	attached  []string
	attachFn  func(domain.BotSession)
}

func (f *fakeStrategy) Kind() domain.ChannelKind {
	return domain.ChannelWebhook
}

func (f *fakeStrategy) Wait() {}

func (f *fakeStrategy) Prepare(opts *provider.LaunchOptions) {
	opts.WebhookURL = "https://assistant.example.com/webhooks/recall"
}

func (f *fakeStrategy) Attach(_ context.Context, s domain.BotSession) error {
	f.mu.Lock()
	f.attached = append(f.attached, s.ID)
	fn := f.attachFn
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return f.attachErr
}

// notifySpy captures control messages per user
type notifySpy struct {
	mu   sync.Mutex
	msgs map[string][]hub.Message
}

func (n *notifySpy) PublishControl(userID string, msg hub.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msgs == nil {
		n.msgs = make(map[string][]hub.Message)
	}
	n.msgs[userID] = append(n.msgs[userID], msg)
}

func (n *notifySpy) types(userID string) []hub.MessageType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []hub.MessageType
	for _, m := range n.msgs[userID] {
		out = append(out, m.Type)
	}
	return out
}

// liveSpy records forgotten sources
type liveSpy struct {
	mu     sync.Mutex
	forgot []string
}

func (l *liveSpy) Forget(sourceID string) {
	l.mu.Lock()
	l.forgot = append(l.forgot, sourceID)
	l.mu.Unlock()
}

// statusSpy records status changes
type statusSpy struct {
	mu      sync.Mutex
	changes map[string]domain.BotStatus
}

func (s *statusSpy) HandleStatusChange(sessionID string, status domain.BotStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changes == nil {
		s.changes = make(map[string]domain.BotStatus)
	}
	s.changes[sessionID] = status
	return true
}

func (s *statusSpy) get(sessionID string) domain.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes[sessionID]
}

// webhookSpy records transcript envelopes
type webhookSpy struct {
	mu     sync.Mutex
	events []string
}

func (w *webhookSpy) FromWebhookPayload(_ context.Context, env transcript.Envelope) bool {
	w.mu.Lock()
	w.events = append(w.events, env.Event)
	w.mu.Unlock()
	return true
}

// connSpy is a hub.Connection that keeps what it was sent
type connSpy struct {
	id   string
	mu   sync.Mutex
	sent []hub.Message
}

func (c *connSpy) ID() string { return c.id }

func (c *connSpy) Send(msg hub.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *connSpy) Close() error { return nil }

func (c *connSpy) messages() []hub.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.Message(nil), c.sent...)
}
