package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/meeting-assistant/internal/api/handler"
	"github.com/Rrens/meeting-assistant/internal/api/middleware"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/security"
	"github.com/Rrens/meeting-assistant/internal/service"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["success"] != true {
		t.Error("expected success to be true")
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}

	if data["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", data["status"])
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyCheck(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	handler.ReadyCheck(map[string]handler.Pinger{"database": ok})(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ReadyCheck(map[string]handler.Pinger{"database": ok, "redis": down})(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	checks := body["error"].(map[string]any)["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])
}

// fakeBots is an in-memory BotController
type fakeBots struct {
	mu        sync.Mutex
	launchErr error
	launched  []service.LaunchRequest
	sessions  map[string]*domain.BotSession
}

func newFakeBots() *fakeBots {
	return &fakeBots{sessions: make(map[string]*domain.BotSession)}
}

func (f *fakeBots) Launch(_ context.Context, req service.LaunchRequest) (*domain.BotSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, req)
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	s := &domain.BotSession{
		ID:          "bot-" + req.OwnerUserID,
		OwnerUserID: req.OwnerUserID,
		Mode:        req.Options.Mode,
		TargetURL:   req.TargetURL,
		DisplayName: req.DisplayName,
		Status:      domain.BotStatusJoining,
	}
	f.sessions[req.OwnerUserID] = s
	return s, nil
}

func (f *fakeBots) Current(owner string) *domain.BotSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[owner]
}

func (f *fakeBots) Get(owner, id string) (*domain.BotSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.sessions[owner]; s != nil && s.ID == id {
		return s, nil
	}
	return nil, &domain.NotFoundError{Resource: "session", Key: id}
}

func (f *fakeBots) Terminate(_ context.Context, target service.TerminateTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[target.OwnerUserID]
	if s == nil || (target.SessionID != "" && s.ID != target.SessionID) {
		return &domain.NotFoundError{Resource: "session", Key: target.SessionID}
	}
	delete(f.sessions, target.OwnerUserID)
	return nil
}

type fakeSnapshots struct{}

func (fakeSnapshots) Snapshot(sourceID string) transcript.Snapshot {
	final := domain.TranscriptEvent{SourceID: sourceID, Speaker: "Alice", Text: "hello", IsFinal: true}
	return transcript.Snapshot{SourceID: sourceID, Finals: []domain.TranscriptEvent{final}}
}

func botRouter(bots handler.BotController) http.Handler {
	h := handler.NewBotHandler(bots, fakeSnapshots{})
	r := chi.NewRouter()
	r.Use(middleware.NewAuthMiddleware(nil).Authenticate)
	r.Post("/bots", h.Launch)
	r.Get("/bots/current", h.Current)
	r.Delete("/bots/current", h.DeleteCurrent)
	r.Get("/bots/{botID}", h.Get)
	r.Delete("/bots/{botID}", h.Delete)
	return r
}

func TestBotHandler_Launch(t *testing.T) {
	bots := newFakeBots()
	router := botRouter(bots)

	rec := serve(router, makeJSONRequest(http.MethodPost, "/bots", map[string]any{
		"meeting_url": "https://meet.google.com/abc-defg-hij",
		"title":       "Weekly sync",
	}, "u1"))

	require.Equal(t, http.StatusCreated, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "bot-u1", data["id"])

	require.Len(t, bots.launched, 1)
	req := bots.launched[0]
	assert.Equal(t, "u1", req.OwnerUserID)
	assert.Equal(t, handler.DefaultBotName, req.DisplayName)
	assert.Equal(t, "Weekly sync", req.Title)
	assert.Equal(t, domain.ModeBot, req.Options.Mode)
}

func TestBotHandler_LaunchValidation(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing meeting url", map[string]any{"bot_name": "Notes"}, "meeting_url"},
		{"bad url", map[string]any{"meeting_url": "not a url"}, "MeetingURL"},
		{"bad mode", map[string]any{"meeting_url": "https://meet.example/x", "mode": "robot"}, "Mode"},
		{"negative timeout", map[string]any{"meeting_url": "https://meet.example/x", "waiting_room_timeout": -1}, "WaitingRoomTimeout"},
		{"audio without data", map[string]any{"meeting_url": "https://meet.example/x", "output_audio": map[string]any{"kind": "mp3"}}, "B64Data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bots := newFakeBots()
			rec := serve(botRouter(bots), makeJSONRequest(http.MethodPost, "/bots", tt.body, "u1"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
			assert.Empty(t, bots.launched)
		})
	}

	rec := serve(botRouter(newFakeBots()), httptest.NewRequest(http.MethodPost, "/bots", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBotHandler_UploadSessionNeedsNoMeetingURL(t *testing.T) {
	bots := newFakeBots()
	rec := serve(botRouter(bots), makeJSONRequest(http.MethodPost, "/bots", map[string]any{
		"mode":         "sdk_upload",
		"target_label": "Desktop recording",
	}, "u1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.ModeSDKUpload, bots.launched[0].Options.Mode)
	assert.Equal(t, "Desktop recording", bots.launched[0].Options.TargetLabel)
}

func TestBotHandler_LaunchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"conflict", &domain.ConflictError{OwnerUserID: "u1", SessionID: "bot-1"}, http.StatusConflict, "you already have an active session"},
		{"provider", &domain.ProviderError{Op: "create", Status: 400, Message: "meeting_url is invalid"}, http.StatusBadGateway, "failed to create session: meeting_url is invalid"},
		{"shutting down", domain.ErrShuttingDown, http.StatusServiceUnavailable, "service is shutting down"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bots := newFakeBots()
			bots.launchErr = tt.err
			rec := serve(botRouter(bots), makeJSONRequest(http.MethodPost, "/bots", map[string]any{
				"meeting_url": "https://meet.example/x",
			}, "u1"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode(t, rec)["error"])
		})
	}
}

func TestBotHandler_CurrentGetDelete(t *testing.T) {
	bots := newFakeBots()
	router := botRouter(bots)

	rec := serve(router, makeJSONRequest(http.MethodGet, "/bots/current", nil, "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	serve(router, makeJSONRequest(http.MethodPost, "/bots", map[string]any{"meeting_url": "https://meet.example/x"}, "u1"))

	rec = serve(router, makeJSONRequest(http.MethodGet, "/bots/current", nil, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "bot-u1", data["bot"].(map[string]any)["id"])
	assert.Len(t, data["transcript"].(map[string]any)["finals"], 1)

	rec = serve(router, makeJSONRequest(http.MethodGet, "/bots/bot-u1", nil, "u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, makeJSONRequest(http.MethodDelete, "/bots/bot-u1", nil, "u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, makeJSONRequest(http.MethodDelete, "/bots/current", nil, "u1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, bots.Current("u1"))
}

// fakeMeetings serves fixed records
type fakeMeetings struct {
	records map[uuid.UUID]*domain.MeetingRecord
}

func (f fakeMeetings) Get(_ context.Context, id uuid.UUID) (*domain.MeetingRecord, error) {
	return f.records[id], nil
}

func (f fakeMeetings) ListByOwner(_ context.Context, owner string, limit, offset int) ([]domain.MeetingRecord, error) {
	var out []domain.MeetingRecord
	for _, r := range f.records {
		if r.OwnerUserID == owner {
			out = append(out, *r)
		}
	}
	return out, nil
}

func meetingRouter(meetings handler.MeetingReader) http.Handler {
	h := handler.NewMeetingHandler(meetings)
	r := chi.NewRouter()
	r.Use(middleware.NewAuthMiddleware(nil).Authenticate)
	r.Get("/meetings", h.List)
	r.Get("/meetings/{meetingID}", h.Get)
	return r
}

func TestMeetingHandler(t *testing.T) {
	record := domain.NewMeetingRecord("u1", "bot-1", "Weekly sync")
	router := meetingRouter(fakeMeetings{records: map[uuid.UUID]*domain.MeetingRecord{record.ID: record}})

	rec := serve(router, makeJSONRequest(http.MethodGet, "/meetings/"+record.ID.String(), nil, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Weekly sync", decode(t, rec)["data"].(map[string]any)["title"])

	rec = serve(router, makeJSONRequest(http.MethodGet, "/meetings/"+record.ID.String(), nil, "u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, makeJSONRequest(http.MethodGet, "/meetings/not-a-uuid", nil, "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, makeJSONRequest(http.MethodGet, "/meetings?limit=5", nil, "u2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["data"])

	rec = serve(meetingRouter(nil), makeJSONRequest(http.MethodGet, "/meetings", nil, "u1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// queueSpy records submitted webhooks
type queueSpy struct {
	mu     sync.Mutex
	events []string
}

func (q *queueSpy) Submit(env transcript.Envelope) bool {
	q.mu.Lock()
	q.events = append(q.events, env.Event)
	q.mu.Unlock()
	return true
}

func webhookRouter(secret string, queue handler.WebhookQueue) http.Handler {
	h := handler.NewWebhookHandler("recall", security.NewWebhookVerifier(secret), queue)
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.Receive)
	return r
}

const segmentBody = `{"event":"transcript.segment","data":{"bot_id":"bot-1","segment":{"text":"hello"}}}`

func TestWebhookHandler_Receive(t *testing.T) {
	queue := &queueSpy{}
	router := webhookRouter("", queue)

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/webhooks/recall", bytes.NewBufferString(segmentBody)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"transcript.segment"}, queue.events)

	// malformed bodies are acknowledged and dropped
	rec = serve(router, httptest.NewRequest(http.MethodPost, "/webhooks/recall", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, queue.events, 1)

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/webhooks/other", bytes.NewBufferString(segmentBody)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookHandler_Signature(t *testing.T) {
	queue := &queueSpy{}
	router := webhookRouter("s3cret", queue)

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/webhooks/recall", bytes.NewBufferString(segmentBody)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/recall", bytes.NewBufferString(segmentBody))
	req.Header.Set(security.WebhookSignatureHeader, "sha256="+security.NewWebhookVerifier("s3cret").Sign([]byte(segmentBody)))
	rec = serve(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"transcript.segment"}, queue.events)
}

// BenchmarkJWTGeneration benchmarks token generation
func BenchmarkJWTGeneration(b *testing.B) {
	manager := security.NewJWTManager("benchmark-secret-key-32-chars!!", "meeting-assistant", 15*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = manager.GenerateAccessToken("user-1", "Benchmark")
	}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// Helper to make JSON request
func makeJSONRequest(method, path string, body any, userID string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	return req
}
