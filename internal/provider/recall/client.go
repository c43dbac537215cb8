package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/provider"
)

const maxErrorBody = 4 << 10

// Client implements provider.Gateway for Recall.ai
type Client struct {
	baseURL               string
	streamURL             string
	apiKey                string
	transcriptionProvider string
	waitingRoomTimeout    int
	nooneJoinedTimeout    int
	client                *http.Client
	dialer                *websocket.Dialer
	now                   func() time.Time

	// ids created through /sdk-upload/, which live under that resource
	uploads sync.Map
}

// NewClient creates a new Recall.ai gateway
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:               strings.TrimRight(cfg.BaseURL, "/"),
		streamURL:             cfg.StreamURL,
		apiKey:                cfg.APIKey,
		transcriptionProvider: cfg.TranscriptionProvider,
		waitingRoomTimeout:    cfg.WaitingRoomTimeout,
		nooneJoinedTimeout:    cfg.NooneJoinedTimeout,
		client:                &http.Client{Timeout: timeout},
		dialer:                &websocket.Dialer{HandshakeTimeout: timeout},
		now:                   time.Now,
	}
}

// Name returns the provider identifier
func (c *Client) Name() string {
	return "recall"
}

type automaticLeave struct {
	WaitingRoomTimeout int `json:"waiting_room_timeout"`
	NooneJoinedTimeout int `json:"noone_joined_timeout"`
}

type transcriptionOptions struct {
	Provider string `json:"provider"`
}

type createBody struct {
	MeetingURL           string                `json:"meeting_url,omitempty"`
	BotName              string                `json:"bot_name,omitempty"`
	AutomaticLeave       automaticLeave        `json:"automatic_leave"`
	TranscriptionOptions *transcriptionOptions `json:"transcription_options,omitempty"`
	WebhookURL           string                `json:"webhook_url,omitempty"`
	OutputAudio          *provider.OutputAudio `json:"output_audio,omitempty"`
}

type resource struct {
	ID string `json:"id"`
}

// CreateSession creates a bot (or an SDK upload) for the request
func (c *Client) CreateSession(ctx context.Context, req provider.CreateRequest) (*domain.BotSession, error) {
	opts := req.Options
	mode := opts.Mode
	if mode == "" {
		mode = domain.ModeBot
	}

	body := createBody{
		BotName: req.DisplayName,
		AutomaticLeave: automaticLeave{
			WaitingRoomTimeout: firstPositive(opts.WaitingRoomTimeout, c.waitingRoomTimeout),
			NooneJoinedTimeout: firstPositive(opts.NooneJoinedTimeout, c.nooneJoinedTimeout),
		},
		WebhookURL:  opts.WebhookURL,
		OutputAudio: opts.OutputAudio,
	}
	if mode == domain.ModeBot {
		body.MeetingURL = req.TargetURL
	}
	if tp := firstNonEmpty(opts.TranscriptionProvider, c.transcriptionProvider); tp != "" {
		body.TranscriptionOptions = &transcriptionOptions{Provider: tp}
	}

	path := "/bot/"
	if mode == domain.ModeSDKUpload {
		path = "/sdk-upload/"
	}

	raw, err := c.do(ctx, "create", http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var res resource
	if err := json.Unmarshal(raw, &res); err != nil || res.ID == "" {
		return nil, &domain.ProviderError{Op: "create", Message: "response did not include a session id"}
	}
	if mode == domain.ModeSDKUpload {
		c.uploads.Store(res.ID, struct{}{})
	}

	return &domain.BotSession{
		ID:          res.ID,
		OwnerUserID: req.OwnerUserID,
		Mode:        mode,
		TargetURL:   body.MeetingURL,
		TargetLabel: opts.TargetLabel,
		DisplayName: req.DisplayName,
		Status:      provider.NormalizeStatus(raw),
		CreatedAt:   c.now().UTC(),
	}, nil
}

func (c *Client) isUpload(sessionID string) bool {
	_, ok := c.uploads.Load(sessionID)
	return ok
}

// GetStatus fetches the bot or upload and returns nil on any failure
func (c *Client) GetStatus(ctx context.Context, sessionID string) *domain.BotSession {
	path := "/bot/"
	if c.isUpload(sessionID) {
		path = "/sdk-upload/"
	}
	raw, err := c.do(ctx, "status", http.MethodGet, path+url.PathEscape(sessionID)+"/", nil)
	if err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("provider status fetch failed")
		return nil
	}

	var res struct {
		ID         string `json:"id"`
		BotName    string `json:"bot_name"`
		MeetingURL any    `json:"meeting_url"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil
	}
	if res.ID == "" {
		res.ID = sessionID
	}

	session := &domain.BotSession{
		ID:          res.ID,
		DisplayName: res.BotName,
		Status:      provider.NormalizeStatus(raw),
	}
	// meeting_url is a plain string on create and an object on some reads
	if s, ok := res.MeetingURL.(string); ok {
		session.TargetURL = s
	}
	return session
}

// Terminate deletes the bot, which makes it leave its call. Uploads have no
// call to leave; the recording client ends them, so nothing is sent.
func (c *Client) Terminate(ctx context.Context, sessionID string) error {
	if _, ok := c.uploads.LoadAndDelete(sessionID); ok {
		return nil
	}
	_, err := c.do(ctx, "terminate", http.MethodDelete, "/bot/"+url.PathEscape(sessionID)+"/", nil)
	return err
}

// OpenStream dials the realtime transcript websocket for a bot
func (c *Client) OpenStream(ctx context.Context, sessionID string) (provider.StreamConn, error) {
	endpoint, err := c.streamEndpoint(sessionID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", authorization(c.apiKey))

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &domain.ProviderError{Op: "stream", Status: status, Message: err.Error()}
	}
	return &stream{conn: conn}, nil
}

// streamEndpoint resolves the websocket address. A configured stream URL may
// carry a {bot_id} placeholder; otherwise the bot id is sent as a query value.
func (c *Client) streamEndpoint(sessionID string) (string, error) {
	if c.streamURL != "" {
		if strings.Contains(c.streamURL, "{bot_id}") {
			return strings.ReplaceAll(c.streamURL, "{bot_id}", url.PathEscape(sessionID)), nil
		}
		u, err := url.Parse(c.streamURL)
		if err != nil {
			return "", fmt.Errorf("invalid stream url: %w", err)
		}
		q := u.Query()
		q.Set("bot_id", sessionID)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/bot/" + url.PathEscape(sessionID) + "/transcript/stream/"
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", authorization(c.apiKey))
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Op: op, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ProviderError{Op: op, Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	return raw, nil
}

// authorization builds the header value without doubling an existing scheme
func authorization(apiKey string) string {
	key := strings.TrimSpace(apiKey)
	if strings.HasPrefix(strings.ToLower(key), "token ") {
		return "Token " + strings.TrimSpace(key[len("token "):])
	}
	return "Token " + key
}

// errorMessage extracts the upstream reason from an error body
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := firstNonEmpty(body.Detail, body.Message, body.Error); msg != "" {
			return msg
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type stream struct {
	conn *websocket.Conn
}

func (s *stream) ReadFrame() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *stream) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
