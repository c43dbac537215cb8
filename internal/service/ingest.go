package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/metrics"
	"github.com/Rrens/meeting-assistant/internal/provider"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

// WebhookNormalizer turns transcript webhooks into events
type WebhookNormalizer interface {
	FromWebhookPayload(ctx context.Context, env transcript.Envelope) bool
}

// WebhookIngest processes accepted webhooks after the HTTP response has
// been sent. A single worker keeps arrival order.
type WebhookIngest struct {
	provider   string
	normalizer WebhookNormalizer
	status     StatusHandler
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan transcript.Envelope
	done   chan struct{}
}

// NewWebhookIngest starts the ingest worker
func NewWebhookIngest(providerName string, normalizer WebhookNormalizer, status StatusHandler, queueSize int, m *metrics.Metrics) *WebhookIngest {
	if queueSize <= 0 {
		queueSize = 1024
	}
	w := &WebhookIngest{
		provider:   providerName,
		normalizer: normalizer,
		status:     status,
		metrics:    m,
		queue:      make(chan transcript.Envelope, queueSize),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues a webhook. It never blocks; false means it was dropped.
func (w *WebhookIngest) Submit(env transcript.Envelope) bool {
	w.metrics.WebhookRequestsTotal.WithLabelValues(w.provider, eventLabel(env.Event)).Inc()

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- env:
		return true
	default:
		w.metrics.DroppedEventsTotal.WithLabelValues("queue_full").Inc()
		log.Warn().Str("event", env.Event).Str("session_id", env.SessionID()).Msg("webhook queue full, dropping event")
		return false
	}
}

// Close stops accepting webhooks and waits for queued ones
func (w *WebhookIngest) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

func (w *WebhookIngest) run() {
	defer close(w.done)
	for env := range w.queue {
		w.process(env)
	}
}

func (w *WebhookIngest) process(env transcript.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.DroppedEventsTotal.WithLabelValues("panic").Inc()
			log.Error().Str("event", env.Event).Str("panic", fmt.Sprint(r)).Msg("webhook processing panicked")
		}
	}()

	switch {
	case env.IsTranscript():
		w.normalizer.FromWebhookPayload(context.Background(), env)
	case env.IsStatus():
		sessionID := env.SessionID()
		status, ok := StatusFromEnvelope(env)
		if sessionID == "" || !ok {
			log.Debug().Str("event", env.Event).Str("session_id", sessionID).Msg("ignoring status webhook without session or status")
			return
		}
		w.status.HandleStatusChange(sessionID, status)
	default:
		log.Debug().Str("event", env.Event).Msg("ignoring webhook event")
	}
}

// StatusFromEnvelope reads the bot status carried by a status webhook.
// Events named after the status ("bot.done") are understood as well as
// bot.status_change with a status object.
func StatusFromEnvelope(env transcript.Envelope) (domain.BotStatus, bool) {
	status := provider.NormalizeStatus(env.Data)
	if status != domain.BotStatusCreated {
		return status, true
	}

	code := strings.TrimPrefix(env.Event, "bot.")
	if code == "" || env.Event == transcript.EventStatus {
		return "", false
	}
	raw, _ := json.Marshal(map[string]string{"code": code})
	status = provider.NormalizeStatus(raw)
	if status == domain.BotStatusCreated && code != "ready" && code != "created" {
		return "", false
	}
	return status, true
}

// knownEvents are the webhook events counted under their own label
var knownEvents = map[string]struct{}{
	transcript.EventSegment:     {},
	transcript.EventData:        {},
	transcript.EventPartialData: {},
	transcript.EventStatus:      {},
}

func init() {
	for _, status := range []domain.BotStatus{
		domain.BotStatusCreated,
		domain.BotStatusJoining,
		domain.BotStatusWaitingRoom,
		domain.BotStatusInCall,
		domain.BotStatusInCallRecording,
		domain.BotStatusInCallNotRecording,
		domain.BotStatusDone,
		domain.BotStatusFatal,
	} {
		knownEvents["bot."+string(status)] = struct{}{}
	}
}

// eventLabel bounds metric cardinality to a fixed set of event names
func eventLabel(event string) string {
	if event == "" {
		return "unknown"
	}
	if _, ok := knownEvents[event]; ok {
		return event
	}
	return "other"
}
