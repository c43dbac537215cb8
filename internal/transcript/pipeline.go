package transcript

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/metrics"
)

// Persister stores final events. It must not block.
type Persister interface {
	AppendFinal(ev domain.TranscriptEvent)
}

// Publisher delivers events to live subscribers
type Publisher interface {
	Publish(ev domain.TranscriptEvent)
}

// Pipeline is the single consumer of normalized events. Finals are
// deduplicated, handed to persistence and then published; interims are
// only published.
type Pipeline struct {
	dedup   Deduper
	store   Persister
	hub     Publisher
	live    *LiveLine
	metrics *metrics.Metrics
}

// NewPipeline creates a pipeline. dedup may be nil.
func NewPipeline(dedup Deduper, store Persister, hub Publisher, live *LiveLine, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		dedup:   dedup,
		store:   store,
		hub:     hub,
		live:    live,
		metrics: m,
	}
}

// Emit implements Emitter
func (p *Pipeline) Emit(ctx context.Context, ev domain.TranscriptEvent) {
	if ev.IsFinal && p.isDuplicate(ctx, ev) {
		p.metrics.DuplicateFinalsTotal.Inc()
		log.Debug().Str("session_id", ev.SourceID).Str("segment", ev.SegmentKey).Msg("suppressed duplicate final segment")
		return
	}

	p.live.Apply(ev)

	if ev.IsFinal && ev.Text != "" {
		p.store.AppendFinal(ev)
	}

	p.hub.Publish(ev)
}

// Live returns the merged live view
func (p *Pipeline) Live() *LiveLine {
	return p.live
}

// Forget releases per-source state once a session has ended
func (p *Pipeline) Forget(sourceID string) {
	p.live.Forget(sourceID)
}

func (p *Pipeline) isDuplicate(ctx context.Context, ev domain.TranscriptEvent) bool {
	if p.dedup == nil || ev.SegmentKey == "" {
		return false
	}
	first, err := p.dedup.FirstSeen(ctx, ev.SourceID+"|"+ev.SegmentKey)
	if err != nil {
		log.Warn().Err(err).Str("session_id", ev.SourceID).Msg("dedup check failed, passing event through")
		return false
	}
	return !first
}
