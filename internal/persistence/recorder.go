package persistence

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/llm"
	"github.com/Rrens/meeting-assistant/internal/metrics"
)

const summaryTimeout = 90 * time.Second

// errDeferred marks an end job whose write finishes off the shard worker
var errDeferred = errors.New("deferred")

type jobKind int

const (
	jobOpen jobKind = iota
	jobAppend
	jobEnd
)

func (k jobKind) String() string {
	switch k {
	case jobOpen:
		return "open"
	case jobAppend:
		return "append"
	default:
		return "mark_ended"
	}
}

type job struct {
	kind     jobKind
	owner    string
	sourceID string
	title    string
	event    domain.TranscriptEvent
	status   domain.MeetingStatus
	at       time.Time
}

type openMeeting struct {
	id      uuid.UUID
	nextSeq int
}

// Recorder projects session activity onto meeting records. Calls only
// enqueue; writes for one source run in order on one worker. Storage
// failures are logged and never returned.
type Recorder struct {
	repo       domain.MeetingRepository
	summarizer llm.Summarizer
	timeout    time.Duration
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup

	// meetings waiting on a summary before MarkEnded; appends for them are dropped
	ending    sync.Map
	summaries sync.WaitGroup
	slots     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// New starts the workers. A nil repo makes every call a no-op; a nil or
// unconfigured summarizer disables summaries.
func New(repo domain.MeetingRepository, summarizer llm.Summarizer, cfg config.PersistenceConfig, m *metrics.Metrics) *Recorder {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if summarizer != nil && !summarizer.IsConfigured() {
		summarizer = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		repo:       repo,
		summarizer: summarizer,
		timeout:    timeout,
		metrics:    m,
		slots:      make(chan struct{}, workers),
		ctx:        ctx,
		cancel:     cancel,
	}
	if repo == nil {
		return r
	}

	r.shards = make([]chan job, workers)
	for i := range r.shards {
		r.shards[i] = make(chan job, queue)
		r.wg.Add(1)
		go r.work(r.shards[i])
	}
	return r
}

// Open creates the meeting record for a new session
func (r *Recorder) Open(ownerUserID, sourceID, title string) {
	r.enqueue(job{kind: jobOpen, owner: ownerUserID, sourceID: sourceID, title: title, at: time.Now().UTC()})
}

// AppendFinal appends a final event to the session's open record
func (r *Recorder) AppendFinal(ev domain.TranscriptEvent) {
	if !ev.IsFinal || ev.Text == "" {
		return
	}
	r.enqueue(job{kind: jobAppend, owner: ev.OwnerUserID, sourceID: ev.SourceID, event: ev})
}

// MarkEnded closes the session's open record with status ended or canceled
func (r *Recorder) MarkEnded(ownerUserID, sourceID string, status domain.MeetingStatus) {
	if status != domain.MeetingCanceled {
		status = domain.MeetingEnded
	}
	r.enqueue(job{kind: jobEnd, owner: ownerUserID, sourceID: sourceID, status: status, at: time.Now().UTC()})
}

// Close stops accepting work and waits for queued writes and pending
// summaries to finish
func (r *Recorder) Close() {
	r.Shutdown(context.Background())
}

// Shutdown stops accepting work and waits for queued writes. Summaries
// still running when ctx is done are abandoned; their records are marked
// ended without one.
func (r *Recorder) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()

	r.wg.Wait()

	done := make(chan struct{})
	go func() {
		r.summaries.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline reached, abandoning pending meeting summaries")
		r.cancel()
		<-done
	}
	r.cancel()
}

func (r *Recorder) enqueue(j job) {
	if r.repo == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.shards[shardFor(j.sourceID, len(r.shards))] <- j:
		r.metrics.PersistenceQueueDepth.Inc()
	default:
		r.metrics.PersistenceWritesTotal.WithLabelValues(j.kind.String(), "dropped").Inc()
		log.Warn().Str("session_id", j.sourceID).Str("op", j.kind.String()).Msg("persistence queue full, dropping write")
	}
}

func shardFor(sourceID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(sourceID))
	return int(h.Sum32() % uint32(n))
}

func (r *Recorder) work(queue <-chan job) {
	defer r.wg.Done()

	open := make(map[string]*openMeeting)
	for j := range queue {
		r.metrics.PersistenceQueueDepth.Dec()
		r.run(open, j)
	}
}

func (r *Recorder) run(open map[string]*openMeeting, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(j, &domain.PersistenceError{Op: j.kind.String(), Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	var err error
	switch j.kind {
	case jobOpen:
		err = r.open(open, j)
	case jobAppend:
		err = r.append(open, j)
	case jobEnd:
		err = r.end(open, j)
	}
	if errors.Is(err, errDeferred) {
		return
	}
	if err != nil {
		r.fail(j, err)
		return
	}
	r.metrics.PersistenceWritesTotal.WithLabelValues(j.kind.String(), "ok").Inc()
}

func (r *Recorder) fail(j job, err error) {
	result := "error"
	if errors.Is(err, domain.ErrNotFound) {
		result = "missing"
	}
	r.metrics.PersistenceWritesTotal.WithLabelValues(j.kind.String(), result).Inc()
	log.Warn().Err(err).
		Str("session_id", j.sourceID).
		Str("user_id", j.owner).
		Str("op", j.kind.String()).
		Msg("meeting record write failed")
}

func cacheKey(owner, sourceID string) string {
	return owner + "|" + sourceID
}

// lookup returns the cached open record or asks storage for it
func (r *Recorder) lookup(ctx context.Context, open map[string]*openMeeting, owner, sourceID string) (*openMeeting, error) {
	key := cacheKey(owner, sourceID)
	if _, ok := r.ending.Load(key); ok {
		return nil, &domain.NotFoundError{Resource: "open meeting", Key: sourceID}
	}
	if m, ok := open[key]; ok {
		return m, nil
	}

	rec, err := r.repo.FindOpen(ctx, owner, sourceID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find_open", Err: err}
	}
	if rec == nil {
		return nil, &domain.NotFoundError{Resource: "open meeting", Key: sourceID}
	}

	m := &openMeeting{id: rec.ID, nextSeq: rec.EntryCount + 1}
	open[key] = m
	return m, nil
}

func (r *Recorder) open(open map[string]*openMeeting, j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if existing, err := r.lookup(ctx, open, j.owner, j.sourceID); err == nil && existing != nil {
		return nil
	}

	rec := domain.NewMeetingRecord(j.owner, j.sourceID, j.title)
	rec.StartTime = j.at
	if err := r.repo.Create(ctx, rec); err != nil {
		return &domain.PersistenceError{Op: "create", Err: err}
	}
	open[cacheKey(j.owner, j.sourceID)] = &openMeeting{id: rec.ID, nextSeq: 1}
	return nil
}

func (r *Recorder) append(open map[string]*openMeeting, j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	m, err := r.lookup(ctx, open, j.owner, j.sourceID)
	if err != nil {
		return err
	}

	entry := domain.TranscriptEntry{
		Seq:        m.nextSeq,
		Speaker:    j.event.Speaker,
		Text:       j.event.Text,
		Confidence: j.event.Confidence,
		SpokenAt:   j.event.Timestamp.UTC(),
	}
	if err := r.repo.AppendTranscript(ctx, m.id, entry); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			delete(open, cacheKey(j.owner, j.sourceID))
		}
		return &domain.PersistenceError{Op: "append", Err: err}
	}
	m.nextSeq++
	return nil
}

func (r *Recorder) end(open map[string]*openMeeting, j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	m, err := r.lookup(ctx, open, j.owner, j.sourceID)
	if err != nil {
		return err
	}
	key := cacheKey(j.owner, j.sourceID)
	delete(open, key)

	if j.status == domain.MeetingEnded && r.summarizer != nil && m.nextSeq > 1 {
		r.ending.Store(key, struct{}{})
		r.summaries.Add(1)
		go r.endWithSummary(m.id, j)
		return errDeferred
	}

	if err := r.repo.MarkEnded(ctx, m.id, j.status, j.at); err != nil {
		return &domain.PersistenceError{Op: "mark_ended", Err: err}
	}
	return nil
}

// endWithSummary summarizes and then ends a meeting without holding up the
// shard the meeting was written on
func (r *Recorder) endWithSummary(meetingID uuid.UUID, j job) {
	defer r.summaries.Done()
	defer r.ending.Delete(cacheKey(j.owner, j.sourceID))

	select {
	case r.slots <- struct{}{}:
		r.summarize(meetingID, j.sourceID)
		<-r.slots
	case <-r.ctx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.repo.MarkEnded(ctx, meetingID, j.status, j.at); err != nil {
		r.fail(j, &domain.PersistenceError{Op: "mark_ended", Err: err})
		return
	}
	r.metrics.PersistenceWritesTotal.WithLabelValues(j.kind.String(), "ok").Inc()
}

// summarize stores a generated summary while the record is still active
func (r *Recorder) summarize(meetingID uuid.UUID, sourceID string) {
	ctx, cancel := context.WithTimeout(r.ctx, summaryTimeout)
	defer cancel()

	logger := log.With().Str("session_id", sourceID).Str("meeting_id", meetingID.String()).Logger()

	rec, err := r.repo.Get(ctx, meetingID)
	if err != nil || rec == nil {
		logger.Warn().Err(err).Msg("could not load meeting for summary")
		return
	}

	resp, err := r.summarizer.Summarize(ctx, llm.SummaryRequest{Title: rec.Title, Transcript: rec.Transcript})
	if err != nil {
		r.metrics.PersistenceWritesTotal.WithLabelValues("summary", "error").Inc()
		logger.Warn().Err(err).Str("provider", r.summarizer.Name()).Msg("meeting summary failed")
		return
	}

	if err := r.repo.UpdateSummary(ctx, meetingID, resp.Summary); err != nil {
		r.metrics.PersistenceWritesTotal.WithLabelValues("summary", "error").Inc()
		logger.Warn().Err(err).Msg("storing meeting summary failed")
		return
	}
	r.metrics.PersistenceWritesTotal.WithLabelValues("summary", "ok").Inc()
	logger.Info().Str("model", resp.Model).Int("tokens", resp.TokensUsed).Int64("latency_ms", resp.LatencyMs).Msg("meeting summary stored")
}
