package transcript

import (
	"sync"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

// maxLiveFinals bounds the finals kept per source in the live view
const maxLiveFinals = 500

// Snapshot is the rendered live view of one source
type Snapshot struct {
	SourceID string                   `json:"sourceId"`
	Finals   []domain.TranscriptEvent `json:"finals"`
	Interim  *domain.TranscriptEvent  `json:"interim,omitempty"`
}

type line struct {
	finals  []domain.TranscriptEvent
	interim *domain.TranscriptEvent
}

// LiveLine applies the interim/final merge rule per source: an interim
// replaces the pending interim, a final appends and clears it.
type LiveLine struct {
	mu    sync.Mutex
	lines map[string]*line
}

// NewLiveLine creates an empty live view
func NewLiveLine() *LiveLine {
	return &LiveLine{lines: make(map[string]*line)}
}

// Apply merges one event into its source's line
func (l *LiveLine) Apply(ev domain.TranscriptEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln, ok := l.lines[ev.SourceID]
	if !ok {
		ln = &line{}
		l.lines[ev.SourceID] = ln
	}

	if !ev.IsFinal {
		e := ev
		ln.interim = &e
		return
	}

	ln.interim = nil
	ln.finals = append(ln.finals, ev)
	if over := len(ln.finals) - maxLiveFinals; over > 0 {
		ln.finals = append(ln.finals[:0], ln.finals[over:]...)
	}
}

// Snapshot returns a copy of the source's current view
func (l *LiveLine) Snapshot(sourceID string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{SourceID: sourceID, Finals: []domain.TranscriptEvent{}}
	ln, ok := l.lines[sourceID]
	if !ok {
		return snap
	}
	snap.Finals = append(snap.Finals, ln.finals...)
	if ln.interim != nil {
		e := *ln.interim
		snap.Interim = &e
	}
	return snap
}

// Forget drops a source's view once its session has ended
func (l *LiveLine) Forget(sourceID string) {
	l.mu.Lock()
	delete(l.lines, sourceID)
	l.mu.Unlock()
}
