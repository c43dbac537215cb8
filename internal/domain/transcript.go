package domain

import "time"

// UnknownSpeaker is used when upstream does not attribute an utterance
const UnknownSpeaker = "Unknown"

// TranscriptEvent is one normalized utterance fragment
type TranscriptEvent struct {
	SourceID    string    `json:"sourceId"`
	OwnerUserID string    `json:"ownerUserId"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	IsFinal     bool      `json:"isFinal"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`

	// SegmentKey identifies the upstream segment when the provider supplies
	// a segment id or timestamp; empty otherwise.
	SegmentKey string      `json:"-"`
	Channel    ChannelKind `json:"-"`
}
