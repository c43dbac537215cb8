package llm

import (
	"context"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

// SummaryRequest contains meeting summarization parameters
type SummaryRequest struct {
	Title      string
	Transcript []domain.TranscriptEntry
}

// SummaryResponse contains LLM generation result
type SummaryResponse struct {
	Summary    string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Summarizer defines the interface for LLM providers that summarize meetings
type Summarizer interface {
	// Name returns the provider identifier
	Name() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Summarize generates a summary of a finished meeting
	Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error)
}
