package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/llm"
)

func TestProvider_Defaults(t *testing.T) {
	p := NewProvider(config.GeminiConfig{})
	assert.Equal(t, "gemini", p.Name())
	assert.Equal(t, "gemini-2.5-flash", p.DefaultModel())
	assert.False(t, p.IsConfigured())

	p = NewProvider(config.GeminiConfig{APIKey: "k", Model: "gemini-1.5-pro"})
	assert.Equal(t, "gemini-1.5-pro", p.DefaultModel())
	assert.True(t, p.IsConfigured())
}

func TestSummarize_RequiresKeyAndTranscript(t *testing.T) {
	_, err := NewProvider(config.GeminiConfig{}).Summarize(context.Background(), llm.SummaryRequest{
		Transcript: []domain.TranscriptEntry{{Speaker: "A", Text: "hi"}},
	})
	assert.ErrorContains(t, err, "not configured")

	_, err = NewProvider(config.GeminiConfig{APIKey: "k"}).Summarize(context.Background(), llm.SummaryRequest{})
	assert.ErrorContains(t, err, "nothing to summarize")
}
