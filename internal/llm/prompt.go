package llm

import (
	"fmt"
	"strings"
)

// maxPromptChars keeps long meetings inside the model context window
const maxPromptChars = 120000

// BuildSummaryPrompt creates a prompt for meeting summarization
func BuildSummaryPrompt(req SummaryRequest) string {
	var b strings.Builder
	for _, entry := range req.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", entry.Speaker, entry.Text)
	}
	transcript := b.String()
	if len(transcript) > maxPromptChars {
		transcript = transcript[len(transcript)-maxPromptChars:]
		if i := strings.IndexByte(transcript, '\n'); i >= 0 {
			transcript = transcript[i+1:]
		}
	}

	title := req.Title
	if title == "" {
		title = "Untitled meeting"
	}

	return fmt.Sprintf(`You are an assistant that writes meeting minutes.

Rules:
1. Write plain text, no markdown headings
2. Start with a two sentence overview
3. List decisions, then action items with owners when the transcript names them
4. Do not invent facts that are not in the transcript
5. Keep speaker names exactly as written

Meeting: %s

Transcript:
%s
Summary:`, title, transcript)
}

// CleanSummary strips code fences and surrounding whitespace from model output
func CleanSummary(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			content = content[i+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}
