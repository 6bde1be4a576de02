package llm

import (
	"context"
	"strings"
)

// MockSummarizer is a deterministic Summarizer for tests. It joins the
// input texts with "; " unless Response or Err is set.
type MockSummarizer struct {
	Response string
	Err      error

	// Calls records every invocation's inputs.
	Calls [][]string
}

// Summarize returns the configured response or a join of the inputs.
func (m *MockSummarizer) Summarize(ctx context.Context, texts []string, hint string) (string, error) {
	m.Calls = append(m.Calls, texts)
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return strings.Join(texts, "; "), nil
}

// Compile-time interface check
var _ Summarizer = (*MockSummarizer)(nil)
