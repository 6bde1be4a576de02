// Package llm provides summarization clients used when merging memories.
package llm

import "context"

// Summarizer produces a single consolidated statement from several related
// memory texts. hint carries the shared category of the group, when known.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, hint string) (string, error)
}
