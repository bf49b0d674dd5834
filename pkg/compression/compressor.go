package compression

import (
	"context"
	"strings"
)

// Compressor produces reduced content renditions for compression transitions.
//
// Implementations reduce the current rendition to the target level's form:
// an abridged summary, a keyword list, or nothing at all (embedding-only).
// The engine treats a nil Compressor as "record the level change without
// rewriting content", which keeps the decision core usable without any LLM.
type Compressor interface {
	// Summarize produces an abridged rendition of the content.
	Summarize(ctx context.Context, content string) (string, error)

	// Keywords produces a comma-separated list of key terms.
	Keywords(ctx context.Context, content string) (string, error)

	// Close closes the compressor and releases resources.
	Close() error
}

// TruncatingCompressor is a deterministic, LLM-free Compressor.
//
// It is intended for tests and for deployments that want level bookkeeping
// without paying for model calls: summaries are head-truncations and
// keywords are the longest distinct words of the content.
type TruncatingCompressor struct {
	// SummaryLen is the maximum summary length in runes. Default 240.
	SummaryLen int

	// MaxKeywords is the maximum number of extracted keywords. Default 10.
	MaxKeywords int
}

// Summarize truncates the content to SummaryLen runes.
func (t *TruncatingCompressor) Summarize(_ context.Context, content string) (string, error) {
	limit := t.SummaryLen
	if limit <= 0 {
		limit = 240
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content, nil
	}
	return strings.TrimSpace(string(runes[:limit])) + "…", nil
}

// Keywords returns the longest distinct words of the content, comma-separated.
func (t *TruncatingCompressor) Keywords(_ context.Context, content string) (string, error) {
	limit := t.MaxKeywords
	if limit <= 0 {
		limit = 10
	}

	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(content) {
		w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()[]{}"))
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}

	// Longest words first, stable within equal lengths.
	for i := 1; i < len(words); i++ {
		for j := i; j > 0 && len(words[j]) > len(words[j-1]); j-- {
			words[j], words[j-1] = words[j-1], words[j]
		}
	}
	if len(words) > limit {
		words = words[:limit]
	}
	return strings.Join(words, ", "), nil
}

// Close is a no-op.
func (t *TruncatingCompressor) Close() error {
	return nil
}
