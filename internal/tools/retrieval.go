package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/assistantd/assistantd/internal/retry"
	"github.com/assistantd/assistantd/internal/retrieval"
	"github.com/assistantd/assistantd/pkg/models"
)

// RetrievalTool resolves retrieval calls by similarity search over the run's
// file ids, concatenating top snippets under a byte budget with source
// citations.
type RetrievalTool struct {
	retriever retrieval.Retriever
	topK      int
	budget    int
	retryCfg  retry.Config
}

// RetrievalOptions configures the retrieval tool.
type RetrievalOptions struct {
	Retriever retrieval.Retriever
	TopK      int

	// Budget caps the total bytes of snippet text in one tool output.
	Budget int

	// MaxRetries bounds search attempts before the run fails with
	// retrieval_error.
	MaxRetries int
}

// NewRetrievalTool creates the retrieval executor.
func NewRetrievalTool(opts RetrievalOptions) *RetrievalTool {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Budget <= 0 {
		opts.Budget = 16 << 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = opts.MaxRetries + 1
	return &RetrievalTool{
		retriever: opts.Retriever,
		topK:      opts.TopK,
		budget:    opts.Budget,
		retryCfg:  cfg,
	}
}

// Execute searches the run's files for the query. Collaborator errors are
// retried; exhaustion fails the run with kind retrieval_error.
func (t *RetrievalTool) Execute(ctx context.Context, fileIDs []string, query string) (*ExecResult, error) {
	if len(fileIDs) == 0 {
		return &ExecResult{Output: "No files are attached for retrieval."}, nil
	}

	hits, result := retry.DoWithValue(ctx, t.retryCfg, func() ([]retrieval.Hit, error) {
		return t.retriever.Search(ctx, query, fileIDs, t.topK)
	})
	if result.Err != nil {
		return nil, &Failure{Kind: models.ErrKindRetrievalError, Err: fmt.Errorf("search after %d attempts: %w", result.Attempts, result.Err)}
	}
	if len(hits) == 0 {
		return &ExecResult{Output: "No relevant passages found in the attached files."}, nil
	}

	var b strings.Builder
	used := 0
	for _, hit := range hits {
		snippet := hit.Text
		if used+len(snippet) > t.budget {
			remaining := t.budget - used
			if remaining <= 0 {
				break
			}
			snippet = truncateAtRune(snippet, remaining)
			if snippet == "" {
				break
			}
		}
		fmt.Fprintf(&b, "[source: %s chunk %d]\n%s\n\n", hit.FileID, hit.Sequence, snippet)
		used += len(snippet)
	}
	return &ExecResult{Output: strings.TrimRight(b.String(), "\n")}, nil
}

// truncateAtRune cuts s to at most n bytes without splitting a rune.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
