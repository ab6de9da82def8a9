package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/assistantd/assistantd/internal/retrieval"
	"github.com/assistantd/assistantd/pkg/models"
)

type stubRetriever struct {
	hits     []retrieval.Hit
	err      error
	failures int
	calls    int
}

func (s *stubRetriever) Index(context.Context, []*models.Chunk) error { return nil }
func (s *stubRetriever) Remove(context.Context, string) error         { return nil }

func (s *stubRetriever) Search(context.Context, string, []string, int) ([]retrieval.Hit, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("search backend unavailable")
	}
	return s.hits, s.err
}

func fastRetrievalTool(r retrieval.Retriever, budget int) *RetrievalTool {
	tool := NewRetrievalTool(RetrievalOptions{Retriever: r, Budget: budget, MaxRetries: 2})
	tool.retryCfg.InitialDelay = 1
	tool.retryCfg.MaxDelay = 1
	return tool
}

func TestRetrievalConcatenatesWithCitations(t *testing.T) {
	r := &stubRetriever{hits: []retrieval.Hit{
		{ChunkID: "chunk_1", FileID: "file_a", Sequence: 0, Text: "first passage"},
		{ChunkID: "chunk_2", FileID: "file_b", Sequence: 3, Text: "second passage"},
	}}
	tool := fastRetrievalTool(r, 1000)

	result, err := tool.Execute(context.Background(), []string{"file_a", "file_b"}, "query")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Output, "[source: file_a chunk 0]") {
		t.Errorf("missing first citation: %q", result.Output)
	}
	if !strings.Contains(result.Output, "second passage") {
		t.Errorf("missing snippet: %q", result.Output)
	}
}

func TestRetrievalRespectsBudget(t *testing.T) {
	r := &stubRetriever{hits: []retrieval.Hit{
		{FileID: "file_a", Text: strings.Repeat("a", 100)},
		{FileID: "file_a", Text: strings.Repeat("b", 100)},
	}}
	tool := fastRetrievalTool(r, 120)

	result, err := tool.Execute(context.Background(), []string{"file_a"}, "query")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Count(result.Output, "b") > 30 {
		t.Errorf("budget not enforced: %d bytes of second snippet", strings.Count(result.Output, "b"))
	}
}

func TestRetrievalTruncatesAtRuneBoundary(t *testing.T) {
	// 3-byte runes with a budget that lands mid-rune.
	r := &stubRetriever{hits: []retrieval.Hit{
		{FileID: "file_a", Text: strings.Repeat("日", 40)},
	}}
	tool := fastRetrievalTool(r, 100)

	result, err := tool.Execute(context.Background(), []string{"file_a"}, "query")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !utf8.ValidString(result.Output) {
		t.Fatalf("output contains a split rune: %q", result.Output)
	}
	if got := strings.Count(result.Output, "日"); got != 33 {
		t.Errorf("kept %d runes, want 33 under a 100-byte budget", got)
	}
}

func TestRetrievalRetriesThenSucceeds(t *testing.T) {
	r := &stubRetriever{
		failures: 1,
		hits:     []retrieval.Hit{{FileID: "file_a", Text: "found it"}},
	}
	tool := fastRetrievalTool(r, 1000)

	result, err := tool.Execute(context.Background(), []string{"file_a"}, "query")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.calls != 2 {
		t.Errorf("calls = %d, want 2", r.calls)
	}
	if !strings.Contains(result.Output, "found it") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestRetrievalExhaustionFailsRun(t *testing.T) {
	r := &stubRetriever{failures: 10}
	tool := fastRetrievalTool(r, 1000)

	_, err := tool.Execute(context.Background(), []string{"file_a"}, "query")
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want Failure", err)
	}
	if failure.Kind != models.ErrKindRetrievalError {
		t.Errorf("kind = %q, want retrieval_error", failure.Kind)
	}
}

func TestRetrievalNoFiles(t *testing.T) {
	tool := fastRetrievalTool(&stubRetriever{}, 1000)

	result, err := tool.Execute(context.Background(), nil, "query")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output == "" {
		t.Error("expected explanatory output for missing files")
	}
}
