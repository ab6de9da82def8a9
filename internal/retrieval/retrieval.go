// Package retrieval provides semantic search over ingested file chunks,
// backed by a chromem-go vector index.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/assistantd/assistantd/pkg/models"
)

// Hit is a single semantic-search result.
type Hit struct {
	ChunkID  string
	FileID   string
	Text     string
	Score    float32
	Sequence int
}

// Retriever indexes file chunks and answers similarity queries scoped to a
// set of files.
type Retriever interface {
	Index(ctx context.Context, chunks []*models.Chunk) error
	Remove(ctx context.Context, fileID string) error
	Search(ctx context.Context, query string, fileIDs []string, topK int) ([]Hit, error)
}

const collectionName = "chunks"

// Store implements Retriever on chromem-go. One collection holds every chunk;
// queries filter by file id metadata.
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// Options configures the vector store.
type Options struct {
	// IndexPath persists the index on disk. Empty keeps it in memory.
	IndexPath string

	// EmbedFunc produces embeddings. Required; use chromem's OpenAI func in
	// production.
	EmbedFunc chromem.EmbeddingFunc
}

// NewOpenAIEmbedding returns chromem's OpenAI-compatible embedding function.
func NewOpenAIEmbedding(apiKey, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))
}

// New creates (or opens) the vector store.
func New(opts Options) (*Store, error) {
	if opts.EmbedFunc == nil {
		return nil, fmt.Errorf("retrieval: embedding function is required")
	}

	var db *chromem.DB
	var err error
	if opts.IndexPath != "" {
		if err := os.MkdirAll(opts.IndexPath, 0o750); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(opts.IndexPath, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Store{db: db, embedFn: opts.EmbedFunc}, nil
}

func (s *Store) collection() (*chromem.Collection, error) {
	col := s.db.GetCollection(collectionName, s.embedFn)
	if col == nil {
		var err error
		col, err = s.db.CreateCollection(collectionName, nil, s.embedFn)
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	return col, nil
}

// Index adds chunks to the vector index. Re-indexing a chunk id replaces it.
func (s *Store) Index(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection()
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      chunk.ID,
			Content: chunk.Text,
			Metadata: map[string]string{
				"file_id":  chunk.FileID,
				"sequence": fmt.Sprintf("%d", chunk.Sequence),
			},
		})
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// Remove drops every chunk belonging to a file from the index.
func (s *Store) Remove(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName, s.embedFn)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"file_id": fileID}, nil); err != nil {
		return fmt.Errorf("remove file chunks: %w", err)
	}
	return nil
}

// Search returns up to topK chunks most similar to the query. When fileIDs is
// non-empty, only chunks from those files are considered.
func (s *Store) Search(ctx context.Context, query string, fileIDs []string, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName, s.embedFn)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}
	if topK > col.Count() {
		topK = col.Count()
	}

	results, err := s.query(ctx, col, query, fileIDs, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := Hit{
			ChunkID: r.ID,
			FileID:  r.Metadata["file_id"],
			Text:    r.Content,
			Score:   r.Similarity,
		}
		fmt.Sscanf(r.Metadata["sequence"], "%d", &hit.Sequence)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) query(ctx context.Context, col *chromem.Collection, query string, fileIDs []string, topK int) ([]chromem.Result, error) {
	if len(fileIDs) <= 1 {
		var where map[string]string
		if len(fileIDs) == 1 {
			where = map[string]string{"file_id": fileIDs[0]}
		}
		return stepDownQuery(ctx, col, query, topK, where)
	}

	// chromem metadata filters are equality-only, so an id set fans out to
	// one query per file and merges by similarity.
	var merged []chromem.Result
	for _, fileID := range fileIDs {
		results, err := stepDownQuery(ctx, col, query, topK, map[string]string{"file_id": fileID})
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}
	sortBySimilarity(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// stepDownQuery retries with smaller k: chromem rejects nResults larger than
// the filtered document count, which is unknowable up front.
func stepDownQuery(ctx context.Context, col *chromem.Collection, query string, k int, where map[string]string) ([]chromem.Result, error) {
	var lastErr error
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err := col.Query(ctx, query, attemptK, where, nil)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func sortBySimilarity(results []chromem.Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Similarity > results[j-1].Similarity; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
