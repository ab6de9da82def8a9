package files

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/assistantd/assistantd/internal/retrieval"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/pkg/models"
)

// fakeRetriever records index and remove calls.
type fakeRetriever struct {
	indexed []*models.Chunk
	removed []string
}

func (f *fakeRetriever) Index(_ context.Context, chunks []*models.Chunk) error {
	f.indexed = append(f.indexed, chunks...)
	return nil
}

func (f *fakeRetriever) Remove(_ context.Context, fileID string) error {
	f.removed = append(f.removed, fileID)
	return nil
}

func (f *fakeRetriever) Search(context.Context, string, []string, int) ([]retrieval.Hit, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*Service, *storage.Set, *fakeRetriever) {
	t.Helper()
	stores := storage.NewMemory()
	ret := &fakeRetriever{}
	svc, err := New(Options{
		Dir:       t.TempDir(),
		Files:     stores.Files,
		Chunks:    stores.Chunks,
		Retriever: ret,
		Chunker:   NewChunker(50, 10),
		Now:       func() int64 { return 1000 },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, stores, ret
}

func TestUploadIngestsChunks(t *testing.T) {
	svc, stores, ret := newTestService(t)
	ctx := context.Background()

	content := strings.Repeat("searchable text ", 20)
	file, err := svc.Upload(ctx, "owner_1", "notes.txt", "assistants", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if file.Bytes != int64(len(content)) {
		t.Errorf("bytes = %d, want %d", file.Bytes, len(content))
	}

	chunks, err := stores.Chunks.ListByFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("ListByFile: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks from ingestion")
	}
	if len(ret.indexed) != len(chunks) {
		t.Errorf("indexed %d chunks, stored %d", len(ret.indexed), len(chunks))
	}
}

func TestContentRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	file, err := svc.Upload(ctx, "owner_1", "doc.txt", "", strings.NewReader("blob body"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := svc.Content(ctx, file.ID)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(data) != "blob body" {
		t.Errorf("content = %q", data)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	svc, stores, ret := newTestService(t)
	ctx := context.Background()

	file, err := svc.Upload(ctx, "owner_1", "doc.txt", "", strings.NewReader(strings.Repeat("x ", 100)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := svc.Delete(ctx, file.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := svc.Get(ctx, file.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	chunks, err := stores.Chunks.ListByFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("ListByFile: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks remain after delete: %d", len(chunks))
	}
	if len(ret.removed) != 1 || ret.removed[0] != file.ID {
		t.Errorf("retriever removals = %v", ret.removed)
	}
	if _, err := svc.Content(ctx, file.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Content after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.Delete(context.Background(), "file_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Delete = %v, want ErrNotFound", err)
	}
}
