// Package files stores uploaded file content on disk and ingests it into the
// chunk store and retrieval index.
package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/assistantd/assistantd/internal/retrieval"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/pkg/models"
)

// Service handles file upload, content access, ingestion, and deletion.
type Service struct {
	dir       string
	fileStore storage.FileStore
	chunks    storage.ChunkStore
	retriever retrieval.Retriever
	chunker   *Chunker
	now       func() int64
}

// Options configures the file service.
type Options struct {
	// Dir is the blob directory on disk.
	Dir string

	Files     storage.FileStore
	Chunks    storage.ChunkStore
	Retriever retrieval.Retriever
	Chunker   *Chunker

	// Now returns the current unix time; nil uses the wall clock.
	Now func() int64
}

// New creates the file service, creating the blob directory if needed.
func New(opts Options) (*Service, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("files: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	if opts.Chunker == nil {
		opts.Chunker = NewChunker(2000, 200)
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().Unix() }
	}
	return &Service{
		dir:       opts.Dir,
		fileStore: opts.Files,
		chunks:    opts.Chunks,
		retriever: opts.Retriever,
		chunker:   opts.Chunker,
		now:       opts.Now,
	}, nil
}

// Upload stores file content, records metadata, and ingests the text into
// the chunk store and retrieval index.
func (s *Service) Upload(ctx context.Context, ownerID, filename, purpose string, content io.Reader) (*models.File, error) {
	file := &models.File{
		ID:        models.NewID(models.FileIDPrefix),
		OwnerID:   ownerID,
		Filename:  filename,
		Purpose:   purpose,
		CreatedAt: s.now(),
	}

	path := s.blobPath(file.ID)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}
	size, err := io.Copy(out, content)
	closeErr := out.Close()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close blob: %w", closeErr)
	}
	file.Bytes = size

	if err := s.fileStore.Create(ctx, file); err != nil {
		os.Remove(path)
		return nil, err
	}

	if err := s.ingest(ctx, file); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", file.ID, err)
	}
	return file, nil
}

// ingest chunks the blob and indexes it for retrieval.
func (s *Service) ingest(ctx context.Context, file *models.File) error {
	data, err := os.ReadFile(s.blobPath(file.ID))
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	chunks := s.chunker.Split(file.ID, string(data))
	if len(chunks) == 0 {
		return nil
	}
	now := s.now()
	for _, chunk := range chunks {
		chunk.CreatedAt = now
	}
	if err := s.chunks.CreateBatch(ctx, chunks); err != nil {
		return err
	}
	if s.retriever != nil {
		if err := s.retriever.Index(ctx, chunks); err != nil {
			return err
		}
	}
	return nil
}

// Get returns file metadata.
func (s *Service) Get(ctx context.Context, id string) (*models.File, error) {
	return s.fileStore.Get(ctx, id)
}

// List returns an owner's files.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.File, error) {
	return s.fileStore.List(ctx, ownerID, limit, offset)
}

// Content opens the raw blob for reading. The caller closes it.
func (s *Service) Content(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := s.fileStore.Get(ctx, id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes the file, its chunks, its index entries, and the blob.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.fileStore.Get(ctx, id); err != nil {
		return err
	}
	if err := s.chunks.DeleteByFile(ctx, id); err != nil {
		return err
	}
	if s.retriever != nil {
		if err := s.retriever.Remove(ctx, id); err != nil {
			return err
		}
	}
	if err := s.fileStore.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (s *Service) blobPath(id string) string {
	return filepath.Join(s.dir, id)
}
