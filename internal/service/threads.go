package service

import (
	"context"
	"strings"

	"github.com/assistantd/assistantd/pkg/models"
)

// CreateThreadParams are the caller-supplied thread fields.
type CreateThreadParams struct {
	OwnerID  string
	FileIDs  []string
	Metadata map[string]string
}

// CreateThread stores a new empty thread.
func (s *Service) CreateThread(ctx context.Context, params CreateThreadParams) (*models.Thread, error) {
	if err := s.validateFileIDs(ctx, params.FileIDs); err != nil {
		return nil, err
	}
	thread := &models.Thread{
		ID:        models.NewID(models.ThreadIDPrefix),
		OwnerID:   params.OwnerID,
		FileIDs:   params.FileIDs,
		Metadata:  params.Metadata,
		CreatedAt: s.now(),
	}
	if err := s.stores.Threads.Create(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// GetThread returns one thread.
func (s *Service) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return s.stores.Threads.Get(ctx, id)
}

// DeleteThread removes a thread.
func (s *Service) DeleteThread(ctx context.Context, id string) error {
	return s.stores.Threads.Delete(ctx, id)
}

// CreateMessageParams are the caller-supplied message fields. The API only
// accepts user messages; assistant messages are created by the engine.
type CreateMessageParams struct {
	ThreadID string
	Role     models.Role
	Text     string
	FileIDs  []string
	Metadata map[string]string
}

// CreateMessage appends a user message to a thread.
func (s *Service) CreateMessage(ctx context.Context, params CreateMessageParams) (*models.Message, error) {
	if params.Role != models.RoleUser {
		return nil, Validationf("only user messages can be created through the API")
	}
	if strings.TrimSpace(params.Text) == "" {
		return nil, Validationf("message text is required")
	}
	if _, err := s.stores.Threads.Get(ctx, params.ThreadID); err != nil {
		return nil, err
	}
	if err := s.validateFileIDs(ctx, params.FileIDs); err != nil {
		return nil, err
	}

	msg := models.NewTextMessage(params.ThreadID, models.RoleUser, params.Text)
	msg.FileIDs = params.FileIDs
	msg.Metadata = params.Metadata
	msg.CreatedAt = s.now()
	if err := s.stores.Messages.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a thread's messages in append order.
func (s *Service) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]*models.Message, error) {
	if _, err := s.stores.Threads.Get(ctx, threadID); err != nil {
		return nil, err
	}
	return s.stores.Messages.List(ctx, threadID, limit, offset)
}
