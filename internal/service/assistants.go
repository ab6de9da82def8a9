package service

import (
	"context"
	"errors"

	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/pkg/models"
)

// CreateAssistantParams are the caller-supplied assistant fields.
type CreateAssistantParams struct {
	OwnerID      string
	Name         string
	Description  string
	Model        string
	Instructions string
	Tools        []models.Tool
	FileIDs      []string
	Metadata     map[string]string
}

// CreateAssistant validates and stores a new assistant.
func (s *Service) CreateAssistant(ctx context.Context, params CreateAssistantParams) (*models.Assistant, error) {
	if params.Model == "" {
		return nil, Validationf("model is required")
	}
	if err := s.validateTools(ctx, params.OwnerID, params.Tools); err != nil {
		return nil, err
	}
	if err := s.validateFileIDs(ctx, params.FileIDs); err != nil {
		return nil, err
	}

	assistant := &models.Assistant{
		ID:           models.NewID(models.AssistantIDPrefix),
		OwnerID:      params.OwnerID,
		Name:         params.Name,
		Description:  params.Description,
		Model:        params.Model,
		Instructions: params.Instructions,
		Tools:        params.Tools,
		FileIDs:      params.FileIDs,
		Metadata:     params.Metadata,
		CreatedAt:    s.now(),
	}
	if err := s.stores.Assistants.Create(ctx, assistant); err != nil {
		return nil, err
	}
	return assistant, nil
}

// GetAssistant returns one assistant.
func (s *Service) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	return s.stores.Assistants.Get(ctx, id)
}

// ListAssistants returns an owner's assistants.
func (s *Service) ListAssistants(ctx context.Context, ownerID string, limit, offset int) ([]*models.Assistant, error) {
	return s.stores.Assistants.List(ctx, ownerID, limit, offset)
}

// UpdateAssistantParams are the mutable assistant fields. Nil pointers leave
// the current value untouched.
type UpdateAssistantParams struct {
	Name         *string
	Description  *string
	Model        *string
	Instructions *string
	Tools        []models.Tool
	FileIDs      []string
	Metadata     map[string]string
}

// UpdateAssistant applies a partial update. In-flight runs are unaffected
// because they snapshot configuration at creation.
func (s *Service) UpdateAssistant(ctx context.Context, id string, params UpdateAssistantParams) (*models.Assistant, error) {
	assistant, err := s.stores.Assistants.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Name != nil {
		assistant.Name = *params.Name
	}
	if params.Description != nil {
		assistant.Description = *params.Description
	}
	if params.Model != nil {
		if *params.Model == "" {
			return nil, Validationf("model cannot be empty")
		}
		assistant.Model = *params.Model
	}
	if params.Instructions != nil {
		assistant.Instructions = *params.Instructions
	}
	if params.Tools != nil {
		if err := s.validateTools(ctx, assistant.OwnerID, params.Tools); err != nil {
			return nil, err
		}
		assistant.Tools = params.Tools
	}
	if params.FileIDs != nil {
		if err := s.validateFileIDs(ctx, params.FileIDs); err != nil {
			return nil, err
		}
		assistant.FileIDs = params.FileIDs
	}
	if params.Metadata != nil {
		assistant.Metadata = params.Metadata
	}

	if err := s.stores.Assistants.Update(ctx, assistant); err != nil {
		return nil, err
	}
	return assistant, nil
}

// DeleteAssistant removes an assistant. Existing runs keep their snapshots.
func (s *Service) DeleteAssistant(ctx context.Context, id string) error {
	return s.stores.Assistants.Delete(ctx, id)
}

// validateTools checks each tool config and resolves function tool names
// against the owner's registry.
func (s *Service) validateTools(ctx context.Context, ownerID string, tools []models.Tool) error {
	for _, tool := range tools {
		if err := tool.Validate(); err != nil {
			return Validationf("invalid tool: %v", err)
		}
		if tool.Kind == models.ToolKindFunction {
			_, err := s.stores.Functions.GetByName(ctx, ownerID, tool.Function.Name)
			if errors.Is(err, storage.ErrNotFound) {
				return Validationf("function %q is not registered", tool.Function.Name)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) validateFileIDs(ctx context.Context, fileIDs []string) error {
	for _, id := range fileIDs {
		if _, err := s.stores.Files.Get(ctx, id); errors.Is(err, storage.ErrNotFound) {
			return Validationf("file %q does not exist", id)
		} else if err != nil {
			return err
		}
	}
	return nil
}
