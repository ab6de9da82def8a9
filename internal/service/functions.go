package service

import (
	"context"
	"encoding/json"

	"github.com/assistantd/assistantd/pkg/models"
)

// RegisterFunctionParams are the caller-supplied function contract fields.
type RegisterFunctionParams struct {
	OwnerID     string
	Name        string
	Description string
	Parameters  json.RawMessage
}

// RegisterFunction stores a function contract. Names are unique per owner.
func (s *Service) RegisterFunction(ctx context.Context, params RegisterFunctionParams) (*models.Function, error) {
	if params.Name == "" {
		return nil, Validationf("function name is required")
	}
	if len(params.Parameters) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(params.Parameters, &schema); err != nil {
			return nil, Validationf("parameters must be a JSON schema object: %v", err)
		}
	}

	fn := &models.Function{
		ID:          models.NewID(models.FunctionIDPrefix),
		OwnerID:     params.OwnerID,
		Name:        params.Name,
		Description: params.Description,
		Parameters:  params.Parameters,
		CreatedAt:   s.now(),
	}
	if err := s.stores.Functions.Create(ctx, fn); err != nil {
		return nil, err
	}
	return fn, nil
}

// GetFunction resolves a function by owner and name.
func (s *Service) GetFunction(ctx context.Context, ownerID, name string) (*models.Function, error) {
	return s.stores.Functions.GetByName(ctx, ownerID, name)
}

// ListFunctions returns an owner's registered functions.
func (s *Service) ListFunctions(ctx context.Context, ownerID string, limit, offset int) ([]*models.Function, error) {
	return s.stores.Functions.List(ctx, ownerID, limit, offset)
}

// DeleteFunction removes a function contract. Assistants referencing it will
// fail validation on their next update.
func (s *Service) DeleteFunction(ctx context.Context, id string) error {
	return s.stores.Functions.Delete(ctx, id)
}
