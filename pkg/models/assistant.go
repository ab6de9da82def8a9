// Package models provides the domain types shared by the store, the run
// engine, and the API surface.
package models

import (
	"encoding/json"
	"fmt"
)

// ToolKind discriminates the tool configuration union.
type ToolKind string

const (
	ToolKindFunction        ToolKind = "function"
	ToolKindRetrieval       ToolKind = "retrieval"
	ToolKindCodeInterpreter ToolKind = "code_interpreter"
	ToolKindAction          ToolKind = "action"
)

// Tool is the tagged union describing one enabled tool on an assistant.
// Exactly one payload pointer matching Kind should be non-nil; kinds that
// carry no configuration (retrieval, code_interpreter) have none.
type Tool struct {
	Kind     ToolKind            `json:"type"`
	Function *FunctionToolConfig `json:"function,omitempty"`
	Action   *ActionToolConfig   `json:"action,omitempty"`
}

// FunctionToolConfig references a registered function by name. The parameter
// schema lives on the Function record; assistants only opt in by name.
type FunctionToolConfig struct {
	Name string `json:"name"`
}

// ActionToolConfig describes an HTTP endpoint the model may invoke. It is a
// minimal OpenAPI-like contract: one operation, one parameter schema.
type ActionToolConfig struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	// Parameters is a JSON schema for the request body (or query parameters
	// for GET). Model-provided arguments are validated against it before the
	// call is made.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Validate checks that the union is well-formed. It is called at the API
// boundary and again by the tool dispatcher before execution.
func (t Tool) Validate() error {
	switch t.Kind {
	case ToolKindFunction:
		if t.Function == nil || t.Function.Name == "" {
			return fmt.Errorf("function tool requires a function name")
		}
	case ToolKindAction:
		if t.Action == nil {
			return fmt.Errorf("action tool requires an action config")
		}
		if t.Action.Name == "" || t.Action.URL == "" || t.Action.Method == "" {
			return fmt.Errorf("action tool requires name, method and url")
		}
	case ToolKindRetrieval, ToolKindCodeInterpreter:
		// No configuration payload.
	default:
		return fmt.Errorf("unknown tool kind %q", t.Kind)
	}
	return nil
}

// Assistant is a model + instructions + tool configuration. Runs snapshot the
// fields they need at creation time, so editing an assistant never changes an
// in-flight run.
type Assistant struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions,omitempty"`
	Tools        []Tool            `json:"tools"`
	FileIDs      []string          `json:"file_ids,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    int64             `json:"created_at"`
}

// HasTool reports whether the assistant has a tool of the given kind enabled.
func (a *Assistant) HasTool(kind ToolKind) bool {
	for _, t := range a.Tools {
		if t.Kind == kind {
			return true
		}
	}
	return false
}
