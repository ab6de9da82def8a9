package api

import (
	"net/http"

	"github.com/assistantd/assistantd/internal/service"
	"github.com/assistantd/assistantd/pkg/models"
)

type createAssistantRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Tools        []models.Tool     `json:"tools"`
	FileIDs      []string          `json:"file_ids"`
	Metadata     map[string]string `json:"metadata"`
}

func (h *Handler) createAssistant(w http.ResponseWriter, r *http.Request) {
	var req createAssistantRequest
	if !h.decode(w, r, &req) {
		return
	}
	assistant, err := h.service.CreateAssistant(r.Context(), service.CreateAssistantParams{
		OwnerID:      ownerID(r),
		Name:         req.Name,
		Description:  req.Description,
		Model:        req.Model,
		Instructions: req.Instructions,
		Tools:        req.Tools,
		FileIDs:      req.FileIDs,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, assistant)
}

func (h *Handler) getAssistant(w http.ResponseWriter, r *http.Request) {
	assistant, err := h.service.GetAssistant(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, assistant)
}

func (h *Handler) listAssistants(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	assistants, err := h.service.ListAssistants(r.Context(), ownerID(r), limit+1, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	hasMore := len(assistants) > limit
	if hasMore {
		assistants = assistants[:limit]
	}
	h.writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: assistants, HasMore: hasMore})
}

type updateAssistantRequest struct {
	Name         *string           `json:"name"`
	Description  *string           `json:"description"`
	Model        *string           `json:"model"`
	Instructions *string           `json:"instructions"`
	Tools        []models.Tool     `json:"tools"`
	FileIDs      []string          `json:"file_ids"`
	Metadata     map[string]string `json:"metadata"`
}

func (h *Handler) updateAssistant(w http.ResponseWriter, r *http.Request) {
	var req updateAssistantRequest
	if !h.decode(w, r, &req) {
		return
	}
	assistant, err := h.service.UpdateAssistant(r.Context(), r.PathValue("id"), service.UpdateAssistantParams{
		Name:         req.Name,
		Description:  req.Description,
		Model:        req.Model,
		Instructions: req.Instructions,
		Tools:        req.Tools,
		FileIDs:      req.FileIDs,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, assistant)
}

func (h *Handler) deleteAssistant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.DeleteAssistant(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedEnvelope{ID: id, Object: "assistant.deleted", Deleted: true})
}
