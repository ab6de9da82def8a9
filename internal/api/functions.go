package api

import (
	"encoding/json"
	"net/http"

	"github.com/assistantd/assistantd/internal/service"
)

type registerFunctionRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (h *Handler) registerFunction(w http.ResponseWriter, r *http.Request) {
	var req registerFunctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	fn, err := h.service.RegisterFunction(r.Context(), service.RegisterFunctionParams{
		OwnerID:     ownerID(r),
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, fn)
}

func (h *Handler) listFunctions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	fns, err := h.service.ListFunctions(r.Context(), ownerID(r), limit+1, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	hasMore := len(fns) > limit
	if hasMore {
		fns = fns[:limit]
	}
	h.writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: fns, HasMore: hasMore})
}

func (h *Handler) deleteFunction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.DeleteFunction(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedEnvelope{ID: id, Object: "function.deleted", Deleted: true})
}
