package api

import (
	"net/http"

	"github.com/assistantd/assistantd/internal/service"
	"github.com/assistantd/assistantd/pkg/models"
)

type createThreadRequest struct {
	FileIDs  []string          `json:"file_ids"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) createThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !h.decode(w, r, &req) {
		return
	}
	thread, err := h.service.CreateThread(r.Context(), service.CreateThreadParams{
		OwnerID:  ownerID(r),
		FileIDs:  req.FileIDs,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, thread)
}

func (h *Handler) getThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.service.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, thread)
}

func (h *Handler) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.DeleteThread(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedEnvelope{ID: id, Object: "thread.deleted", Deleted: true})
}

type createMessageRequest struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	FileIDs  []string          `json:"file_ids"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.service.CreateMessage(r.Context(), service.CreateMessageParams{
		ThreadID: r.PathValue("id"),
		Role:     models.Role(req.Role),
		Text:     req.Content,
		FileIDs:  req.FileIDs,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	messages, err := h.service.ListMessages(r.Context(), r.PathValue("id"), limit+1, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	h.writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: messages, HasMore: hasMore})
}
