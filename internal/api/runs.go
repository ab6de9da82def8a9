package api

import (
	"net/http"

	"github.com/assistantd/assistantd/internal/service"
	"github.com/assistantd/assistantd/pkg/models"
)

type createRunRequest struct {
	AssistantID  string            `json:"assistant_id"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Metadata     map[string]string `json:"metadata"`
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.service.CreateRun(r.Context(), service.CreateRunParams{
		ThreadID:     r.PathValue("id"),
		AssistantID:  req.AssistantID,
		Model:        req.Model,
		Instructions: req.Instructions,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, run)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runInThread(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	runs, err := h.service.ListRuns(r.Context(), r.PathValue("id"), limit+1, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	h.writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: runs, HasMore: hasMore})
}

type submitToolOutputsRequest struct {
	ToolOutputs []models.ToolOutput `json:"tool_outputs"`
}

func (h *Handler) submitToolOutputs(w http.ResponseWriter, r *http.Request) {
	if _, err := h.runInThread(r); err != nil {
		h.respondError(w, r, err)
		return
	}
	var req submitToolOutputsRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.service.SubmitToolOutputs(r.Context(), r.PathValue("run_id"), req.ToolOutputs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	if _, err := h.runInThread(r); err != nil {
		h.respondError(w, r, err)
		return
	}
	run, err := h.service.CancelRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) listRunSteps(w http.ResponseWriter, r *http.Request) {
	if _, err := h.runInThread(r); err != nil {
		h.respondError(w, r, err)
		return
	}
	steps, err := h.service.ListRunSteps(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: steps})
}

// runInThread loads the run and checks it belongs to the thread in the path.
func (h *Handler) runInThread(r *http.Request) (*models.Run, error) {
	run, err := h.service.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		return nil, err
	}
	if run.ThreadID != r.PathValue("id") {
		return nil, service.Validationf("run %s does not belong to thread %s", run.ID, r.PathValue("id"))
	}
	return run, nil
}
