package api

import (
	"io"
	"net/http"
)

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid_request_error", "malformed multipart body: "+err.Error())
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid_request_error", "missing file field")
		return
	}
	defer part.Close()

	purpose := r.FormValue("purpose")
	file, err := h.files.Upload(r.Context(), ownerID(r), header.Filename, purpose, part)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, file)
}

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.files.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, file)
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.files.List(r.Context(), ownerID(r), limit+1, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	h.writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: list, HasMore: hasMore})
}

func (h *Handler) fileContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.files.Content(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer content.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, content)
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.files.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletedEnvelope{ID: id, Object: "file.deleted", Deleted: true})
}
