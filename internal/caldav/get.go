package caldav

import (
	"net/http"

	"taskdav/internal/ics"
)

// handleGet serves one stored item as an iCalendar document.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, res *resource) {
	if res.Kind != resourceObject {
		http.Error(w, "Method not allowed on this resource", http.StatusMethodNotAllowed)
		return
	}

	cal, err := h.store.FindCalendar(r.Context(), res.Owner, res.Slug)
	if err != nil {
		h.storageError(w, "find calendar", err)
		return
	}
	task, err := h.store.FindTask(r.Context(), cal.ID, res.ItemID)
	if err != nil {
		h.storageError(w, "find task", err)
		return
	}

	body, err := h.codec.EncodeTaskString(task, res.Owner)
	if err != nil {
		h.logger.Error("failed to encode task",
			"uid", task.UID,
			"error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderETag, quoteETag(ics.ETag(task)))
	w.Header().Set(HeaderContentType, MimeTypeCalendar)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Warn("failed to write response body", "error", err)
	}
}
