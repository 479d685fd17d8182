package caldav

import "net/http"

// handleDelete removes one item together with its reminders.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, res *resource) {
	if res.Kind != resourceObject {
		http.Error(w, "Method not allowed on this resource", http.StatusMethodNotAllowed)
		return
	}

	cal, err := h.store.FindCalendar(r.Context(), res.Owner, res.Slug)
	if err != nil {
		h.storageError(w, "find calendar", err)
		return
	}
	if err := h.store.DeleteTask(r.Context(), cal.ID, res.ItemID); err != nil {
		h.storageError(w, "delete task", err)
		return
	}

	h.logger.Info("deleted calendar object",
		"uid", res.ItemID,
		"calendar_id", cal.ID)
	w.WriteHeader(http.StatusNoContent)
}
