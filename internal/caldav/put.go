package caldav

import (
	"errors"
	"io"
	"net/http"

	"taskdav/internal/storage"
)

// maxPutBodyBytes bounds PUT payloads. Items are capped at a few KB of
// visible fields, so anything near this limit is garbage.
const maxPutBodyBytes = 1 << 20

// handlePut creates or replaces one item. The path's item id is the
// authoritative UID: whatever UID the body carries, the item is stored
// and addressed under the id the client put it at.
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, res *resource) {
	if res.Kind != resourceObject {
		http.Error(w, "Method not allowed on this resource", http.StatusMethodNotAllowed)
		return
	}

	cal, err := h.store.FindCalendar(r.Context(), res.Owner, res.Slug)
	if err != nil {
		h.storageError(w, "find calendar", err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPutBodyBytes+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPutBodyBytes {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	task, warnings, err := h.codec.DecodeObject(string(body))
	if err != nil {
		h.logger.Warn("rejected malformed calendar object",
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "Malformed calendar object", http.StatusBadRequest)
		return
	}
	for _, warning := range warnings {
		h.logger.Debug("calendar object adjusted during decode",
			"uid", res.ItemID,
			"note", warning)
	}
	task.UID = res.ItemID

	expectedETag := unquoteETag(r.Header.Get(HeaderIfMatch))

	// If-None-Match: * means create only. The check is advisory; the
	// authoritative guard stays the SaveTask precondition.
	if r.Header.Get(HeaderIfNoneMatch) == "*" {
		if _, err := h.store.FindTask(r.Context(), cal.ID, res.ItemID); err == nil {
			http.Error(w, "Precondition failed", http.StatusPreconditionFailed)
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			h.storageError(w, "find task", err)
			return
		}
	}

	etag, created, err := h.store.SaveTask(r.Context(), cal.ID, task, expectedETag)
	if err != nil {
		h.storageError(w, "save task", err)
		return
	}

	h.logger.Info("stored calendar object",
		"uid", task.UID,
		"calendar_id", cal.ID,
		"created", created)

	w.Header().Set(HeaderETag, quoteETag(etag))
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}
