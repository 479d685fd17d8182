package caldav

import "net/http"

// handleOptions advertises the supported methods and the calendar-access
// capability clients probe for before syncing.
func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request, _ *resource) {
	w.Header().Set(HeaderDAV, DavCapabilities)
	w.Header().Set(HeaderAllow, AllowedMethods)
	w.WriteHeader(http.StatusOK)
}
