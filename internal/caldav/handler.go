// Package caldav implements the HTTP protocol surface: a CalDAV handler
// mounted under a path prefix, speaking GET/PUT/DELETE for items and
// PROPFIND/REPORT for collections.
package caldav

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"taskdav/internal/ics"
	"taskdav/internal/model"
	"taskdav/internal/recurrence"
	"taskdav/internal/storage"
	"taskdav/internal/validate"
)

const (
	// HTTP headers
	HeaderContentType = "Content-Type"
	HeaderETag        = "ETag"
	HeaderIfMatch     = "If-Match"
	HeaderIfNoneMatch = "If-None-Match"
	HeaderDAV         = "DAV"
	HeaderAllow       = "Allow"

	// MIME types
	MimeTypeCalendar = "text/calendar; charset=utf-8"
	MimeTypeXML      = "application/xml; charset=utf-8"

	// DAV capability values
	DavCapabilities = "1, calendar-access"
	AllowedMethods  = "OPTIONS, PROPFIND, REPORT, GET, PUT, DELETE"
)

// Handler serves CalDAV requests under Prefix. Every request is
// authenticated with HTTP Basic and confined to the authenticated user's
// own resources.
type Handler struct {
	prefix string
	realm  string
	store  storage.Storage
	codec  *ics.Codec
	engine *recurrence.Engine
	logger *slog.Logger
}

// NewHandler creates a CalDAV handler. The prefix is normalized to start
// and end with a slash.
func NewHandler(prefix, realm string, store storage.Storage, logger *slog.Logger) *Handler {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return &Handler{
		prefix: prefix,
		// The realm is interpolated into WWW-Authenticate, the one header
		// built from a configured string.
		realm: validate.Header(realm),
		store:  store,
		codec:  ics.NewCodec(logger),
		engine: recurrence.NewEngine(),
		logger: logger,
	}
}

// ServeHTTP authenticates, parses the resource path, enforces ownership
// and routes by method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("received request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	user, ok := h.checkAuth(w, r)
	if !ok {
		return
	}

	res, err := parseResource(strings.TrimPrefix(r.URL.Path, h.prefix))
	if err != nil {
		h.logger.Warn("invalid resource path",
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "Resource not found", http.StatusNotFound)
		return
	}

	// Users only ever see their own tree. Authenticating correctly against
	// someone else's path is a 403, not a 404.
	if res.Owner != user.Username {
		h.logger.Warn("cross-user access denied",
			"auth_user", user.Username,
			"path_owner", res.Owner)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, res)
	case http.MethodPut:
		h.handlePut(w, r, res)
	case http.MethodDelete:
		h.handleDelete(w, r, res)
	case http.MethodOptions:
		h.handleOptions(w, r, res)
	case "PROPFIND":
		h.handlePropfind(w, r, res)
	case "REPORT":
		h.handleReport(w, r, res)
	default:
		h.logger.Warn("method not allowed",
			"method", r.Method,
			"path", r.URL.Path)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) checkAuth(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	username, secret, ok := r.BasicAuth()
	if !ok {
		h.requireAuth(w)
		return nil, false
	}
	u, err := h.store.AuthUser(r.Context(), username, secret)
	if errors.Is(err, storage.ErrUnauthorized) {
		h.requireAuth(w)
		return nil, false
	}
	if err != nil {
		// A backend failure is not the client's fault; answering 401 would
		// send it into a credential loop.
		h.logger.Error("authentication lookup failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return u, true
}

func (h *Handler) requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// storageError translates storage sentinels into protocol status codes.
// Conflicts and missing resources must never degrade into a 500: clients
// drive their sync loops off 412 and 404.
func (h *Handler) storageError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "Resource not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrConflict):
		http.Error(w, "Precondition failed", http.StatusPreconditionFailed)
	case errors.Is(err, storage.ErrInvalidInput):
		http.Error(w, "Invalid request", http.StatusBadRequest)
	default:
		h.logger.Error("storage operation failed", "op", op, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// quoteETag puts the wire quotes around a stored tag.
func quoteETag(etag string) string {
	return `"` + etag + `"`
}

// unquoteETag normalizes a conditional header value to the stored form.
// Weak validator prefixes are dropped: the tags are content hashes and
// carry no weak semantics.
func unquoteETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}
