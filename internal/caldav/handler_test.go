package caldav

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdav/internal/model"
	"taskdav/internal/storage"
	"taskdav/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestHandler(t *testing.T) (*Handler, *memory.Store, *model.Calendar) {
	t.Helper()
	store := memory.New()
	store.AddUser(model.User{Username: "alice", Secret: "s3cret", Timezone: "UTC"})
	store.AddUser(model.User{Username: "bob", Secret: "hunter2", Timezone: "UTC"})
	cal := store.AddCalendar(model.Calendar{Owner: "alice", Slug: "work", DisplayName: "Work"})
	return NewHandler("/dav/", "test", store, testLogger()), store, cal
}

func doRequest(h *Handler, method, path, body string, auth bool, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("alice", "s3cret")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func eventBody(uid, summary, start, end string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DTSTART:" + start,
		"DTEND:" + end,
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}
	return strings.Join(lines, "\r\n")
}

func TestAuthRequired(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/dav/alice/work/item-1.ics", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/dav/alice/work/item-1.ics", nil)
	req.SetBasicAuth("alice", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCrossUserAccessForbidden(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/dav/alice/work/item-1.ics", nil)
	req.SetBasicAuth("bob", "hunter2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPathTraversalRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for _, path := range []string{
		"/dav/alice/work/..%2f..%2fetc%2fpasswd.ics",
		"/dav/alice/No_Upper!/item.ics",
		"/dav/alice/work/a/b/c.ics",
	} {
		rec := doRequest(h, http.MethodGet, path, "", true, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", path)
	}
}

func TestPutLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)
	path := "/dav/alice/work/item-1.ics"

	// Create.
	rec := doRequest(h, http.MethodPut, path,
		eventBody("whatever-uid", "First", "20251006T100000Z", "20251006T110000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	etag1 := rec.Header().Get(HeaderETag)
	require.NotEmpty(t, etag1)
	assert.True(t, strings.HasPrefix(etag1, `"`) && strings.HasSuffix(etag1, `"`))

	// The path's item id wins over the body UID.
	rec = doRequest(h, http.MethodGet, path, "", true, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UID:item-1")
	assert.Contains(t, rec.Body.String(), "SUMMARY:First")
	assert.Equal(t, etag1, rec.Header().Get(HeaderETag))
	assert.Contains(t, rec.Header().Get(HeaderContentType), "text/calendar")

	// Conditional update with the current tag.
	rec = doRequest(h, http.MethodPut, path,
		eventBody("item-1", "Second", "20251006T100000Z", "20251006T110000Z"), true,
		map[string]string{HeaderIfMatch: etag1})
	require.Equal(t, http.StatusNoContent, rec.Code)
	etag2 := rec.Header().Get(HeaderETag)
	assert.NotEqual(t, etag1, etag2)

	// Stale tag loses and must not modify the item.
	rec = doRequest(h, http.MethodPut, path,
		eventBody("item-1", "Third", "20251006T100000Z", "20251006T110000Z"), true,
		map[string]string{HeaderIfMatch: etag1})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doRequest(h, http.MethodGet, path, "", true, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUMMARY:Second")
	assert.Equal(t, etag2, rec.Header().Get(HeaderETag))
}

func TestPutIfNoneMatchStar(t *testing.T) {
	h, _, _ := newTestHandler(t)
	path := "/dav/alice/work/item-1.ics"
	body := eventBody("item-1", "First", "20251006T100000Z", "20251006T110000Z")

	rec := doRequest(h, http.MethodPut, path, body, true,
		map[string]string{HeaderIfNoneMatch: "*"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(h, http.MethodPut, path, body, true,
		map[string]string{HeaderIfNoneMatch: "*"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestPutMalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodPut, "/dav/alice/work/item-1.ics",
		"this is not icalendar", true, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutUnknownCollection(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodPut, "/dav/alice/nope/item-1.ics",
		eventBody("item-1", "First", "20251006T100000Z", "20251006T110000Z"), true, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutOnCollection(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodPut, "/dav/alice/work", "", true, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetMissingItem(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/dav/alice/work/nope.ics", "", true, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	h, _, _ := newTestHandler(t)
	path := "/dav/alice/work/item-1.ics"

	rec := doRequest(h, http.MethodPut, path,
		eventBody("item-1", "First", "20251006T100000Z", "20251006T110000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(h, http.MethodDelete, path, "", true, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(h, http.MethodDelete, path, "", true, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h, http.MethodGet, path, "", true, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptions(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodOptions, "/dav/alice/work", "", true, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(HeaderDAV), "calendar-access")
	assert.Contains(t, rec.Header().Get(HeaderAllow), "REPORT")
}

func TestUnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, "PATCH", "/dav/alice/work/item-1.ics", "", true, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPropfindCollection(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for _, uid := range []string{"item-1", "item-2"} {
		rec := doRequest(h, http.MethodPut, "/dav/alice/work/"+uid+".ics",
			eventBody(uid, "Event "+uid, "20251006T100000Z", "20251006T110000Z"), true, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(h, "PROPFIND", "/dav/alice/work/", "", true,
		map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "<D:href>/dav/alice/work/</D:href>")
	assert.Contains(t, body, "<D:href>/dav/alice/work/item-1.ics</D:href>")
	assert.Contains(t, body, "<D:href>/dav/alice/work/item-2.ics</D:href>")
	assert.Contains(t, body, "<D:displayname>Work</D:displayname>")
	assert.Contains(t, body, "<C:calendar/>")
	assert.Contains(t, body, "getetag")
}

func TestPropfindCollectionDepthZero(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodPut, "/dav/alice/work/item-1.ics",
		eventBody("item-1", "Event", "20251006T100000Z", "20251006T110000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(h, "PROPFIND", "/dav/alice/work/", "", true,
		map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.NotContains(t, rec.Body.String(), "item-1.ics")
}

func TestPropfindObject(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodPut, "/dav/alice/work/item-1.ics",
		eventBody("item-1", "Event", "20251006T100000Z", "20251006T110000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	etag := rec.Header().Get(HeaderETag)

	propfindBody := `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><D:nonexistent/><C:calendar-data/></D:prop>
</D:propfind>`
	rec = doRequest(h, "PROPFIND", "/dav/alice/work/item-1.ics", propfindBody, true, nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, etag)
	assert.Contains(t, body, "HTTP/1.1 404 Not Found")
	assert.Contains(t, body, "nonexistent")
	// Unresolved CalDAV-namespace props keep their namespace in the echo.
	assert.Contains(t, body, "<C:calendar-data/>")
}

func TestReportCalendarQueryTimeRange(t *testing.T) {
	h, _, _ := newTestHandler(t)

	// Recurring through October.
	octBody := strings.Replace(
		eventBody("oct-item", "October", "20251001T090000Z", "20251001T100000Z"),
		"END:VEVENT", "RRULE:FREQ=DAILY;COUNT=7\r\nEND:VEVENT", 1)
	rec := doRequest(h, http.MethodPut, "/dav/alice/work/oct-item.ics", octBody, true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(h, http.MethodPut, "/dav/alice/work/dec-item.ics",
		eventBody("dec-item", "December", "20251224T090000Z", "20251224T100000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	reportBody := `<?xml version="1.0"?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="20251001T000000Z" end="20251101T000000Z"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`
	rec = doRequest(h, "REPORT", "/dav/alice/work/", reportBody, true, nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "oct-item.ics")
	assert.NotContains(t, body, "dec-item.ics")
	assert.Contains(t, body, "BEGIN:VCALENDAR", "calendar-data is inlined")
	assert.Contains(t, body, "getetag")
}

func TestReportMultiget(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, http.MethodPut, "/dav/alice/work/item-1.ics",
		eventBody("item-1", "Event", "20251006T100000Z", "20251006T110000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	reportBody := `<?xml version="1.0"?>
<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <D:href>/dav/alice/work/item-1.ics</D:href>
  <D:href>/dav/alice/work/ghost.ics</D:href>
</C:calendar-multiget>`
	rec = doRequest(h, "REPORT", "/dav/alice/work/", reportBody, true, nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "item-1.ics")
	assert.Contains(t, body, "SUMMARY:Event")
	assert.Contains(t, body, "<D:href>/dav/alice/work/ghost.ics</D:href>")
	assert.Contains(t, body, "HTTP/1.1 404 Not Found")
}

func TestReportFreeBusyRefused(t *testing.T) {
	h, _, _ := newTestHandler(t)

	reportBody := `<?xml version="1.0"?>
<C:free-busy-query xmlns:C="urn:ietf:params:xml:ns:caldav">
  <C:time-range start="20251001T000000Z" end="20251002T000000Z"/>
</C:free-busy-query>`
	rec := doRequest(h, "REPORT", "/dav/alice/work/", reportBody, true, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReportOnObject(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(h, "REPORT", "/dav/alice/work/item-1.ics", "<x/>", true, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStorageFailureIsServerError(t *testing.T) {
	mockStore := &storage.MockStorage{}
	mockStore.On("AuthUser", "alice", "s3cret").
		Return(&model.User{Username: "alice"}, nil)
	mockStore.On("FindCalendar", "alice", "work").
		Return(nil, errors.New("disk on fire"))

	h := NewHandler("/dav/", "test", mockStore, testLogger())
	rec := doRequest(h, http.MethodGet, "/dav/alice/work/item-1.ics", "", true, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	mockStore.AssertExpectations(t)
}

func TestAuthLookupFailureIsServerError(t *testing.T) {
	mockStore := &storage.MockStorage{}
	mockStore.On("AuthUser", "alice", "s3cret").
		Return(nil, errors.New("disk on fire"))

	// A backend failure must not masquerade as bad credentials.
	h := NewHandler("/dav/", "test", mockStore, testLogger())
	rec := doRequest(h, http.MethodGet, "/dav/alice/work/item-1.ics", "", true, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	mockStore.AssertExpectations(t)
}

func TestRealmHeaderSanitized(t *testing.T) {
	store := memory.New()
	h := NewHandler("/dav/", "cal\r\nendar", store, testLogger())

	rec := doRequest(h, http.MethodGet, "/dav/alice/work/item-1.ics", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := rec.Header().Get("WWW-Authenticate")
	assert.NotContains(t, challenge, "\n")
	assert.Contains(t, challenge, "calendar")
}

func TestETagUnchangedByReimport(t *testing.T) {
	h, _, _ := newTestHandler(t)
	path := "/dav/alice/work/item-1.ics"

	rec := doRequest(h, http.MethodPut, path,
		eventBody("item-1", "Stable", "20251006T100000Z", "20251006T110000Z"), true, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	etag := rec.Header().Get(HeaderETag)

	// Round trip the item through GET and PUT it back unchanged.
	rec = doRequest(h, http.MethodGet, path, "", true, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, http.MethodPut, path, rec.Body.String(), true, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, etag, rec.Header().Get(HeaderETag), "re-importing identical content keeps the tag")
}
