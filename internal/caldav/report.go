package caldav

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"

	"taskdav/internal/ics"
	"taskdav/internal/model"
	"taskdav/internal/xml"
)

// Window edges used when a time-range filter leaves a side open.
var (
	distantPast   = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	distantFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// handleReport answers calendar-query and calendar-multiget REPORTs on a
// collection.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, res *resource) {
	if res.Kind != resourceCollection {
		http.Error(w, "Method not allowed on this resource", http.StatusMethodNotAllowed)
		return
	}

	cal, err := h.store.FindCalendar(r.Context(), res.Owner, res.Slug)
	if err != nil {
		h.storageError(w, "find calendar", err)
		return
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r.Body); err != nil {
		h.logger.Warn("failed to parse REPORT body", "error", err)
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	req, err := xml.ParseReport(doc)
	if err != nil {
		h.logger.Warn("invalid REPORT body", "error", err)
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}
	if req.FreeBusy {
		// Refused explicitly so clients see an unsupported feature, not a
		// parse failure.
		http.Error(w, "free-busy-query is not supported", http.StatusForbidden)
		return
	}

	var resp *xml.MultistatusResponse
	if req.MultiGet != nil {
		resp = h.reportMultiget(r.Context(), cal, res, req.MultiGet)
	} else {
		resp, err = h.reportQuery(r.Context(), cal, res, req.Query)
		if err != nil {
			h.storageError(w, "list tasks", err)
			return
		}
	}
	h.writeMultistatus(w, resp)
}

// reportQuery lists the collection's items, narrowed by the time-range
// filter when one is present. Recurring series match when any occurrence
// intersects the window. Items that fail to expand or encode are skipped
// with a log line rather than failing the whole report.
func (h *Handler) reportQuery(ctx context.Context, cal *model.Calendar, res *resource, query *xml.CalendarQuery) (*xml.MultistatusResponse, error) {
	tasks, err := h.store.ListTasks(ctx, cal.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UID < tasks[j].UID })

	resp := &xml.MultistatusResponse{}
	for _, task := range tasks {
		if query.TimeRange != nil {
			from, to := windowEdges(query.TimeRange)
			match, err := h.engine.HasOccurrenceInRange(task, from, to)
			if err != nil {
				h.logger.Warn("skipping item with unexpandable recurrence",
					"uid", task.UID,
					"rule", task.RRule,
					"error", err)
				continue
			}
			if !match {
				continue
			}
		}
		response, ok := h.itemReportResponse(res, task, query.Props)
		if !ok {
			continue
		}
		resp.Responses = append(resp.Responses, response)
	}
	return resp, nil
}

// reportMultiget fetches the named hrefs. Unknown or foreign hrefs get a
// per-href 404 so one stale reference doesn't poison the batch.
func (h *Handler) reportMultiget(ctx context.Context, cal *model.Calendar, res *resource, mg *xml.CalendarMultiget) *xml.MultistatusResponse {
	resp := &xml.MultistatusResponse{}
	for _, href := range mg.Hrefs {
		target, err := parseResource(strings.TrimPrefix(href, h.prefix))
		if err != nil || target.Kind != resourceObject ||
			target.Owner != res.Owner || target.Slug != res.Slug {
			resp.Responses = append(resp.Responses,
				xml.Response{Href: href, Status: xml.StatusNotFound})
			continue
		}

		task, err := h.store.FindTask(ctx, cal.ID, target.ItemID)
		if err != nil {
			resp.Responses = append(resp.Responses,
				xml.Response{Href: href, Status: xml.StatusNotFound})
			continue
		}
		response, ok := h.itemReportResponse(res, task, mg.Props)
		if !ok {
			resp.Responses = append(resp.Responses,
				xml.Response{Href: href, Status: xml.StatusNotFound})
			continue
		}
		resp.Responses = append(resp.Responses, response)
	}
	return resp
}

// itemReportResponse builds one item's report entry carrying the
// requested properties. When no props were named, getetag and
// calendar-data are returned.
func (h *Handler) itemReportResponse(res *resource, task *model.Task, props []string) (xml.Response, bool) {
	if len(props) == 0 {
		props = []string{"getetag", "calendar-data"}
	}

	var found, missing []xml.Property
	for _, name := range props {
		switch name {
		case "getetag":
			found = append(found, xml.Property{
				Name:        "getetag",
				TextContent: quoteETag(ics.ETag(task)),
			})
		case "calendar-data":
			body, err := h.codec.EncodeTaskString(task, res.Owner)
			if err != nil {
				h.logger.Warn("skipping item that failed to encode",
					"uid", task.UID,
					"error", err)
				return xml.Response{}, false
			}
			found = append(found, xml.Property{
				Name:        "calendar-data",
				Namespace:   xml.CalDAV,
				TextContent: body,
			})
		default:
			missing = append(missing, xml.Property{Name: name, Namespace: xml.PropNamespace(name)})
		}
	}

	resp := xml.Response{Href: h.hrefFor(res, task.UID)}
	if len(found) > 0 {
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: found, Status: xml.StatusOK})
	}
	if len(missing) > 0 {
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: missing, Status: xml.StatusNotFound})
	}
	return resp, true
}

func windowEdges(tr *xml.TimeRange) (from, to time.Time) {
	from, to = distantPast, distantFuture
	if tr.Start != nil {
		from = *tr.Start
	}
	if tr.End != nil {
		to = *tr.End
	}
	return from, to
}
