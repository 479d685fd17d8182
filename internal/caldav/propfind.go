package caldav

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"taskdav/internal/ics"
	"taskdav/internal/model"
	"taskdav/internal/xml"
)

// propResolver produces one property value, or an error when the property
// does not exist on the resource.
type propResolver func() mo.Result[xml.Property]

// errPropAbsent marks a known property with no value on this resource.
var errPropAbsent = errors.New("property absent")

// handlePropfind answers property queries on principals, collections and
// items. Depth 1 on a collection also lists its items.
func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, res *resource) {
	req, ok := h.readPropfindBody(w, r)
	if !ok {
		return
	}

	var resp xml.MultistatusResponse
	switch res.Kind {
	case resourcePrincipal:
		resolvers := principalResolvers(res.Owner)
		resp.Responses = append(resp.Responses,
			buildResponse(h.prefix+res.Owner+"/", req, resolvers))

	case resourceCollection:
		cal, err := h.store.FindCalendar(r.Context(), res.Owner, res.Slug)
		if err != nil {
			h.storageError(w, "find calendar", err)
			return
		}
		resp.Responses = append(resp.Responses,
			buildResponse(h.collectionHref(res), req, collectionResolvers(cal)))

		if r.Header.Get("Depth") != "0" {
			tasks, err := h.store.ListTasks(r.Context(), cal.ID)
			if err != nil {
				h.storageError(w, "list tasks", err)
				return
			}
			sort.Slice(tasks, func(i, j int) bool { return tasks[i].UID < tasks[j].UID })
			for _, task := range tasks {
				resp.Responses = append(resp.Responses,
					buildResponse(h.hrefFor(res, task.UID), req, objectResolvers(task)))
			}
		}

	case resourceObject:
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
		resp.Responses = append(resp.Responses,
			buildResponse(h.hrefFor(res, task.UID), req, objectResolvers(task)))
	}

	h.writeMultistatus(w, &resp)
}

// readPropfindBody parses the request body. An empty body is a legal
// allprop request; a present but unparseable one is a client error.
func (h *Handler) readPropfindBody(w http.ResponseWriter, r *http.Request) (*xml.PropfindRequest, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}

	var doc *etree.Document
	if len(bytes.TrimSpace(body)) > 0 {
		doc = etree.NewDocument()
		if err := doc.ReadFromBytes(body); err != nil {
			h.logger.Warn("failed to parse PROPFIND body", "error", err)
			http.Error(w, "Malformed request body", http.StatusBadRequest)
			return nil, false
		}
	}

	req, err := xml.ParsePropfind(doc)
	if err != nil {
		h.logger.Warn("invalid PROPFIND body", "error", err)
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return nil, false
	}
	return req, true
}

func (h *Handler) writeMultistatus(w http.ResponseWriter, resp *xml.MultistatusResponse) {
	doc := resp.ToXML()
	w.Header().Set(HeaderContentType, MimeTypeXML)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := doc.WriteTo(w); err != nil {
		h.logger.Warn("failed to write multistatus body", "error", err)
	}
}

// buildResponse resolves the requested properties against the resource's
// resolver set and splits them into found and not-found groups.
func buildResponse(href string, req *xml.PropfindRequest, resolvers map[string]propResolver) xml.Response {
	requested := req.Prop
	if req.AllProp || req.PropNames {
		requested = make([]string, 0, len(resolvers))
		for name := range resolvers {
			requested = append(requested, name)
		}
		sort.Strings(requested)
	}

	var found, missing []xml.Property
	for _, name := range requested {
		resolver, ok := resolvers[name]
		if !ok {
			missing = append(missing, xml.Property{Name: name, Namespace: xml.PropNamespace(name)})
			continue
		}
		if req.PropNames {
			found = append(found, xml.Property{Name: name, Namespace: xml.PropNamespace(name)})
			continue
		}
		result := resolver()
		if prop, err := result.Get(); err == nil {
			found = append(found, prop)
		} else {
			missing = append(missing, xml.Property{Name: name, Namespace: xml.PropNamespace(name)})
		}
	}

	resp := xml.Response{Href: href}
	if len(found) > 0 {
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: found, Status: xml.StatusOK})
	}
	if len(missing) > 0 {
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: missing, Status: xml.StatusNotFound})
	}
	return resp
}

func principalResolvers(owner string) map[string]propResolver {
	return map[string]propResolver{
		"resourcetype": func() mo.Result[xml.Property] {
			return mo.Ok(xml.Property{
				Name:     "resourcetype",
				Children: []xml.Property{{Name: "collection"}},
			})
		},
		"displayname": func() mo.Result[xml.Property] {
			return mo.Ok(xml.Property{Name: "displayname", TextContent: owner})
		},
	}
}

func collectionResolvers(cal *model.Calendar) map[string]propResolver {
	return map[string]propResolver{
		"resourcetype": func() mo.Result[xml.Property] {
			return mo.Ok(xml.Property{
				Name: "resourcetype",
				Children: []xml.Property{
					{Name: "collection"},
					{Name: "calendar", Namespace: xml.CalDAV},
				},
			})
		},
		"displayname": func() mo.Result[xml.Property] {
			if cal.DisplayName == "" {
				return mo.Err[xml.Property](errPropAbsent)
			}
			return mo.Ok(xml.Property{Name: "displayname", TextContent: cal.DisplayName})
		},
		"supported-calendar-component-set": func() mo.Result[xml.Property] {
			return mo.Ok(xml.Property{
				Name:      "supported-calendar-component-set",
				Namespace: xml.CalDAV,
				Children: []xml.Property{
					{Name: "comp", Namespace: xml.CalDAV, Attributes: map[string]string{"name": "VEVENT"}},
					{Name: "comp", Namespace: xml.CalDAV, Attributes: map[string]string{"name": "VTODO"}},
				},
			})
		},
	}
}

func objectResolvers(task *model.Task) map[string]propResolver {
	return map[string]propResolver{
		"getetag": func() mo.Result[xml.Property] {
			return mo.Ok(xml.Property{Name: "getetag", TextContent: quoteETag(ics.ETag(task))})
		},
		"getcontenttype": func() mo.Result[xml.Property] {
			return mo.Ok(xml.Property{Name: "getcontenttype", TextContent: MimeTypeCalendar})
		},
		"resourcetype": func() mo.Result[xml.Property] {
			// Items are not collections; an empty resourcetype says so.
			return mo.Ok(xml.Property{Name: "resourcetype"})
		},
	}
}
