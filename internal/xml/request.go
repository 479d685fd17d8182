package xml

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
)

// PropfindRequest is a parsed PROPFIND body. An empty body is treated as
// allprop, which is what RFC 4918 prescribes.
type PropfindRequest struct {
	Prop      []string
	AllProp   bool
	PropNames bool
}

// ParsePropfind reads a PROPFIND request body. A zero-length body yields
// an allprop request.
func ParsePropfind(doc *etree.Document) (*PropfindRequest, error) {
	req := &PropfindRequest{}
	if doc == nil || doc.Root() == nil {
		req.AllProp = true
		return req, nil
	}

	root := doc.Root()
	if root.Tag != "propfind" {
		return nil, fmt.Errorf("unexpected root element %q", root.Tag)
	}

	if prop := root.SelectElement("prop"); prop != nil {
		for _, p := range prop.ChildElements() {
			req.Prop = append(req.Prop, p.Tag)
		}
	}
	if root.SelectElement("allprop") != nil {
		req.AllProp = true
	}
	if root.SelectElement("propname") != nil {
		req.PropNames = true
	}
	if len(req.Prop) == 0 && !req.PropNames {
		req.AllProp = true
	}
	return req, nil
}

// TimeRange is the half-open window of a calendar-query time-range filter.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// CalendarQuery is a parsed calendar-query REPORT.
type CalendarQuery struct {
	Props     []string
	TimeRange *TimeRange
}

// CalendarMultiget is a parsed calendar-multiget REPORT.
type CalendarMultiget struct {
	Props []string
	Hrefs []string
}

// ReportRequest is a parsed REPORT body. Exactly one of the fields is
// non-nil after a successful parse; free-busy-query sets FreeBusy so the
// handler can refuse it explicitly instead of claiming a malformed body.
type ReportRequest struct {
	Query    *CalendarQuery
	MultiGet *CalendarMultiget
	FreeBusy bool
}

// ParseReport reads a REPORT request body.
func ParseReport(doc *etree.Document) (*ReportRequest, error) {
	if doc == nil || doc.Root() == nil {
		return nil, fmt.Errorf("empty document")
	}

	root := doc.Root()
	req := &ReportRequest{}
	switch root.Tag {
	case "calendar-query":
		query, err := parseCalendarQuery(root)
		if err != nil {
			return nil, err
		}
		req.Query = query
	case "calendar-multiget":
		req.MultiGet = parseCalendarMultiget(root)
	case "free-busy-query":
		req.FreeBusy = true
	default:
		return nil, fmt.Errorf("unsupported report type %q", root.Tag)
	}
	return req, nil
}

func parseCalendarQuery(root *etree.Element) (*CalendarQuery, error) {
	query := &CalendarQuery{Props: parseProps(root)}

	filter := root.SelectElement("filter")
	if filter == nil {
		return query, nil
	}
	// The interesting filter is the time-range on the innermost
	// comp-filter; component names are not used to narrow results because
	// every stored item encodes as a VEVENT.
	for comp := filter.SelectElement("comp-filter"); comp != nil; comp = comp.SelectElement("comp-filter") {
		tr := comp.SelectElement("time-range")
		if tr == nil {
			continue
		}
		parsed := &TimeRange{}
		if raw := tr.SelectAttrValue("start", ""); raw != "" {
			t, err := time.Parse(UTCTimeLayout, raw)
			if err != nil {
				return nil, fmt.Errorf("bad time-range start %q: %w", raw, err)
			}
			parsed.Start = &t
		}
		if raw := tr.SelectAttrValue("end", ""); raw != "" {
			t, err := time.Parse(UTCTimeLayout, raw)
			if err != nil {
				return nil, fmt.Errorf("bad time-range end %q: %w", raw, err)
			}
			parsed.End = &t
		}
		query.TimeRange = parsed
	}
	return query, nil
}

func parseCalendarMultiget(root *etree.Element) *CalendarMultiget {
	mg := &CalendarMultiget{Props: parseProps(root)}
	for _, href := range root.SelectElements("href") {
		mg.Hrefs = append(mg.Hrefs, href.Text())
	}
	return mg
}

func parseProps(root *etree.Element) []string {
	prop := root.SelectElement("prop")
	if prop == nil {
		return nil
	}
	var names []string
	for _, p := range prop.ChildElements() {
		names = append(names, p.Tag)
	}
	return names
}
