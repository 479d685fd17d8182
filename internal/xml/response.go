package xml

import "github.com/beevik/etree"

// Property is one element inside a propstat prop block.
type Property struct {
	Name        string
	Namespace   string
	TextContent string
	Attributes  map[string]string
	Children    []Property
}

// PropStat groups properties sharing one status line.
type PropStat struct {
	Props  []Property
	Status string
}

// Response describes one resource inside a multistatus document. Status is
// used for per-href failures (multiget of a missing item); otherwise
// PropStats carries the found and not-found property groups.
type Response struct {
	Href      string
	Status    string
	PropStats []PropStat
}

// MultistatusResponse is a 207 Multi-Status document.
type MultistatusResponse struct {
	Responses []Response
}

// StatusOK and StatusNotFound are the propstat status lines.
const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 Not Found"
)

// ToXML renders the multistatus document with D and C prefixes declared on
// the root.
func (m *MultistatusResponse) ToXML() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("D:multistatus")
	AddNamespaces(doc)

	for _, resp := range m.Responses {
		respElem := root.CreateElement("D:response")
		respElem.CreateElement("D:href").SetText(resp.Href)

		if resp.Status != "" {
			respElem.CreateElement("D:status").SetText(resp.Status)
			continue
		}
		for _, ps := range resp.PropStats {
			psElem := respElem.CreateElement("D:propstat")
			propElem := psElem.CreateElement("D:prop")
			for _, p := range ps.Props {
				propElem.AddChild(p.toElement())
			}
			psElem.CreateElement("D:status").SetText(ps.Status)
		}
	}
	return doc
}

func (p *Property) toElement() *etree.Element {
	elem := etree.NewElement(p.Name)
	switch p.Namespace {
	case CalDAV:
		elem.Space = "C"
	default:
		elem.Space = "D"
	}
	if p.TextContent != "" {
		elem.SetText(p.TextContent)
	}
	for key, value := range p.Attributes {
		elem.CreateAttr(key, value)
	}
	for _, child := range p.Children {
		elem.AddChild(child.toElement())
	}
	return elem
}
